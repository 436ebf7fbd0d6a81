package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// SMTPConfig configures [SMTPTransport].
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the default sender for messages without one.
	From string
	// TLS is one of "mandatory", "opportunistic" or "none".
	TLS     string
	Timeout time.Duration
}

// DefaultSMTPConfig returns a localhost relay on the submission port.
func DefaultSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:    "localhost",
		Port:    587,
		From:    "no-reply@localhost",
		TLS:     "opportunistic",
		Timeout: 15 * time.Second,
	}
}

// Validate reports configuration errors.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return errors.New("mail: SMTP host must be set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("mail: SMTP port out of range")
	}
	if c.From == "" {
		return errors.New("mail: default sender must be set")
	}
	if _, err := tlsPolicy(c.TLS); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		return errors.New("mail: SMTP timeout must be > 0")
	}
	return nil
}

func tlsPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(name) {
	case "", "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "mandatory":
		return gomail.TLSMandatory, nil
	case "none":
		return gomail.NoTLS, nil
	default:
		return 0, fmt.Errorf("mail: unknown TLS policy %q", name)
	}
}

// SMTPTransport sends messages through an SMTP relay. Each Send dials its own
// connection so the transport is safe for concurrent use.
type SMTPTransport struct {
	cfg    SMTPConfig
	opts   []gomail.Option
	logger *zap.Logger
}

// NewSMTPTransport validates cfg and prepares the client options.
func NewSMTPTransport(cfg SMTPConfig, logger *zap.Logger) (*SMTPTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy, _ := tlsPolicy(cfg.TLS)

	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(policy),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return &SMTPTransport{cfg: cfg, opts: opts, logger: logger}, nil
}

// Send delivers msg and returns its Message-ID header.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	m, err := t.build(msg)
	if err != nil {
		return "", err
	}

	client, err := gomail.NewClient(t.cfg.Host, t.opts...)
	if err != nil {
		return "", fmt.Errorf("mail: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return "", fmt.Errorf("mail: send to %s: %w", t.cfg.Host, err)
	}

	var id string
	if ids := m.GetGenHeader(gomail.HeaderMessageID); len(ids) > 0 {
		id = ids[0]
	}
	t.logger.Debug("mail sent", zap.String("message_id", id), zap.Int("attachments", len(msg.Attachments)))
	return id, nil
}

func (t *SMTPTransport) build(msg Message) (*gomail.Msg, error) {
	from := msg.From
	if from == "" {
		from = t.cfg.From
	}

	m := gomail.NewMsg()
	if err := m.From(from); err != nil {
		return nil, fmt.Errorf("%w: sender: %v", ErrInvalidMessage, err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", ErrInvalidMessage, err)
	}
	m.Subject(msg.Subject)
	m.SetMessageID()
	m.SetDate()

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTML)
	case msg.HTML != "":
		m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	default:
		m.SetBodyString(gomail.TypeTextPlain, msg.Text)
	}

	for _, a := range msg.Attachments {
		var fileOpts []gomail.FileOption
		if a.ContentType != "" {
			fileOpts = append(fileOpts, gomail.WithFileContentType(gomail.ContentType(a.ContentType)))
		}
		if err := m.AttachReader(a.Filename, bytes.NewReader(a.Content), fileOpts...); err != nil {
			return nil, fmt.Errorf("%w: attachment %s: %v", ErrInvalidMessage, a.Filename, err)
		}
	}
	return m, nil
}
