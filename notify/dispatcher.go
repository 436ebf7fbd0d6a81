package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrEthical07/passkit/mail"
	"github.com/MrEthical07/passkit/queue"
	"go.uber.org/zap"
)

// MaxAttachmentSize caps decoded attachment content.
const MaxAttachmentSize = 10 << 20

// DispatcherOption customises a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSender sets the From address used for every message.
func WithSender(from string) DispatcherOption {
	return func(d *Dispatcher) {
		d.from = from
	}
}

// WithAttachmentDir restricts path attachments to files under dir.
func WithAttachmentDir(dir string) DispatcherOption {
	return func(d *Dispatcher) {
		d.attachmentDir = filepath.Clean(dir)
	}
}

// Dispatcher sends email jobs. It implements [queue.Handler].
type Dispatcher struct {
	transport     mail.Transport
	renderer      *Renderer
	from          string
	attachmentDir string
	logger        *zap.Logger
}

// NewDispatcher returns a handler that renders with r and sends through t.
func NewDispatcher(t mail.Transport, r *Renderer, opts ...DispatcherOption) (*Dispatcher, error) {
	if t == nil {
		return nil, errors.New("notify: transport is required")
	}
	if r == nil {
		return nil, errors.New("notify: renderer is required")
	}
	d := &Dispatcher{transport: t, renderer: r, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Handle renders and sends one job. Bad payloads and unknown job types fail
// terminally; transport errors are retried when [mail.IsTransient] says so.
func (d *Dispatcher) Handle(ctx context.Context, job *queue.Job) error {
	log := d.logger.With(zap.String("job_id", job.ID), zap.String("job_type", job.Type))

	if !knownJobType(job.Type) {
		log.Warn("no handler for email job")
		return queue.TerminalError(fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type))
	}

	var p Payload
	if err := job.Decode(&p); err != nil {
		return queue.TerminalError(err)
	}
	if err := p.validate(job.Type); err != nil {
		return queue.TerminalError(err)
	}

	rendered, err := d.renderer.Render(job.Type, p)
	if err != nil {
		return queue.TerminalError(err)
	}

	msg := mail.Message{
		From:    d.from,
		To:      p.To,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	}
	if p.Attachment != nil {
		a, err := d.loadAttachment(*p.Attachment)
		if err != nil {
			log.Error("email attachment unusable", zap.Error(err))
			return queue.TerminalError(err)
		}
		msg.Attachments = []mail.Attachment{a}
	}

	id, err := d.transport.Send(ctx, msg)
	if err != nil {
		if mail.IsTransient(err) {
			log.Warn("transient email error", zap.Error(err))
			return queue.RetryableError(err)
		}
		log.Error("permanent email error", zap.Error(err))
		return queue.TerminalError(err)
	}
	log.Info("email sent", zap.String("message_id", id))
	return nil
}

func (d *Dispatcher) loadAttachment(spec AttachmentSpec) (mail.Attachment, error) {
	a := mail.Attachment{Filename: spec.Filename, ContentType: spec.ContentType}

	if spec.Base64 != "" {
		content, err := base64.StdEncoding.DecodeString(spec.Base64)
		if err != nil {
			return a, fmt.Errorf("notify: attachment base64 decode failed: %w", err)
		}
		if len(content) > MaxAttachmentSize {
			return a, fmt.Errorf("notify: attachment %s exceeds %d bytes", spec.Filename, MaxAttachmentSize)
		}
		a.Content = content
		return a, nil
	}

	path := filepath.Clean(spec.Path)
	if d.attachmentDir != "" {
		rel, err := filepath.Rel(d.attachmentDir, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return a, fmt.Errorf("notify: attachment path %q is outside %s", spec.Path, d.attachmentDir)
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return a, fmt.Errorf("notify: attachment read failed: %w", err)
	}
	if info.Size() > MaxAttachmentSize {
		return a, fmt.Errorf("notify: attachment %s exceeds %d bytes", spec.Filename, MaxAttachmentSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return a, fmt.Errorf("notify: attachment read failed: %w", err)
	}
	a.Content = content
	return a, nil
}
