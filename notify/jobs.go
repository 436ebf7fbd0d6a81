package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/passkit/queue"
)

// Job types carried on the email queue.
const (
	JobSendVerificationCode = "send-verification-code"
	JobSendResetCode        = "send-reset-code"
	JobRequestNewEmail      = "request-new-email"
	JobConfirmEmailChange   = "confirm-email-change"
)

// ErrUnknownJobType is returned for job types no template exists for.
var ErrUnknownJobType = errors.New("notify: unknown job type")

// Payload is the body of every email job.
type Payload struct {
	Name       string          `json:"name"`
	To         string          `json:"to"`
	Code       string          `json:"code,omitempty"`
	Attachment *AttachmentSpec `json:"attachment,omitempty"`
}

// AttachmentSpec names one attachment, either inline as base64 or as a path
// readable by the worker. Base64 wins when both are set.
type AttachmentSpec struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Base64      string `json:"base64,omitempty"`
	Path        string `json:"path,omitempty"`
}

func codeRequired(jobType string) bool {
	return jobType != JobConfirmEmailChange
}

func (p Payload) validate(jobType string) error {
	if strings.TrimSpace(p.To) == "" {
		return errors.New("notify: payload has no recipient")
	}
	if codeRequired(jobType) && p.Code == "" {
		return errors.New("notify: payload has no code")
	}
	if a := p.Attachment; a != nil {
		if a.Filename == "" {
			return errors.New("notify: attachment has no filename")
		}
		if a.Base64 == "" && a.Path == "" {
			return errors.New("notify: attachment has no content")
		}
	}
	return nil
}

// Enqueuer is the part of [queue.Queue] the producer uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts ...queue.EnqueueOption) (string, error)
}

// Producer enqueues email jobs.
type Producer struct {
	q Enqueuer
}

// NewProducer wraps q.
func NewProducer(q Enqueuer) *Producer {
	return &Producer{q: q}
}

// Enqueue validates p and enqueues it under jobType.
func (p *Producer) Enqueue(ctx context.Context, jobType string, payload Payload, opts ...queue.EnqueueOption) (string, error) {
	if !knownJobType(jobType) {
		return "", ErrUnknownJobType
	}
	if err := payload.validate(jobType); err != nil {
		return "", err
	}
	return p.q.Enqueue(ctx, jobType, payload, opts...)
}

// SendVerificationCode enqueues the sign-up verification email.
func (p *Producer) SendVerificationCode(ctx context.Context, name, to, code string) (string, error) {
	return p.Enqueue(ctx, JobSendVerificationCode, Payload{Name: name, To: to, Code: code})
}

// SendResetCode enqueues the password reset email.
func (p *Producer) SendResetCode(ctx context.Context, name, to, code string) (string, error) {
	return p.Enqueue(ctx, JobSendResetCode, Payload{Name: name, To: to, Code: code})
}

// RequestNewEmail enqueues the code sent to a new address before it replaces
// the current one.
func (p *Producer) RequestNewEmail(ctx context.Context, name, to, code string) (string, error) {
	return p.Enqueue(ctx, JobRequestNewEmail, Payload{Name: name, To: to, Code: code})
}

// ConfirmEmailChange enqueues the notice that the address was changed.
func (p *Producer) ConfirmEmailChange(ctx context.Context, name, to string) (string, error) {
	return p.Enqueue(ctx, JobConfirmEmailChange, Payload{Name: name, To: to})
}
