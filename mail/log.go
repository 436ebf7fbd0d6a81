package mail

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTransport logs messages instead of sending them. It keeps the most recent
// messages so a development server can show the last code that was mailed.
type LogTransport struct {
	logger *zap.Logger
	keep   int

	mu   sync.Mutex
	sent []Message
}

// NewLogTransport returns a transport that remembers up to keep messages.
func NewLogTransport(logger *zap.Logger, keep int) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keep < 0 {
		keep = 0
	}
	return &LogTransport{logger: logger, keep: keep}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := "<" + uuid.NewString() + "@passkit.local>"
	t.logger.Info("mail (log transport)",
		zap.String("message_id", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
		zap.Int("attachments", len(msg.Attachments)),
	)

	if t.keep > 0 {
		t.mu.Lock()
		t.sent = append(t.sent, msg)
		if len(t.sent) > t.keep {
			t.sent = append([]Message(nil), t.sent[len(t.sent)-t.keep:]...)
		}
		t.mu.Unlock()
	}
	return id, nil
}

// Sent returns a copy of the remembered messages, oldest first.
func (t *LogTransport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.sent...)
}
