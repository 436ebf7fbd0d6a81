package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMessage is returned when a message is missing a recipient, a
// subject or a body.
var ErrInvalidMessage = errors.New("mail: invalid message")

// Attachment is a file sent with a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Message is one outbound email. From may be left empty to use the transport
// default.
type Message struct {
	From        string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Validate reports the first structural problem with m.
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: missing subject", ErrInvalidMessage)
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	for i, a := range m.Attachments {
		if a.Filename == "" {
			return fmt.Errorf("%w: attachment %d has no filename", ErrInvalidMessage, i)
		}
	}
	return nil
}

// Transport delivers a message and returns the provider message id.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}
