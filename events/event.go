package events

import (
	"context"
	"time"
)

// Event types emitted by passkit components.
const (
	SessionCreated     = "session.created"
	SessionDeleted     = "session.deleted"
	SessionRevokedAll  = "session.revoked_all"
	SessionTouchFailed = "session.touch_failed"

	OTPIssued        = "otp.issued"
	OTPVerified      = "otp.verified"
	OTPRejected      = "otp.rejected"
	OTPLocked        = "otp.locked"
	OTPResendLimited = "otp.resend_limited"

	JobEnqueued       = "job.enqueued"
	JobActive         = "job.active"
	JobCompleted      = "job.completed"
	JobRetryScheduled = "job.retry_scheduled"
	JobFailed         = "job.failed"
	JobStalled        = "job.stalled"
	JobLeaseLost      = "job.lease_lost"

	UserRegistered       = "user.registered"
	LoginSucceeded       = "login.succeeded"
	LoginFailed          = "login.failed"
	LoginThrottled       = "login.throttled"
	Logout               = "logout"
	EmailVerified        = "email.verified"
	PasswordResetRequest = "password_reset.requested"
	PasswordResetDone    = "password_reset.completed"
	EmailChangeRequested = "email_change.requested"
	EmailChangeConfirmed = "email_change.confirmed"
)

// Event is one structured record. Fields that do not apply to the emitting
// component are left zero.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Queue     string            `json:"queue,omitempty"`
	JobID     string            `json:"job_id,omitempty"`
	JobType   string            `json:"job_type,omitempty"`
	Attempt   int               `json:"attempt,omitempty"`
	Delay     time.Duration     `json:"delay,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Emit stamps the event and forwards it to sink. A nil sink is ignored.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	sink.Emit(ctx, event)
}
