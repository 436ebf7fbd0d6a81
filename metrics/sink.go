package metrics

import (
	"context"

	"github.com/MrEthical07/passkit/events"
)

var eventCounters = map[string]ID{
	events.UserRegistered:       UserRegistered,
	events.LoginSucceeded:       LoginSuccess,
	events.LoginFailed:          LoginFailure,
	events.LoginThrottled:       LoginThrottled,
	events.Logout:               Logout,
	events.SessionCreated:       SessionCreated,
	events.SessionDeleted:       SessionDeleted,
	events.SessionRevokedAll:    SessionRevokedAll,
	events.SessionTouchFailed:   SessionTouchFailed,
	events.OTPIssued:            OTPIssued,
	events.OTPVerified:          OTPVerified,
	events.OTPRejected:          OTPRejected,
	events.OTPLocked:            OTPLocked,
	events.OTPResendLimited:     OTPResendLimited,
	events.EmailVerified:        EmailVerified,
	events.PasswordResetRequest: PasswordResetRequested,
	events.PasswordResetDone:    PasswordResetCompleted,
	events.EmailChangeRequested: EmailChangeRequested,
	events.EmailChangeConfirmed: EmailChangeConfirmed,
	events.JobEnqueued:          JobEnqueued,
	events.JobCompleted:         JobCompleted,
	events.JobRetryScheduled:    JobRetried,
	events.JobFailed:            JobFailed,
	events.JobStalled:           JobStalled,
	events.JobLeaseLost:         JobLeaseLost,
}

// Sink counts events. Put it in an [events.Multi] next to the log sink.
type Sink struct {
	m *Metrics
}

// NewSink returns a sink that feeds m.
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

func (s *Sink) Emit(_ context.Context, ev events.Event) {
	if s == nil || s.m == nil {
		return
	}
	if id, ok := eventCounters[ev.Type]; ok {
		s.m.Inc(id)
	}
	switch ev.Type {
	case events.JobCompleted, events.JobRetryScheduled:
		s.m.ObserveJob(ev.Duration)
	case events.JobFailed:
		// stall failures carry no handler duration
		if ev.Duration > 0 {
			s.m.ObserveJob(ev.Duration)
		}
	}
}

// Source is what exporters read.
type Source interface {
	MetricsSnapshot() Snapshot
	EventsDropped() uint64
}

type source struct {
	m       *Metrics
	dropped func() uint64
}

// NewSource adapts m to [Source]. dropped may be nil.
func NewSource(m *Metrics, dropped func() uint64) Source {
	return source{m: m, dropped: dropped}
}

func (s source) MetricsSnapshot() Snapshot {
	return s.m.Snapshot()
}

func (s source) EventsDropped() uint64 {
	if s.dropped == nil {
		return 0
	}
	return s.dropped()
}
