package passkit

import (
	"context"
	"errors"
	netmail "net/mail"
	"sync"
	"time"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/internal/rate"
	"github.com/MrEthical07/passkit/jwt"
	"github.com/MrEthical07/passkit/metrics"
	"github.com/MrEthical07/passkit/notify"
	"github.com/MrEthical07/passkit/otp"
	"github.com/MrEthical07/passkit/password"
	"github.com/MrEthical07/passkit/session"
	"go.uber.org/zap"
)

const (
	maxEmailLength       = 254
	maxDisplayNameLength = 100
)

// Engine runs the account flows: registration, login, sessions, email
// verification, password reset and email change. Construct it with [New].
// An Engine is safe for concurrent use.
type Engine struct {
	config     Config
	users      UserStore
	sessions   *session.Store
	codes      *otp.Manager
	limiter    *rate.Limiter
	hasher     *password.Argon2
	tokens     *jwt.Manager
	mailer     *notify.Producer
	sink       events.Sink
	dispatcher *events.Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Close flushes buffered events. The Redis client, user store and queue belong
// to the caller and are left open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.dispatcher.Close()
}

// EventSink returns the sink the engine emits through, so queue producers and
// workers can share it.
func (e *Engine) EventSink() events.Sink {
	return e.sink
}

// EventsDropped reports events discarded because the async buffer was full.
func (e *Engine) EventsDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// MetricsSnapshot returns the current counters. All zero when metrics are
// disabled.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	if e == nil {
		return (*metrics.Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// SessionTTL is the sliding session lifetime.
func (e *Engine) SessionTTL() time.Duration {
	return e.sessions.TTL()
}

func (e *Engine) emit(ctx context.Context, ev events.Event) {
	events.Emit(ctx, e.sink, ev)
}

// unavailable wraps a dependency failure unless it is a context error, which
// callers want to see unchanged.
func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ErrUnavailable.with(err)
}

func normalizeEmail(raw string) (string, error) {
	email := otp.NormalizeEmail(raw)
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidInput
	}
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidInput
	}
	return email, nil
}

func validLocale(locale string) bool {
	switch locale {
	case LocaleEN, LocaleFR, LocaleDE:
		return true
	}
	return false
}

// codeError maps a failed verification to the error callers see. Wrong,
// expired and missing codes all look the same.
func codeError(res otp.Result) error {
	if res.Reason == otp.ReasonTooManyAttempts {
		return ErrTooManyAttempts
	}
	return ErrInvalidCode
}

// checkResend spends one unit of the resend budget for scope and subject.
func (e *Engine) checkResend(ctx context.Context, scope otp.Scope, subject string) error {
	ok, err := e.codes.CheckResendLimit(ctx, scope, subject, e.config.OTP.ResendMax, e.config.OTP.ResendWindow)
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// equalizeMissingUser burns a hash verification so an unknown email costs
// about as much as a wrong password.
func (e *Engine) equalizeMissingUser(plaintext string) {
	e.dummyOnce.Do(func() {
		hash, err := e.hasher.Hash("passkit-missing-user-placeholder")
		if err != nil {
			e.logger.Warn("dummy hash unavailable", zap.Error(err))
			return
		}
		e.dummyHash = hash
	})
	if e.dummyHash != "" {
		_, _ = e.hasher.Verify(plaintext, e.dummyHash)
	}
}
