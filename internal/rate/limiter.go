package rate

import (
	"context"
	"time"
)

// Config holds login throttle tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

// Limiter throttles failed logins per email and, optionally, per client IP.
type Limiter struct {
	byEmail *Window
	byIP    *Window
	config  Config
}

// New creates a login [Limiter] backed by the given Redis client.
func New(client Client, cfg Config) *Limiter {
	return &Limiter{
		byEmail: NewWindow(client, "rl:login:"),
		byIP:    NewWindow(client, "rl:login-ip:"),
		config:  cfg,
	}
}

// CheckLogin returns [ErrRateLimited] when the email or IP already spent its
// budget in the current window. It does not count as an attempt.
func (l *Limiter) CheckLogin(ctx context.Context, emailHash, ip string) error {
	if err := l.check(ctx, l.byEmail, emailHash); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.check(ctx, l.byIP, ip)
	}
	return nil
}

// IncrementLogin records a failed login attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, emailHash, ip string) error {
	count, err := l.byEmail.Hit(ctx, emailHash, l.config.LoginCooldownDuration)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.byIP.Hit(ctx, ip, l.config.LoginCooldownDuration)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears the failed-login counter after a successful login or a
// password reset. The IP counter is left alone.
func (l *Limiter) ResetLogin(ctx context.Context, emailHash string) error {
	return l.byEmail.Reset(ctx, emailHash)
}

func (l *Limiter) check(ctx context.Context, w *Window, id string) error {
	count, err := w.Count(ctx, id)
	if err != nil {
		return err
	}
	if count >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	return nil
}
