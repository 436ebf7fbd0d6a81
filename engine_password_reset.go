package passkit

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/otp"
	"go.uber.org/zap"
)

// RequestPasswordReset queues a reset code for the account behind email. The
// resend budget is spent for every call; unknown addresses return nil without
// sending anything.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e.users == nil || e.mailer == nil {
		return ErrEngineNotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := e.checkResend(ctx, otp.ScopePasswordReset, email); err != nil {
		return err
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return unavailable(err)
	}

	code, err := e.codes.IssueCode(ctx, otp.ScopePasswordReset, user.Email, e.config.OTP.CodeTTL)
	if err != nil {
		return unavailable(err)
	}
	if _, err := e.mailer.SendResetCode(ctx, user.DisplayName, user.Email, code); err != nil {
		return unavailable(err)
	}

	e.emit(ctx, events.Event{
		Type:    events.PasswordResetRequest,
		UserID:  user.ID,
		Success: true,
	})
	return nil
}

// ResetPassword consumes a password_reset code, stores the new password and
// revokes every session of the account.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if e.users == nil {
		return ErrEngineNotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := e.hasher.CheckPolicy(newPassword); err != nil {
		return ErrInvalidInput.with(err)
	}

	res, err := e.codes.VerifyCode(ctx, otp.ScopePasswordReset, email, code, e.config.OTP.MaxAttempts)
	if err != nil {
		return unavailable(err)
	}
	if !res.OK {
		return codeError(res)
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCode
		}
		return unavailable(err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ErrInvalidInput.with(err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = e.now()
	if err := e.users.SaveUser(ctx, user); err != nil {
		return unavailable(err)
	}

	revoked, err := e.sessions.DeleteAllForUser(ctx, user.ID)
	if err != nil {
		return unavailable(err)
	}
	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, otp.EmailHash(email)); err != nil {
			e.logger.Warn("login throttle reset failed", zap.Error(err))
		}
	}

	e.emit(ctx, events.Event{
		Type:     events.PasswordResetDone,
		UserID:   user.ID,
		Success:  true,
		Metadata: map[string]string{"sessions_revoked": strconv.Itoa(revoked)},
	})
	return nil
}
