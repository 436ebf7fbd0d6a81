package passkit

import (
	"context"
	"errors"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/otp"
)

// ResendVerificationCode issues a fresh verification code. Every call spends
// one unit of the resend budget for the address, whether or not an account
// exists. Unknown and already verified addresses return nil without sending.
func (e *Engine) ResendVerificationCode(ctx context.Context, email string) error {
	if e.users == nil || e.mailer == nil {
		return ErrEngineNotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := e.checkResend(ctx, otp.ScopeEmailVerify, email); err != nil {
		return err
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return unavailable(err)
	}
	if user.Verified() {
		return nil
	}
	return e.sendVerificationCode(ctx, user)
}

// VerifyEmail consumes an email_verify code and marks the account verified.
// Wrong, expired and unknown-account cases all give [ErrInvalidCode].
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	if e.users == nil {
		return ErrEngineNotReady
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	res, err := e.codes.VerifyCode(ctx, otp.ScopeEmailVerify, email, code, e.config.OTP.MaxAttempts)
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
	if user.Verified() {
		return nil
	}

	now := e.now()
	user.EmailVerifiedAt = &now
	user.UpdatedAt = now
	if err := e.users.SaveUser(ctx, user); err != nil {
		return unavailable(err)
	}

	e.emit(ctx, events.Event{
		Type:    events.EmailVerified,
		UserID:  user.ID,
		Success: true,
	})
	return nil
}
