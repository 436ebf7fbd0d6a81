package passkit

import (
	"context"
	"errors"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/otp"
	"go.uber.org/zap"
)

// emailChangeSubject keys email_change challenges by account and target
// address so two accounts asking for the same address do not collide.
func emailChangeSubject(userID, newEmail string) string {
	return userID + "|" + newEmail
}

// RequestEmailChange sends a code to newEmail. The address only replaces the
// current one after ConfirmEmailChange. An address already owned by another
// account gives [ErrEmailTaken].
func (e *Engine) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	if e.users == nil || e.mailer == nil {
		return ErrEngineNotReady
	}
	newEmail, err := normalizeEmail(newEmail)
	if err != nil {
		return err
	}
	user, err := e.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Email == newEmail {
		return ErrInvalidInput
	}
	if err := e.ensureEmailFree(ctx, newEmail, user.ID); err != nil {
		return err
	}

	subject := emailChangeSubject(user.ID, newEmail)
	if err := e.checkResend(ctx, otp.ScopeEmailChange, subject); err != nil {
		return err
	}
	code, err := e.codes.IssueCode(ctx, otp.ScopeEmailChange, subject, e.config.OTP.CodeTTL)
	if err != nil {
		return unavailable(err)
	}
	if _, err := e.mailer.RequestNewEmail(ctx, user.DisplayName, newEmail, code); err != nil {
		return unavailable(err)
	}

	e.emit(ctx, events.Event{
		Type:    events.EmailChangeRequested,
		UserID:  user.ID,
		Success: true,
	})
	return nil
}

// ConfirmEmailChange consumes the code sent by RequestEmailChange and moves the
// account to newEmail, which counts as verified. A notice goes to the previous
// address. Existing sessions stay valid.
func (e *Engine) ConfirmEmailChange(ctx context.Context, userID, newEmail, code string) error {
	if e.users == nil || e.mailer == nil {
		return ErrEngineNotReady
	}
	newEmail, err := normalizeEmail(newEmail)
	if err != nil {
		return err
	}
	user, err := e.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}

	res, err := e.codes.VerifyCode(ctx, otp.ScopeEmailChange, emailChangeSubject(user.ID, newEmail), code, e.config.OTP.MaxAttempts)
	if err != nil {
		return unavailable(err)
	}
	if !res.OK {
		return codeError(res)
	}
	if err := e.ensureEmailFree(ctx, newEmail, user.ID); err != nil {
		return err
	}

	previous := user.Email
	now := e.now()
	user.Email = newEmail
	user.EmailVerifiedAt = &now
	user.UpdatedAt = now
	if err := e.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return ErrEmailTaken
		}
		return unavailable(err)
	}

	if _, err := e.mailer.ConfirmEmailChange(ctx, user.DisplayName, previous); err != nil {
		e.logger.Warn("email change notice not queued", zap.String("user_id", user.ID), zap.Error(err))
	}

	e.emit(ctx, events.Event{
		Type:    events.EmailChangeConfirmed,
		UserID:  user.ID,
		Success: true,
	})
	return nil
}

func (e *Engine) ensureEmailFree(ctx context.Context, email, ownerID string) error {
	other, err := e.users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil
	case err != nil:
		return unavailable(err)
	case other != nil && other.ID != ownerID:
		return ErrEmailTaken
	}
	return nil
}
