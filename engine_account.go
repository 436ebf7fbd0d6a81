package passkit

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/otp"
	"go.uber.org/zap"
)

// Register creates an unverified account and queues its verification code.
//
// The email is lower-cased before anything else. An address that already has
// an account gives [ErrEmailTaken]. A failure to queue the email does not undo
// the account; the user can ask for a new code with ResendVerificationCode.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*UserRecord, error) {
	if e.users == nil || e.mailer == nil {
		return nil, ErrEngineNotReady
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.DisplayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLength {
		return nil, ErrInvalidInput
	}
	locale := strings.ToLower(strings.TrimSpace(in.Locale))
	if locale == "" {
		locale = LocaleEN
	}
	if !validLocale(locale) {
		return nil, ErrInvalidInput
	}
	if err := e.hasher.CheckPolicy(in.Password); err != nil {
		return nil, ErrInvalidInput.with(err)
	}

	existing, err := e.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return nil, ErrEmailTaken
	case err != nil && !errors.Is(err, ErrUserNotFound):
		return nil, unavailable(err)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, ErrInvalidInput.with(err)
	}

	user := &UserRecord{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  name,
		Locale:       locale,
		Role:         RoleUser,
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, unavailable(err)
	}

	e.emit(ctx, events.Event{
		Type:    events.UserRegistered,
		UserID:  user.ID,
		Success: true,
	})

	if err := e.sendVerificationCode(ctx, user); err != nil {
		e.logger.Warn("verification email not queued",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
	return user, nil
}

// CurrentUser returns the account behind an authenticated principal.
func (e *Engine) CurrentUser(ctx context.Context, userID string) (*UserRecord, error) {
	if e.users == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUnauthorized
	}
	user, err := e.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, unavailable(err)
	}
	return user, nil
}

func (e *Engine) sendVerificationCode(ctx context.Context, user *UserRecord) error {
	code, err := e.codes.IssueCode(ctx, otp.ScopeEmailVerify, user.Email, e.config.OTP.CodeTTL)
	if err != nil {
		return unavailable(err)
	}
	if _, err := e.mailer.SendVerificationCode(ctx, user.DisplayName, user.Email, code); err != nil {
		return unavailable(err)
	}
	return nil
}
