package passkit

import (
	"context"
	"errors"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/internal/rate"
	"github.com/MrEthical07/passkit/otp"
	"github.com/MrEthical07/passkit/session"
	"go.uber.org/zap"
)

// Login checks email and password and opens a session.
//
// Unknown emails and wrong passwords both give [ErrInvalidCredentials]. With
// throttling enabled, failed attempts are counted per email (and per client IP
// when configured) and [ErrRateLimited] is returned once the budget is spent.
// The client IP and user agent are read from ctx; see [WithClientIP] and
// [WithUserAgent].
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e.users == nil {
		return nil, ErrEngineNotReady
	}

	email = otp.NormalizeEmail(email)
	if email == "" || plaintext == "" {
		return nil, ErrInvalidCredentials
	}
	emailHash := otp.EmailHash(email)
	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	if len(ip) > session.MaxMetadataLen || len(userAgent) > session.MaxMetadataLen {
		return nil, ErrInvalidInput.with(session.ErrInvalidMetadata)
	}

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, emailHash, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.emit(ctx, events.Event{Type: events.LoginThrottled})
				return nil, ErrRateLimited
			}
			return nil, unavailable(err)
		}
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, unavailable(err)
		}
		e.equalizeMissingUser(plaintext)
		return nil, e.loginFailed(ctx, "", emailHash, ip)
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil {
		e.logger.Warn("password verification failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		return nil, e.loginFailed(ctx, user.ID, emailHash, ip)
	}

	if e.config.Login.RequireVerifiedEmail && !user.Verified() {
		e.emit(ctx, events.Event{
			Type:   events.LoginFailed,
			UserID: user.ID,
			Error:  ErrEmailNotVerified.Code,
		})
		return nil, ErrEmailNotVerified
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, emailHash); err != nil {
			e.logger.Warn("login throttle reset failed", zap.Error(err))
		}
	}
	if e.config.Login.RehashOnLogin {
		e.rehash(ctx, user, plaintext)
	}

	sessionID, err := e.sessions.Create(ctx, user.ID, session.Metadata{
		UserAgent: userAgent,
		IP:        ip,
	})
	if err != nil {
		return nil, unavailable(err)
	}

	result := &LoginResult{
		User:       user,
		SessionID:  sessionID,
		SessionTTL: e.sessions.TTL(),
	}
	if e.tokens != nil {
		token, expiresAt, err := e.tokens.CreateAccess(user.ID, sessionID)
		if err != nil {
			return nil, unavailable(err)
		}
		result.AccessToken = token
		result.AccessTokenExpiresAt = expiresAt
	}

	e.emit(ctx, events.Event{
		Type:      events.LoginSucceeded,
		UserID:    user.ID,
		SessionID: sessionID,
		Success:   true,
	})
	return result, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID, emailHash, ip string) error {
	e.emit(ctx, events.Event{
		Type:   events.LoginFailed,
		UserID: userID,
		Error:  ErrInvalidCredentials.Code,
	})
	if e.limiter == nil {
		return ErrInvalidCredentials
	}
	if err := e.limiter.IncrementLogin(ctx, emailHash, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("login throttle increment failed", zap.Error(err))
	}
	return ErrInvalidCredentials
}

// rehash upgrades a hash produced with weaker parameters. Failures are logged;
// the login itself already succeeded.
func (e *Engine) rehash(ctx context.Context, user *UserRecord, plaintext string) {
	stale, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	user.PasswordHash = hash
	user.UpdatedAt = e.now()
	if err := e.users.SaveUser(ctx, user); err != nil {
		e.logger.Warn("password rehash not saved", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// Authenticate resolves a session id and slides its expiry. Missing, expired
// and malformed ids give [ErrUnauthorized].
func (e *Engine) Authenticate(ctx context.Context, sessionID string) (*Principal, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, unavailable(err)
	}
	if sess == nil {
		return nil, ErrUnauthorized
	}
	e.sessions.Touch(ctx, sessionID)
	return principalOf(sess), nil
}

// AuthenticateAccessToken verifies a JWT from Login and checks that the session
// it is bound to still exists, so logging out revokes outstanding tokens.
func (e *Engine) AuthenticateAccessToken(ctx context.Context, token string) (*Principal, error) {
	if e.tokens == nil {
		return nil, ErrUnauthorized
	}
	claims, err := e.tokens.ParseAccess(token)
	if err != nil {
		return nil, ErrUnauthorized.with(err)
	}
	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		return nil, unavailable(err)
	}
	if sess == nil || sess.UserID != claims.UID {
		return nil, ErrUnauthorized
	}
	e.sessions.Touch(ctx, claims.SID)
	return principalOf(sess), nil
}

// Logout deletes the session. Unknown ids are not an error.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return unavailable(err)
	}
	e.emit(ctx, events.Event{
		Type:      events.Logout,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// LogoutAll deletes every session of userID and returns how many were removed.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidInput
	}
	n, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func principalOf(sess *session.Session) *Principal {
	return &Principal{
		UserID:    sess.UserID,
		SessionID: sess.SessionID,
		CreatedAt: sess.CreatedAt,
		IP:        sess.IP,
		UserAgent: sess.UserAgent,
	}
}
