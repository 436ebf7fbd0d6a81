// Package httpapi exposes the engine over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/passkit"
	"github.com/MrEthical07/passkit/middleware"
	"go.uber.org/zap"
)

// Engine is the part of *passkit.Engine the API calls.
type Engine interface {
	middleware.Authenticator

	Register(ctx context.Context, in passkit.RegisterInput) (*passkit.UserRecord, error)
	Login(ctx context.Context, email, password string) (*passkit.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	CurrentUser(ctx context.Context, userID string) (*passkit.UserRecord, error)
	VerifyEmail(ctx context.Context, email, code string) error
	ResendVerificationCode(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	RequestEmailChange(ctx context.Context, userID, newEmail string) error
	ConfirmEmailChange(ctx context.Context, userID, newEmail, code string) error
}

// Options configures [New].
type Options struct {
	Engine     Engine
	Cookie     middleware.CookieConfig
	TrustProxy bool
	Logger     *zap.Logger

	// Ready backs /healthz. Nil always reports healthy.
	Ready func(ctx context.Context) error
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	// MaxBodyBytes caps request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

type api struct {
	engine  Engine
	cookie  middleware.CookieConfig
	logger  *zap.Logger
	ready   func(ctx context.Context) error
	maxBody int64
}

// New returns the API handler.
func New(opts Options) http.Handler {
	a := &api{
		engine:  opts.Engine,
		cookie:  opts.Cookie,
		logger:  opts.Logger,
		ready:   opts.Ready,
		maxBody: opts.MaxBodyBytes,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.maxBody <= 0 {
		a.maxBody = 64 << 10
	}

	authed := middleware.RequireSession(a.engine, a.cookie)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", a.register)
	mux.HandleFunc("POST /auth/login", a.login)
	mux.HandleFunc("POST /auth/verify-email", a.verifyEmail)
	mux.HandleFunc("POST /auth/resend-verification-code", a.resendVerification)
	mux.HandleFunc("POST /auth/request-password-reset", a.requestPasswordReset)
	mux.HandleFunc("POST /auth/reset-password", a.resetPassword)
	mux.Handle("POST /auth/logout", authed(http.HandlerFunc(a.logout)))
	mux.Handle("POST /auth/logout-all", authed(http.HandlerFunc(a.logoutAll)))
	mux.Handle("GET /auth/me", authed(http.HandlerFunc(a.me)))
	mux.Handle("POST /auth/request-email-change", authed(http.HandlerFunc(a.requestEmailChange)))
	mux.Handle("POST /auth/confirm-email-change", authed(http.HandlerFunc(a.confirmEmailChange)))
	mux.HandleFunc("GET /healthz", a.healthz)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, opts.Metrics)
	}

	return middleware.ClientInfo(opts.TrustProxy)(mux)
}

/*
====================================
REQUEST / RESPONSE TYPES
====================================
*/

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Locale      string `json:"locale"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email"`
	Code     string `json:"code"`
}

type userResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	Locale        string     `json:"locale"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	VerifiedAt    *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type loginResponse struct {
	User                 userResponse `json:"user"`
	AccessToken          string       `json:"access_token,omitempty"`
	AccessTokenExpiresAt *time.Time   `json:"access_token_expires_at,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toUser(u *passkit.UserRecord) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Locale:        u.Locale,
		Role:          u.Role,
		EmailVerified: u.Verified(),
		VerifiedAt:    u.EmailVerifiedAt,
		CreatedAt:     u.CreatedAt,
	}
}

/*
====================================
HANDLERS
====================================
*/

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	user, err := a.engine.Register(r.Context(), passkit.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Locale:      req.Locale,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(user))
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !a.decode(w, r, &req) {
		return
	}
	res, err := a.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	middleware.SetSessionCookie(w, a.cookie, res.SessionID, res.SessionTTL)
	out := loginResponse{User: toUser(res.User), AccessToken: res.AccessToken}
	if res.AccessToken != "" {
		exp := res.AccessTokenExpiresAt
		out.AccessTokenExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), p.SessionID); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.ClearSessionCookie(w, a.cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	n, err := a.engine.LogoutAll(r.Context(), p.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.ClearSessionCookie(w, a.cookie)
	writeJSON(w, http.StatusOK, map[string]int{"sessions_revoked": n})
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	user, err := a.engine.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(user))
}

func (a *api) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resendVerification and requestPasswordReset answer 202 whether or not the
// address has an account.
func (a *api) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ResendVerificationCode(r.Context(), req.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.engine.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		a.fail(w, r, err)
		return
	}
	middleware.ClearSessionCookie(w, a.cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) requestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if !a.decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := a.engine.RequestEmailChange(r.Context(), p.UserID, req.NewEmail); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) confirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req emailChangeRequest
	if !a.decode(w, r, &req) {
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := a.engine.ConfirmEmailChange(r.Context(), p.UserID, req.NewEmail, req.Code); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.engine.CurrentUser(r.Context(), p.UserID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(user))
}

func (a *api) healthz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			a.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

/*
====================================
HELPERS
====================================
*/

func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_input", Message: "malformed JSON body"})
		return false
	}
	return true
}

// fail writes err as JSON. Internal errors are logged and answered with a
// generic message.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := passkit.HTTPStatus(err)

	var e *passkit.Error
	if !errors.As(err, &e) || status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
		return
	}
	if status == http.StatusServiceUnavailable {
		a.logger.Warn("dependency unavailable", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: e.Code, Message: e.Message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
