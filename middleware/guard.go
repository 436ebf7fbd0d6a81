package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/passkit"
)

// Authenticator resolves credentials. *passkit.Engine implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*passkit.Principal, error)
	AuthenticateAccessToken(ctx context.Context, token string) (*passkit.Principal, error)
}

// Mode selects which credentials a guard accepts.
type Mode uint8

const (
	// ModeAny accepts the session cookie, a bearer session id or a bearer
	// access token.
	ModeAny Mode = iota
	// ModeSession accepts session ids only.
	ModeSession
	// ModeAccessToken accepts bearer access tokens only.
	ModeAccessToken
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by a guard.
func PrincipalFromContext(ctx context.Context) (*passkit.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*passkit.Principal)
	return p, ok
}

// WithPrincipal stores p in ctx. Guards call it; tests and custom guards may too.
func WithPrincipal(ctx context.Context, p *passkit.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard returns middleware that rejects requests without valid credentials for
// mode. Store failures answer 503 so clients do not drop a valid session.
func Guard(auth Authenticator, mode Mode, cookie CookieConfig) func(http.Handler) http.Handler {
	cookie = cookie.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			p, err := resolve(r, auth, mode, cookie.Name)
			if err != nil {
				status := passkit.HTTPStatus(err)
				if status != http.StatusServiceUnavailable {
					status = http.StatusUnauthorized
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func resolve(r *http.Request, auth Authenticator, mode Mode, cookieName string) (*passkit.Principal, error) {
	ctx := r.Context()

	if mode != ModeAccessToken {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return auth.Authenticate(ctx, c.Value)
		}
	}

	value, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, passkit.ErrUnauthorized
	}

	switch mode {
	case ModeSession:
		return auth.Authenticate(ctx, value)
	case ModeAccessToken:
		return auth.AuthenticateAccessToken(ctx, value)
	default:
		if looksLikeJWT(value) {
			return auth.AuthenticateAccessToken(ctx, value)
		}
		return auth.Authenticate(ctx, value)
	}
}

// looksLikeJWT reports whether value has the three dot-separated segments of a
// compact JWS. Session ids are base64url and never contain dots.
func looksLikeJWT(value string) bool {
	return strings.Count(value, ".") == 2
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
