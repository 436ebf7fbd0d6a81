package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/passkit"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	sessions map[string]string
	tokens   map[string]string
	fail     error
	calls    []string
}

func (f *fakeAuth) Authenticate(_ context.Context, sessionID string) (*passkit.Principal, error) {
	f.calls = append(f.calls, "session:"+sessionID)
	if f.fail != nil {
		return nil, f.fail
	}
	uid, ok := f.sessions[sessionID]
	if !ok {
		return nil, passkit.ErrUnauthorized
	}
	return &passkit.Principal{UserID: uid, SessionID: sessionID}, nil
}

func (f *fakeAuth) AuthenticateAccessToken(_ context.Context, token string) (*passkit.Principal, error) {
	f.calls = append(f.calls, "token:"+token)
	uid, ok := f.tokens[token]
	if !ok {
		return nil, passkit.ErrUnauthorized
	}
	return &passkit.Principal{UserID: uid, SessionID: "bound"}, nil
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		sessions: map[string]string{"sess-1": "user-1"},
		tokens:   map[string]string{"a.b.c": "user-2"},
	}
}

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(p.UserID))
	})
}

func serve(h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireSessionSources(t *testing.T) {
	auth := newFakeAuth()
	h := RequireSession(auth, CookieConfig{})(echoPrincipal())

	rec := serve(h, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "sess-1"})
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "user-1", rec.Body.String())

	rec = serve(h, func(r *http.Request) { r.Header.Set("Authorization", "Bearer sess-1") })
	require.Equal(t, "user-1", rec.Body.String())

	rec = serve(h, func(r *http.Request) { r.Header.Set("Authorization", "bearer a.b.c") })
	require.Equal(t, "user-2", rec.Body.String())

	rec = serve(h, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(h, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCookieTakesPrecedence(t *testing.T) {
	auth := newFakeAuth()
	h := RequireSession(auth, CookieConfig{Name: "app_sid"})(echoPrincipal())

	rec := serve(h, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "app_sid", Value: "sess-1"})
		r.Header.Set("Authorization", "Bearer a.b.c")
	})
	require.Equal(t, "user-1", rec.Body.String())
	require.Equal(t, []string{"session:sess-1"}, auth.calls)
}

func TestStrictAndTokenModes(t *testing.T) {
	auth := newFakeAuth()

	strict := RequireStrict(auth, CookieConfig{})(echoPrincipal())
	rec := serve(strict, func(r *http.Request) { r.Header.Set("Authorization", "Bearer a.b.c") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	tokenOnly := RequireAccessToken(auth)(echoPrincipal())
	rec = serve(tokenOnly, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "sess-1"})
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(tokenOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer a.b.c") })
	require.Equal(t, "user-2", rec.Body.String())
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	auth := newFakeAuth()
	auth.fail = fmtUnavailable()
	h := RequireSession(auth, CookieConfig{})(echoPrincipal())

	rec := serve(h, func(r *http.Request) { r.Header.Set("Authorization", "Bearer sess-1") })
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	auth.fail = errors.New("unexpected")
	rec = serve(h, func(r *http.Request) { r.Header.Set("Authorization", "Bearer sess-1") })
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func fmtUnavailable() error {
	e := *passkit.ErrUnavailable
	e.Err = errors.New("redis down")
	return &e
}

func TestSessionCookieHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSessionCookie(rec, CookieConfig{Secure: true}, "sess-1", 7*24*time.Hour)
	c := rec.Result().Cookies()[0]
	require.Equal(t, DefaultCookieName, c.Name)
	require.Equal(t, "sess-1", c.Value)
	require.Equal(t, 604800, c.MaxAge)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteLaxMode, c.SameSite)
	require.Equal(t, "/", c.Path)

	rec = httptest.NewRecorder()
	ClearSessionCookie(rec, CookieConfig{})
	c = rec.Result().Cookies()[0]
	require.Empty(t, c.Value)
	require.Negative(t, c.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, SessionIDFromRequest(req, CookieConfig{}))
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "sess-9"})
	require.Equal(t, "sess-9", SessionIDFromRequest(req, CookieConfig{}))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5123"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	require.Equal(t, "198.51.100.4", ClientIP(req, false))
	require.Equal(t, "203.0.113.9", ClientIP(req, true))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "198.51.100.4", ClientIP(req, true))
}

func TestClientInfoFeedsContext(t *testing.T) {
	var got *http.Request
	h := ClientInfo(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5123"
	req.Header.Set("User-Agent", "ua/1.0")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	require.NotSame(t, req, got)
}
