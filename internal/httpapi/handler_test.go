package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrEthical07/passkit"
	"github.com/MrEthical07/passkit/middleware"
	"github.com/MrEthical07/passkit/notify"
	"github.com/MrEthical07/passkit/password"
	"github.com/MrEthical07/passkit/queue"
	"github.com/MrEthical07/passkit/userstore/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (o *outbox) Enqueue(_ context.Context, jobType string, payload any, _ ...queue.EnqueueOption) (string, error) {
	p := payload.(notify.Payload)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[jobType+"/"+p.To] = p.Code
	return "job", nil
}

func (o *outbox) code(jobType, to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[jobType+"/"+to]
}

type testServer struct {
	handler http.Handler
	mail    *outbox
	ready   error
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := passkit.DefaultConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Events.Async = false

	box := &outbox{codes: map[string]string{}}
	engine, err := passkit.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(memory.New()).
		WithDeliveryQueue(box).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ts := &testServer{mail: box}
	ts.handler = New(Options{
		Engine:  engine,
		Cookie:  middleware.CookieConfig{Name: "sid"},
		Ready:   func(context.Context) error { return ts.ready },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestAccountLifecycle(t *testing.T) {
	ts := newTestServer(t)
	const email = "ada@example.com"

	rec := ts.do(t, http.MethodPost, "/auth/register", registerRequest{
		Email: email, Password: "correct horse battery", DisplayName: "Ada",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", credentials{Email: email, Password: "correct horse battery"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "email_not_verified", errorCode(t, rec))

	code := ts.mail.code(notify.JobSendVerificationCode, email)
	require.NotEmpty(t, code)
	rec = ts.do(t, http.MethodPost, "/auth/verify-email", codeRequest{Email: email, Code: code}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", credentials{Email: email, Password: "correct horse battery"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)
	assert.Greater(t, cookie.MaxAge, 0)

	rec = ts.do(t, http.MethodGet, "/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me userResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, email, me.Email)
	assert.True(t, me.EmailVerified)

	rec = ts.do(t, http.MethodPost, "/auth/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/auth/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	const email = "bob@example.com"

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/auth/register", registerRequest{
		Email: email, Password: "correct horse battery", DisplayName: "Bob",
	}, nil).Code)

	// unknown addresses look the same as known ones
	rec := ts.do(t, http.MethodPost, "/auth/request-password-reset", emailRequest{Email: "nobody@example.com"}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = ts.do(t, http.MethodPost, "/auth/request-password-reset", emailRequest{Email: email}, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	code := ts.mail.code(notify.JobSendResetCode, email)
	require.NotEmpty(t, code)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec = ts.do(t, http.MethodPost, "/auth/reset-password", resetRequest{Email: email, Code: wrong, NewPassword: "another long secret"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_code", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/auth/reset-password", resetRequest{Email: email, Code: code, NewPassword: "another long secret"}, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEmailChangeOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	const email = "cy@example.com"

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/auth/register", registerRequest{
		Email: email, Password: "correct horse battery", DisplayName: "Cy",
	}, nil).Code)
	verify := ts.mail.code(notify.JobSendVerificationCode, email)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/auth/verify-email", codeRequest{Email: email, Code: verify}, nil).Code)
	rec := ts.do(t, http.MethodPost, "/auth/login", credentials{Email: email, Password: "correct horse battery"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)

	rec = ts.do(t, http.MethodPost, "/auth/request-email-change", emailChangeRequest{NewEmail: "cy2@example.com"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/request-email-change", emailChangeRequest{NewEmail: "cy2@example.com"}, cookie)
	require.Equal(t, http.StatusAccepted, rec.Code)
	code := ts.mail.code(notify.JobRequestNewEmail, "cy2@example.com")
	require.NotEmpty(t, code)

	rec = ts.do(t, http.MethodPost, "/auth/confirm-email-change", emailChangeRequest{NewEmail: "cy2@example.com", Code: code}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me userResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "cy2@example.com", me.Email)
}

func TestRejectsMalformedBodies(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":`))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.c","admin":true}`))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/register", registerRequest{Email: "not-an-email", Password: "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorCode(t, rec))
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil, nil).Code)
	ts.ready = errors.New("redis down")
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/healthz", nil, nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
