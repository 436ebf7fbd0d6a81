package passkit_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/passkit"
	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/jwt"
	"github.com/MrEthical07/passkit/metrics"
	"github.com/MrEthical07/passkit/notify"
	"github.com/MrEthical07/passkit/password"
	"github.com/MrEthical07/passkit/queue"
	"github.com/MrEthical07/passkit/userstore/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery"

type sentJob struct {
	Type    string
	Payload notify.Payload
}

// captureQueue records enqueued email jobs instead of storing them.
type captureQueue struct {
	mu   sync.Mutex
	jobs []sentJob
}

func (q *captureQueue) Enqueue(_ context.Context, jobType string, payload any, _ ...queue.EnqueueOption) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, sentJob{Type: jobType, Payload: payload.(notify.Payload)})
	return "job", nil
}

func (q *captureQueue) last(t *testing.T, jobType string) notify.Payload {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if q.jobs[i].Type == jobType {
			return q.jobs[i].Payload
		}
	}
	t.Fatalf("no %s job enqueued", jobType)
	return notify.Payload{}
}

func (q *captureQueue) count(jobType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.Type == jobType {
			n++
		}
	}
	return n
}

type harness struct {
	engine *passkit.Engine
	users  *memory.Store
	mail   *captureQueue
	mr     *miniredis.Miniredis
}

func testConfig() passkit.Config {
	cfg := passkit.DefaultConfig()
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Events.Async = false
	cfg.Login.MaxAttempts = 3
	cfg.OTP.ResendMax = 3
	return cfg
}

func newHarness(t *testing.T, mutate func(*passkit.Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	users := memory.New()
	mail := &captureQueue{}
	engine, err := passkit.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(users).
		WithDeliveryQueue(mail).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &harness{engine: engine, users: users, mail: mail, mr: mr}
}

func (h *harness) registerVerified(t *testing.T, email string) *passkit.UserRecord {
	t.Helper()
	ctx := context.Background()
	user, err := h.engine.Register(ctx, passkit.RegisterInput{
		Email:       email,
		Password:    testPassword,
		DisplayName: "Ada",
	})
	require.NoError(t, err)
	code := h.mail.last(t, notify.JobSendVerificationCode).Code
	require.NoError(t, h.engine.VerifyEmail(ctx, email, code))
	return user
}

func TestRegisterVerifyLoginLogout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := passkit.WithUserAgent(passkit.WithClientIP(context.Background(), "203.0.113.7"), "test-agent")

	user, err := h.engine.Register(ctx, passkit.RegisterInput{
		Email:       "  Ada@Example.com ",
		Password:    testPassword,
		DisplayName: "Ada",
	})
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, passkit.LocaleEN, user.Locale)
	require.False(t, user.Verified())

	job := h.mail.last(t, notify.JobSendVerificationCode)
	require.Equal(t, "ada@example.com", job.To)
	require.Equal(t, "Ada", job.Name)
	require.Len(t, job.Code, 6)

	_, err = h.engine.Login(ctx, "ada@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrEmailNotVerified)

	require.NoError(t, h.engine.VerifyEmail(ctx, "ada@example.com", job.Code))
	stored, err := h.users.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.True(t, stored.Verified())

	res, err := h.engine.Login(ctx, "ADA@example.com", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	require.Equal(t, 7*24*time.Hour, res.SessionTTL)
	require.Empty(t, res.AccessToken)

	p, err := h.engine.Authenticate(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, user.ID, p.UserID)
	require.Equal(t, "203.0.113.7", p.IP)
	require.Equal(t, "test-agent", p.UserAgent)

	me, err := h.engine.CurrentUser(ctx, p.UserID)
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", me.Email)

	require.NoError(t, h.engine.Logout(ctx, res.SessionID))
	require.NoError(t, h.engine.Logout(ctx, res.SessionID))
	_, err = h.engine.Authenticate(ctx, res.SessionID)
	require.ErrorIs(t, err, passkit.ErrUnauthorized)
}

func TestLoginKeepsClientMetadataVerbatim(t *testing.T) {
	h := newHarness(t, nil)
	h.registerVerified(t, "ada@example.com")

	ua := strings.Repeat("Mozilla/5.0 (Linux; Android 14) Écran/ñ 日本 ", 20)
	ip := "fe80::1ff:fe23:4567:890a%" + strings.Repeat("eth", 20)
	ctx := passkit.WithUserAgent(passkit.WithClientIP(context.Background(), ip), ua)

	res, err := h.engine.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	p, err := h.engine.Authenticate(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, ua, p.UserAgent)
	require.Equal(t, ip, p.IP)

	huge := strings.Repeat("x", 1<<16)
	_, err = h.engine.Login(passkit.WithClientIP(context.Background(), huge), "ada@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrInvalidInput)
	_, err = h.engine.Login(passkit.WithUserAgent(context.Background(), huge), "ada@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrInvalidInput)
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, passkit.RegisterInput{Email: "a@example.com", Password: testPassword, DisplayName: "A"})
	require.NoError(t, err)

	_, err = h.engine.Register(ctx, passkit.RegisterInput{Email: "A@EXAMPLE.COM", Password: testPassword, DisplayName: "B"})
	require.ErrorIs(t, err, passkit.ErrEmailTaken)
	require.Equal(t, passkit.KindConflict, passkit.KindOf(err))

	cases := []passkit.RegisterInput{
		{Email: "not-an-email", Password: testPassword, DisplayName: "A"},
		{Email: "Ada <b@example.com>", Password: testPassword, DisplayName: "A"},
		{Email: "b@example.com", Password: "short", DisplayName: "A"},
		{Email: "b@example.com", Password: testPassword, DisplayName: "   "},
		{Email: "b@example.com", Password: testPassword, DisplayName: "A", Locale: "es"},
	}
	for _, in := range cases {
		_, err := h.engine.Register(ctx, in)
		require.ErrorIs(t, err, passkit.ErrInvalidInput, "%+v", in)
	}
	require.Equal(t, 1, h.users.Len())
	require.Equal(t, 1, h.mail.count(notify.JobSendVerificationCode))
}

func TestLoginFailuresAreGenericAndThrottled(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.registerVerified(t, "a@example.com")

	_, err := h.engine.Login(ctx, "nobody@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrInvalidCredentials)
	unknownMsg := err.Error()

	_, err = h.engine.Login(ctx, "a@example.com", "wrong password!")
	require.ErrorIs(t, err, passkit.ErrInvalidCredentials)
	require.Equal(t, unknownMsg, err.Error())

	for i := 0; i < 2; i++ {
		_, err = h.engine.Login(ctx, "a@example.com", "wrong password!")
		require.ErrorIs(t, err, passkit.ErrInvalidCredentials)
	}

	// budget spent: even the right password is refused until the window ends
	_, err = h.engine.Login(ctx, "a@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrRateLimited)
	require.Equal(t, 429, passkit.HTTPStatus(err))

	h.mr.FastForward(16 * time.Minute)
	_, err = h.engine.Login(ctx, "a@example.com", testPassword)
	require.NoError(t, err)
}

func TestVerifyEmailAttemptBudget(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, passkit.RegisterInput{Email: "a@example.com", Password: testPassword, DisplayName: "A"})
	require.NoError(t, err)
	code := h.mail.last(t, notify.JobSendVerificationCode).Code
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, h.engine.VerifyEmail(ctx, "a@example.com", wrong), passkit.ErrInvalidCode)
	}
	require.ErrorIs(t, h.engine.VerifyEmail(ctx, "a@example.com", code), passkit.ErrTooManyAttempts)

	// a fresh code resets the budget
	require.NoError(t, h.engine.ResendVerificationCode(ctx, "a@example.com"))
	fresh := h.mail.last(t, notify.JobSendVerificationCode).Code
	require.NoError(t, h.engine.VerifyEmail(ctx, "a@example.com", fresh))
	require.ErrorIs(t, h.engine.VerifyEmail(ctx, "a@example.com", fresh), passkit.ErrInvalidCode)
}

func TestVerifyEmailUnknownAccountLooksLikeWrongCode(t *testing.T) {
	h := newHarness(t, nil)
	err := h.engine.VerifyEmail(context.Background(), "ghost@example.com", "123456")
	require.ErrorIs(t, err, passkit.ErrInvalidCode)
}

func TestResendIsSilentAndLimited(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.engine.ResendVerificationCode(ctx, "ghost@example.com"))
	}
	require.ErrorIs(t, h.engine.ResendVerificationCode(ctx, "ghost@example.com"), passkit.ErrRateLimited)
	require.Zero(t, h.mail.count(notify.JobSendVerificationCode))

	h.mr.FastForward(time.Hour + time.Second)
	require.NoError(t, h.engine.ResendVerificationCode(ctx, "ghost@example.com"))

	h.registerVerified(t, "done@example.com")
	before := h.mail.count(notify.JobSendVerificationCode)
	require.NoError(t, h.engine.ResendVerificationCode(ctx, "done@example.com"))
	require.Equal(t, before, h.mail.count(notify.JobSendVerificationCode))
}

func TestPasswordResetRevokesSessions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.registerVerified(t, "a@example.com")

	first, err := h.engine.Login(ctx, "a@example.com", testPassword)
	require.NoError(t, err)
	second, err := h.engine.Login(ctx, "a@example.com", testPassword)
	require.NoError(t, err)

	require.NoError(t, h.engine.RequestPasswordReset(ctx, "ghost@example.com"))
	require.Zero(t, h.mail.count(notify.JobSendResetCode))

	require.NoError(t, h.engine.RequestPasswordReset(ctx, "A@example.com"))
	code := h.mail.last(t, notify.JobSendResetCode).Code

	require.ErrorIs(t, h.engine.ResetPassword(ctx, "a@example.com", code, "short"), passkit.ErrInvalidInput)
	require.ErrorIs(t, h.engine.ResetPassword(ctx, "ghost@example.com", code, "a brand new secret"), passkit.ErrInvalidCode)

	require.NoError(t, h.engine.ResetPassword(ctx, "a@example.com", code, "a brand new secret"))

	for _, id := range []string{first.SessionID, second.SessionID} {
		_, err := h.engine.Authenticate(ctx, id)
		require.ErrorIs(t, err, passkit.ErrUnauthorized)
	}

	_, err = h.engine.Login(ctx, "a@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrInvalidCredentials)
	_, err = h.engine.Login(ctx, "a@example.com", "a brand new secret")
	require.NoError(t, err)

	// codes are single use
	require.ErrorIs(t, h.engine.ResetPassword(ctx, "a@example.com", code, "another new secret"), passkit.ErrInvalidCode)
}

func TestEmailChange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.registerVerified(t, "old@example.com")
	h.registerVerified(t, "taken@example.com")

	require.ErrorIs(t, h.engine.RequestEmailChange(ctx, user.ID, "taken@example.com"), passkit.ErrEmailTaken)
	require.ErrorIs(t, h.engine.RequestEmailChange(ctx, user.ID, "old@example.com"), passkit.ErrInvalidInput)
	require.ErrorIs(t, h.engine.RequestEmailChange(ctx, "unknown", "new@example.com"), passkit.ErrUnauthorized)

	require.NoError(t, h.engine.RequestEmailChange(ctx, user.ID, "New@example.com"))
	job := h.mail.last(t, notify.JobRequestNewEmail)
	require.Equal(t, "new@example.com", job.To)

	require.ErrorIs(t, h.engine.ConfirmEmailChange(ctx, user.ID, "other@example.com", job.Code), passkit.ErrInvalidCode)
	require.NoError(t, h.engine.ConfirmEmailChange(ctx, user.ID, "new@example.com", job.Code))

	notice := h.mail.last(t, notify.JobConfirmEmailChange)
	require.Equal(t, "old@example.com", notice.To)
	require.Empty(t, notice.Code)

	got, err := h.engine.CurrentUser(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "new@example.com", got.Email)
	require.True(t, got.Verified())

	_, err = h.engine.Login(ctx, "new@example.com", testPassword)
	require.NoError(t, err)
	_, err = h.engine.Login(ctx, "old@example.com", testPassword)
	require.ErrorIs(t, err, passkit.ErrInvalidCredentials)
}

func TestAccessTokensAreBoundToSession(t *testing.T) {
	h := newHarness(t, func(cfg *passkit.Config) {
		cfg.AccessToken.Enabled = true
		cfg.AccessToken.JWT = jwt.Config{
			TTL:    time.Minute,
			Method: jwt.MethodHS256,
			Secret: []byte("0123456789abcdef0123456789abcdef"),
		}
	})
	ctx := context.Background()
	user := h.registerVerified(t, "a@example.com")

	res, err := h.engine.Login(ctx, "a@example.com", testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.True(t, res.AccessTokenExpiresAt.After(time.Now()))

	p, err := h.engine.AuthenticateAccessToken(ctx, res.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, p.UserID)
	require.Equal(t, res.SessionID, p.SessionID)

	_, err = h.engine.AuthenticateAccessToken(ctx, res.AccessToken+"x")
	require.ErrorIs(t, err, passkit.ErrUnauthorized)

	require.NoError(t, h.engine.Logout(ctx, res.SessionID))
	_, err = h.engine.AuthenticateAccessToken(ctx, res.AccessToken)
	require.ErrorIs(t, err, passkit.ErrUnauthorized)
}

func TestLogoutAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	user := h.registerVerified(t, "a@example.com")

	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, "a@example.com", testPassword)
		require.NoError(t, err)
	}
	n, err := h.engine.LogoutAll(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestSessionSlidesOnAuthenticate(t *testing.T) {
	h := newHarness(t, func(cfg *passkit.Config) {
		cfg.Session.TTL = time.Hour
	})
	ctx := context.Background()
	h.registerVerified(t, "a@example.com")

	res, err := h.engine.Login(ctx, "a@example.com", testPassword)
	require.NoError(t, err)

	h.mr.FastForward(50 * time.Minute)
	_, err = h.engine.Authenticate(ctx, res.SessionID)
	require.NoError(t, err)

	h.mr.FastForward(50 * time.Minute)
	_, err = h.engine.Authenticate(ctx, res.SessionID)
	require.NoError(t, err)

	h.mr.FastForward(61 * time.Minute)
	_, err = h.engine.Authenticate(ctx, res.SessionID)
	require.ErrorIs(t, err, passkit.ErrUnauthorized)
}

func TestEventsAndMetrics(t *testing.T) {
	sink := events.NewChannelSink(64)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	engine, err := passkit.New().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserStore(memory.New()).
		WithDeliveryQueue(&captureQueue{}).
		WithEventSink(sink).
		Build()
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	_, err = engine.Register(ctx, passkit.RegisterInput{Email: "a@example.com", Password: testPassword, DisplayName: "A"})
	require.NoError(t, err)
	_, err = engine.Login(ctx, "a@example.com", "wrong password!")
	require.ErrorIs(t, err, passkit.ErrInvalidCredentials)

	seen := map[string]bool{}
	for len(sink.Events()) > 0 {
		ev := <-sink.Events()
		seen[ev.Type] = true
		require.NotContains(t, ev.Metadata, "email")
	}
	require.True(t, seen[events.UserRegistered])
	require.True(t, seen[events.OTPIssued])
	require.True(t, seen[events.LoginFailed])

	snap := engine.MetricsSnapshot()
	require.Equal(t, uint64(1), snap.Counters[metrics.UserRegistered])
	require.Equal(t, uint64(1), snap.Counters[metrics.LoginFailure])
	require.Zero(t, engine.EventsDropped())
}

func TestBuildRequiresDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := passkit.New().WithUserStore(memory.New()).WithDeliveryQueue(&captureQueue{}).Build()
	require.Error(t, err)
	_, err = passkit.New().WithRedis(client).WithDeliveryQueue(&captureQueue{}).Build()
	require.Error(t, err)
	_, err = passkit.New().WithRedis(client).WithUserStore(memory.New()).Build()
	require.Error(t, err)

	cfg := testConfig()
	cfg.OTP.MaxAttempts = 0
	_, err = passkit.New().WithConfig(cfg).WithRedis(client).WithUserStore(memory.New()).WithDeliveryQueue(&captureQueue{}).Build()
	require.Error(t, err)

	b := passkit.New().WithConfig(testConfig()).WithRedis(client).WithUserStore(memory.New()).WithDeliveryQueue(&captureQueue{})
	e, err := b.Build()
	require.NoError(t, err)
	e.Close()
	_, err = b.Build()
	require.Error(t, err)
}
