package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/internal/rate"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrRedisUnavailable wraps every store failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidScope is returned for scopes outside the known set.
	ErrInvalidScope = errors.New("otp: invalid scope")
	// ErrInvalidEmail is returned for an empty email.
	ErrInvalidEmail = errors.New("otp: invalid email")
	// ErrInvalidCodeFormat is returned by Store for codes that are not 6 digits.
	ErrInvalidCodeFormat = errors.New("otp: code must be 6 digits")
)

const (
	CodeDigits = 6

	DefaultTTL          = 900 * time.Second
	DefaultMaxAttempts  = 5
	DefaultResendMax    = 5
	DefaultResendWindow = time.Hour
	DefaultOpTimeout    = 2 * time.Second
)

var (
	codeFloor = big.NewInt(100000)
	codeSpan  = big.NewInt(900000)
)

// Client is the subset of go-redis the manager needs.
type Client interface {
	rate.Client
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Config holds key prefixes and defaults used when callers pass zero values.
type Config struct {
	CodePrefix   string
	TriesPrefix  string
	ResendPrefix string

	DefaultTTL  time.Duration
	MaxAttempts int
	OpTimeout   time.Duration
}

// DefaultConfig returns the otp:/otp-tries:/otp-resend: layout with a 900s
// lifetime and 5 attempts.
func DefaultConfig() Config {
	return Config{
		CodePrefix:   "otp:",
		TriesPrefix:  "otp-tries:",
		ResendPrefix: "otp-resend:",
		DefaultTTL:   DefaultTTL,
		MaxAttempts:  DefaultMaxAttempts,
		OpTimeout:    DefaultOpTimeout,
	}
}

// Option customises a [Manager].
type Option func(*Manager)

// WithEventSink sets the sink for issue/verify events. Events never carry the
// email or the code.
func WithEventSink(sink events.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager issues and verifies one-time codes.
type Manager struct {
	redis  Client
	resend *rate.Window
	cfg    Config
	sink   events.Sink
	logger *zap.Logger
}

// NewManager creates a [Manager]. Zero fields in cfg fall back to [DefaultConfig].
func NewManager(client Client, cfg Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.CodePrefix == "" {
		cfg.CodePrefix = def.CodePrefix
	}
	if cfg.TriesPrefix == "" {
		cfg.TriesPrefix = def.TriesPrefix
	}
	if cfg.ResendPrefix == "" {
		cfg.ResendPrefix = def.ResendPrefix
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	m := &Manager{
		redis:  client,
		resend: rate.NewWindow(client, cfg.ResendPrefix),
		cfg:    cfg,
		sink:   events.NoOpSink{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateCode returns a uniformly random 6 digit code in 100000-999999.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("otp: read random: %w", err)
	}
	return n.Add(n, codeFloor).String(), nil
}

// NormalizeEmail trims and lower-cases an address before it is hashed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailHash returns the hex sha256 of the normalised email, the identifier
// used in every key.
func EmailHash(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

func codeDigest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) codeKey(scope Scope, emailHash string) string {
	return m.cfg.CodePrefix + string(scope) + ":" + emailHash
}

func (m *Manager) triesKey(scope Scope, emailHash string) string {
	return m.cfg.TriesPrefix + string(scope) + ":" + emailHash
}

func (m *Manager) resendID(scope Scope, emailHash string) string {
	return string(scope) + ":" + emailHash
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.OpTimeout)
}

func checkArgs(scope Scope, email string) error {
	if !scope.Valid() {
		return ErrInvalidScope
	}
	if NormalizeEmail(email) == "" {
		return ErrInvalidEmail
	}
	return nil
}

// IssueCode generates a fresh code, stores it for ttl (the configured default
// when ttl <= 0) and returns the plaintext for delivery. Any previous challenge
// for the same scope and email is replaced and its attempt counter reset.
func (m *Manager) IssueCode(ctx context.Context, scope Scope, email string, ttl time.Duration) (string, error) {
	if err := checkArgs(scope, email); err != nil {
		return "", err
	}
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	if err := m.Store(ctx, scope, email, code, ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Store records code as the active challenge. IssueCode is the normal entry
// point; Store exists for callers that generate codes themselves.
func (m *Manager) Store(ctx context.Context, scope Scope, email, code string, ttl time.Duration) error {
	if err := checkArgs(scope, email); err != nil {
		return err
	}
	if !wellFormed(code) {
		return ErrInvalidCodeFormat
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	emailHash := EmailHash(email)
	codeKey := m.codeKey(scope, emailHash)
	triesKey := m.triesKey(scope, emailHash)

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	_, err := m.redis.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Set(opCtx, codeKey, codeDigest(code), ttl)
		pipe.Set(opCtx, triesKey, 0, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	events.Emit(ctx, m.sink, events.Event{
		Type:     events.OTPIssued,
		Success:  true,
		Metadata: map[string]string{"scope": string(scope), "ttl": ttl.String()},
	})
	return nil
}

// VerifyCode checks code against the active challenge. maxAttempts <= 0 uses
// the configured default.
//
// Outcomes: no challenge gives expired_or_missing; a spent attempt budget gives
// too_many_attempts and the challenge is kept; a mismatch counts an attempt and
// gives invalid; a match deletes the challenge and gives ok.
func (m *Manager) VerifyCode(ctx context.Context, scope Scope, email, code string, maxAttempts int) (Result, error) {
	if err := checkArgs(scope, email); err != nil {
		return Result{}, err
	}
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.MaxAttempts
	}

	emailHash := EmailHash(email)
	keys := []string{m.codeKey(scope, emailHash), m.triesKey(scope, emailHash)}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	raw, err := reserveAttemptLua.Run(opCtx, m.redis, keys, maxAttempts).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	status, stored, err := parseReserve(raw)
	if err != nil {
		return Result{}, err
	}

	switch status {
	case reserveMissing:
		return m.reject(ctx, scope, ReasonExpiredOrMissing), nil
	case reserveLocked:
		m.emit(ctx, events.OTPLocked, scope, ReasonTooManyAttempts)
		return Result{Reason: ReasonTooManyAttempts}, nil
	}

	submitted := codeDigest(strings.TrimSpace(code))
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) != 1 {
		return m.reject(ctx, scope, ReasonInvalid), nil
	}

	consumed, err := consumeLua.Run(opCtx, m.redis, keys, stored).Int64()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if consumed != 1 {
		// reissued or consumed concurrently
		return m.reject(ctx, scope, ReasonExpiredOrMissing), nil
	}

	m.emit(ctx, events.OTPVerified, scope, ReasonOK)
	return Result{OK: true, Reason: ReasonOK}, nil
}

// CheckResendLimit counts one issue for scope and email and reports whether it
// is within maxPerWindow for the current window. The window starts at the first
// counted issue. The counter is independent of verification attempts.
func (m *Manager) CheckResendLimit(ctx context.Context, scope Scope, email string, maxPerWindow int, window time.Duration) (bool, error) {
	if err := checkArgs(scope, email); err != nil {
		return false, err
	}
	if maxPerWindow <= 0 {
		maxPerWindow = DefaultResendMax
	}
	if window <= 0 {
		window = DefaultResendWindow
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	count, err := m.resend.Hit(opCtx, m.resendID(scope, EmailHash(email)), window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(maxPerWindow) {
		events.Emit(ctx, m.sink, events.Event{
			Type:     events.OTPResendLimited,
			Metadata: map[string]string{"scope": string(scope)},
		})
		return false, nil
	}
	return true, nil
}

// Revoke deletes any active challenge for scope and email.
func (m *Manager) Revoke(ctx context.Context, scope Scope, email string) error {
	if err := checkArgs(scope, email); err != nil {
		return err
	}
	emailHash := EmailHash(email)

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	if err := m.redis.Del(opCtx, m.codeKey(scope, emailHash), m.triesKey(scope, emailHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (m *Manager) reject(ctx context.Context, scope Scope, reason Reason) Result {
	m.emit(ctx, events.OTPRejected, scope, reason)
	return Result{Reason: reason}
}

func (m *Manager) emit(ctx context.Context, eventType string, scope Scope, reason Reason) {
	events.Emit(ctx, m.sink, events.Event{
		Type:     eventType,
		Success:  reason == ReasonOK,
		Metadata: map[string]string{"scope": string(scope), "reason": string(reason)},
	})
}

func parseReserve(raw []interface{}) (int64, string, error) {
	if len(raw) == 0 {
		return 0, "", fmt.Errorf("%w: empty reserve reply", ErrRedisUnavailable)
	}
	status, ok := raw[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("%w: unexpected reserve reply %T", ErrRedisUnavailable, raw[0])
	}
	if status != reserveOK {
		return status, "", nil
	}
	if len(raw) < 2 {
		return 0, "", fmt.Errorf("%w: reserve reply missing digest", ErrRedisUnavailable)
	}
	stored, ok := raw[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("%w: unexpected digest type %T", ErrRedisUnavailable, raw[1])
	}
	return status, stored, nil
}

func wellFormed(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return code[0] != '0'
}
