package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/passkit/events"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrRedisUnavailable wraps every store failure returned by [Store].
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidUserID is returned when a session is created without a usable user id.
	ErrInvalidUserID = errors.New("session: invalid user id")
	// ErrInvalidMetadata is returned when a user agent or IP exceeds
	// [MaxMetadataLen] bytes.
	ErrInvalidMetadata = errors.New("session: metadata too long")
)

const (
	idBytes         = 32
	encodedIDLength = 43 // base64.RawURLEncoding.EncodedLen(idBytes)

	DefaultTTL       = 7 * 24 * time.Hour
	DefaultOpTimeout = 2 * time.Second
)

// createSessionScript writes the record and indexes it under the user,
// dropping index members whose records already expired.
const createSessionScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
local members = redis.call("SMEMBERS", KEYS[2])
for _, id in ipairs(members) do
  if redis.call("EXISTS", ARGV[4] .. id) == 0 then
    redis.call("SREM", KEYS[2], id)
  end
end
redis.call("SADD", KEYS[2], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// touchSessionScript slides the record TTL and keeps the user index alive at
// least as long. The user id is read from the record header (version, len, id).
const touchSessionScript = `
if redis.call("PEXPIRE", KEYS[1], ARGV[1]) == 0 then
  return 0
end
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
local user_len = string.byte(data, 2)
if user_len and user_len > 0 and #data >= 2 + user_len then
  local index_key = ARGV[2] .. string.sub(data, 3, 2 + user_len)
  if redis.call("PTTL", index_key) < tonumber(ARGV[1]) then
    redis.call("PEXPIRE", index_key, ARGV[1])
  end
end
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Client is the subset of go-redis the store needs. The scripts touch the
// record, the user index and sibling records in one call, so the client must
// talk to a single Redis node (standalone or Sentinel failover); Cluster and
// Ring clients are not supported.
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Config controls key layout and lifetimes.
type Config struct {
	// TTL is the sliding lifetime. Every touch resets the remaining life to TTL.
	TTL             time.Duration
	KeyPrefix       string
	UserIndexPrefix string
	// OpTimeout bounds every store round trip.
	OpTimeout time.Duration
}

// DefaultConfig returns a 7 day lifetime with sess: keys.
func DefaultConfig() Config {
	return Config{
		TTL:             DefaultTTL,
		KeyPrefix:       "sess:",
		UserIndexPrefix: "sess-user:",
		OpTimeout:       DefaultOpTimeout,
	}
}

// Option customises a [Store].
type Option func(*Store)

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventSink sets the sink that receives session lifecycle events.
func WithEventSink(sink events.Sink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is a Redis-backed session store with sliding expiration.
type Store struct {
	redis  Client
	cfg    Config
	logger *zap.Logger
	sink   events.Sink
	now    func() time.Time
}

// NewStore creates a session [Store]. Zero fields in cfg fall back to
// [DefaultConfig].
func NewStore(client Client, cfg Config, opts ...Option) *Store {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.UserIndexPrefix == "" {
		cfg.UserIndexPrefix = def.UserIndexPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	s := &Store{
		redis:  client,
		cfg:    cfg,
		logger: zap.NewNop(),
		sink:   events.NoOpSink{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the configured sliding lifetime.
func (s *Store) TTL() time.Duration {
	return s.cfg.TTL
}

func (s *Store) key(sessionID string) string {
	return s.cfg.KeyPrefix + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.cfg.UserIndexPrefix + userID
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// Create stores a new session for userID and returns its id.
func (s *Store) Create(ctx context.Context, userID string, meta Metadata) (string, error) {
	sessionID, err := newSessionID()
	if err != nil {
		return "", err
	}

	data, err := Encode(&Session{
		UserID:    userID,
		CreatedAt: s.now(),
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
	})
	if err != nil {
		return "", err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	err = createSessionLua.Run(opCtx, s.redis,
		[]string{s.key(sessionID), s.userKey(userID)},
		data, s.cfg.TTL.Milliseconds(), sessionID, s.cfg.KeyPrefix,
	).Err()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	events.Emit(ctx, s.sink, events.Event{
		Type:      events.SessionCreated,
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
	})
	return sessionID, nil
}

// Get returns the session or nil when it is missing, expired, malformed or the
// id itself is not a well-formed session id. Only store failures are errors.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	if !validSessionID(sessionID) {
		return nil, nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.redis.Get(opCtx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		s.logger.Debug("discarding undecodable session record", zap.Error(err))
		return nil, nil
	}
	sess.SessionID = sessionID
	return sess, nil
}

// Touch resets the session TTL to the full lifetime. Failures are logged and
// reported as events but never returned: a missed touch only shortens the
// session by the time since the last successful one.
func (s *Store) Touch(ctx context.Context, sessionID string) {
	if !validSessionID(sessionID) {
		return
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	err := touchSessionLua.Run(opCtx, s.redis,
		[]string{s.key(sessionID)},
		s.cfg.TTL.Milliseconds(), s.cfg.UserIndexPrefix,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("session touch failed", zap.Error(err))
		events.Emit(ctx, s.sink, events.Event{
			Type:      events.SessionTouchFailed,
			SessionID: sessionID,
			Error:     err.Error(),
		})
	}
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if !validSessionID(sessionID) {
		return nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	key := s.key(sessionID)
	data, err := s.redis.Get(opCtx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var userID string
	if sess, decodeErr := Decode(data); decodeErr == nil {
		userID = sess.UserID
	}

	_, err = s.redis.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.Del(opCtx, key)
		if userID != "" {
			pipe.SRem(opCtx, s.userKey(userID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	events.Emit(ctx, s.sink, events.Event{
		Type:      events.SessionDeleted,
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
	})
	return nil
}

// DeleteAllForUser removes every indexed session of userID and returns how many
// index entries were dropped.
//
// Not atomic with concurrent Create: a session created between SMEMBERS and DEL
// survives and is caught by the next call.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidUserID
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	userKey := s.userKey(userID)
	sessionIDs, err := s.redis.SMembers(opCtx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, userKey)

	if err := s.redis.Del(opCtx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	events.Emit(ctx, s.sink, events.Event{
		Type:     events.SessionRevokedAll,
		UserID:   userID,
		Success:  true,
		Metadata: map[string]string{"count": fmt.Sprint(len(sessionIDs))},
	})
	return len(sessionIDs), nil
}

func newSessionID() (string, error) {
	var raw [idBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("session: read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func validSessionID(id string) bool {
	if len(id) != encodedIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
