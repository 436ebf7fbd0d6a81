package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const hitScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var hitLua = redis.NewScript(hitScript)

// Client is the subset of go-redis used by the counters.
type Client interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Window is a fixed-window counter keyed by caller-supplied identifiers.
type Window struct {
	redis  Client
	prefix string
}

// NewWindow returns a counter whose keys are prefix + id.
func NewWindow(client Client, prefix string) *Window {
	return &Window{redis: client, prefix: prefix}
}

// Key returns the full store key for id.
func (w *Window) Key(id string) string {
	return w.prefix + id
}

// Hit increments the counter for id and returns the new count. The window TTL
// is applied on the first hit only.
func (w *Window) Hit(ctx context.Context, id string, window time.Duration) (int64, error) {
	if window < time.Millisecond {
		window = time.Millisecond
	}
	count, err := hitLua.Run(ctx, w.redis, []string{w.Key(id)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}

// Count returns the current counter value, zero when the window has expired.
func (w *Window) Count(ctx context.Context, id string) (int64, error) {
	count, err := w.redis.Get(ctx, w.Key(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Reset clears the counters for the given ids.
func (w *Window) Reset(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, w.Key(id))
	}
	if err := w.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
