// Package kvstore owns the Redis client lifecycle for passkit processes: it opens the
// connection, verifies it with a bounded PING and closes it on shutdown. Components
// never construct their own client; they receive the one returned by [Open].
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the store cannot be reached.
var ErrUnavailable = errors.New("kv store unavailable")

const defaultPingTimeout = 2 * time.Second

// Config describes how to reach Redis.
type Config struct {
	URL            string
	ConnectionName string
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PoolSize       int
	PingTimeout    time.Duration
}

// Open parses cfg.URL, connects and pings. The caller owns the returned client
// and must release it with [Close].
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse url: %w", err)
	}
	if cfg.ConnectionName != "" {
		opts.ClientName = cfg.ConnectionName
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	client.AddHook(dialLogger{logger: logger.With(zap.String("component", "redis"), zap.String("addr", opts.Addr))})

	if err := HealthCheck(ctx, client, cfg.PingTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info("redis ready", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}

// HealthCheck pings the store and fails after timeout (2s when zero).
func HealthCheck(ctx context.Context, client redis.Cmdable, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the client. Errors are logged, not returned, so shutdown
// paths can defer it.
func Close(client *redis.Client, logger *zap.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		logger.Warn("redis close failed", zap.Error(err))
		return
	}
	logger.Info("redis connection closed")
}

// dialLogger reports connection failures. Command errors are left to callers.
type dialLogger struct {
	logger *zap.Logger
}

func (h dialLogger) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warn("redis dial failed", zap.Error(err))
		}
		return conn, err
	}
}

func (h dialLogger) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h dialLogger) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
