// Package app wires the process-level dependencies shared by the passkit
// binaries: the Redis client, the user store, the email queue and the engine.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/passkit"
	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/internal/config"
	"github.com/MrEthical07/passkit/internal/kvstore"
	"github.com/MrEthical07/passkit/mail"
	"github.com/MrEthical07/passkit/metrics"
	"github.com/MrEthical07/passkit/notify"
	"github.com/MrEthical07/passkit/queue"
	"github.com/MrEthical07/passkit/userstore/memory"
	"github.com/MrEthical07/passkit/userstore/postgres"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Runtime holds the long-lived dependencies of one process. Close releases
// them in reverse order of acquisition.
type Runtime struct {
	Config  config.Config
	Logger  *zap.Logger
	Redis   *redis.Client
	Users   passkit.UserStore
	Queue   *queue.Queue
	Metrics metrics.Source

	// Sink receives engine, session, code and queue events.
	Sink events.Sink

	dispatcher *events.Dispatcher
	closers    []func()
}

// Open connects the stores and the queue. name identifies the process in
// logs and in the Redis connection name.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger, name string) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	m := metrics.New()
	sinks := events.Multi{events.NewZapSink(logger.Named("events")), metrics.NewSink(m)}
	rt.dispatcher = events.NewDispatcher(events.Config{Enabled: true, BufferSize: 4096, DropIfFull: true}, sinks)
	rt.Sink = rt.dispatcher
	rt.Metrics = metrics.NewSource(m, rt.dispatcher.Dropped)
	rt.closers = append(rt.closers, rt.dispatcher.Close)

	if err := rt.openRedis(ctx, name); err != nil {
		return nil, err
	}
	if err := rt.openUsers(ctx); err != nil {
		return nil, err
	}

	q, err := queue.New(rt.Redis, cfg.QueueConfig(),
		queue.WithLogger(logger.Named("queue")),
		queue.WithEventSink(rt.Sink),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	rt.Queue = q

	ok = true
	return rt, nil
}

func (rt *Runtime) openRedis(ctx context.Context, name string) error {
	if rt.Config.Redis.InMemory {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		rt.closers = append(rt.closers, mr.Close)
		rt.Redis = redis.NewClient(&redis.Options{Addr: mr.Addr(), ClientName: name})
		rt.closers = append(rt.closers, func() { kvstore.Close(rt.Redis, rt.Logger) })
		rt.Logger.Warn("using in-memory redis; data is lost on exit", zap.String("addr", mr.Addr()))
		return nil
	}

	client, err := kvstore.Open(ctx, rt.Config.KVConfig(name), rt.Logger)
	if err != nil {
		return err
	}
	rt.Redis = client
	rt.closers = append(rt.closers, func() { kvstore.Close(client, rt.Logger) })
	return nil
}

func (rt *Runtime) openUsers(ctx context.Context) error {
	dsn := rt.Config.Database.DSN
	if dsn == "" {
		rt.Logger.Warn("no database configured; accounts are kept in memory")
		rt.Users = memory.New()
		return nil
	}
	if rt.Config.Database.Migrate {
		if err := postgres.Migrate(ctx, dsn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		rt.Logger.Info("database migrations applied")
	}
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	rt.Users = store
	rt.closers = append(rt.closers, store.Close)
	return nil
}

// Engine builds the auth engine on top of the runtime.
func (rt *Runtime) Engine() (*passkit.Engine, error) {
	cfg := rt.Config.EngineConfig()
	// counted by the runtime sink
	cfg.Metrics.Enabled = false

	return passkit.New().
		WithConfig(cfg).
		WithRedis(rt.Redis).
		WithUserStore(rt.Users).
		WithDeliveryQueue(rt.Queue).
		WithLogger(rt.Logger.Named("engine")).
		WithEventSink(rt.Sink).
		Build()
}

// Transport returns the configured mail transport.
func (rt *Runtime) Transport() (mail.Transport, error) {
	switch rt.Config.Mail.Transport {
	case "smtp":
		t, err := mail.NewSMTPTransport(rt.Config.SMTPConfig(), rt.Logger.Named("smtp"))
		if err != nil {
			return nil, err
		}
		return t, nil
	case "log":
		return mail.NewLogTransport(rt.Logger.Named("mail"), 0), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", rt.Config.Mail.Transport)
	}
}

// Worker builds, but does not start, the email worker pool.
func (rt *Runtime) Worker() (*queue.Worker, error) {
	transport, err := rt.Transport()
	if err != nil {
		return nil, err
	}
	renderer, err := notify.NewRenderer(rt.Config.Mail.Product, rt.Config.Auth.CodeTTL)
	if err != nil {
		return nil, err
	}

	opts := []notify.DispatcherOption{
		notify.WithLogger(rt.Logger.Named("notify")),
		notify.WithSender(rt.Config.Mail.From),
	}
	if dir := rt.Config.Mail.AttachmentDir; dir != "" {
		opts = append(opts, notify.WithAttachmentDir(dir))
	}
	handler, err := notify.NewDispatcher(transport, renderer, opts...)
	if err != nil {
		return nil, err
	}

	return queue.NewWorker(rt.Queue, handler, rt.Config.WorkerConfig(),
		queue.WithWorkerLogger(rt.Logger.Named("worker")),
		queue.WithWorkerEventSink(rt.Sink),
	)
}

// Ready reports whether the backing stores answer.
func (rt *Runtime) Ready(ctx context.Context) error {
	var errs []error
	if err := kvstore.HealthCheck(ctx, rt.Redis, 0); err != nil {
		errs = append(errs, err)
	}
	if p, ok := rt.Users.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases everything Open acquired.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
