package passkit

import (
	"errors"
	"time"

	"github.com/MrEthical07/passkit/events"
	"github.com/MrEthical07/passkit/internal/rate"
	"github.com/MrEthical07/passkit/jwt"
	"github.com/MrEthical07/passkit/metrics"
	"github.com/MrEthical07/passkit/notify"
	"github.com/MrEthical07/passkit/otp"
	"github.com/MrEthical07/passkit/password"
	"github.com/MrEthical07/passkit/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A builder can be used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     UserStore
	delivery  notify.Enqueuer
	logger    *zap.Logger
	eventSink events.Sink
	now       func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client shared by the session, code and throttle stores.
// The caller owns its lifecycle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the account store.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithDeliveryQueue sets the queue email jobs are enqueued on.
func (b *Builder) WithDeliveryQueue(q notify.Enqueuer) *Builder {
	b.delivery = q
	return b
}

// WithLogger sets the logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithEventSink sets the sink for engine, session and code events. Metrics are
// fed alongside it when enabled.
func (b *Builder) WithEventSink(sink events.Sink) *Builder {
	b.eventSink = sink
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.users == nil {
		return nil, errors.New("user store is required")
	}
	if b.delivery == nil {
		return nil, errors.New("delivery queue is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	cfg := b.config
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	var tokens *jwt.Manager
	if cfg.AccessToken.Enabled {
		tokens, err = jwt.NewManager(cfg.AccessToken.JWT)
		if err != nil {
			return nil, err
		}
	}

	var m *metrics.Metrics
	sinks := events.Multi{}
	if b.eventSink != nil {
		sinks = append(sinks, b.eventSink)
	}
	if cfg.Metrics.Enabled {
		m = metrics.New()
		sinks = append(sinks, metrics.NewSink(m))
	}

	var sink events.Sink = events.NoOpSink{}
	var dispatcher *events.Dispatcher
	if len(sinks) > 0 {
		sink = sinks
		if cfg.Events.Async {
			dispatcher = events.NewDispatcher(events.Config{
				Enabled:    true,
				BufferSize: cfg.Events.BufferSize,
				DropIfFull: cfg.Events.DropIfFull,
			}, sinks)
			sink = dispatcher
		}
	}

	sessions := session.NewStore(b.redis, session.Config{
		TTL:             cfg.Session.TTL,
		KeyPrefix:       cfg.Session.KeyPrefix,
		UserIndexPrefix: cfg.Session.UserIndexPrefix,
		OpTimeout:       cfg.Session.OpTimeout,
	},
		session.WithLogger(logger.Named("session")),
		session.WithEventSink(sink),
		session.WithClock(now),
	)

	codes := otp.NewManager(b.redis, otp.Config{
		CodePrefix:   cfg.OTP.KeyPrefix + ":",
		TriesPrefix:  cfg.OTP.KeyPrefix + "-tries:",
		ResendPrefix: cfg.OTP.KeyPrefix + "-resend:",
		DefaultTTL:   cfg.OTP.CodeTTL,
		MaxAttempts:  cfg.OTP.MaxAttempts,
		OpTimeout:    cfg.OTP.OpTimeout,
	},
		otp.WithLogger(logger.Named("otp")),
		otp.WithEventSink(sink),
	)

	var limiter *rate.Limiter
	if cfg.Login.Throttle {
		limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:      cfg.Login.ThrottleByIP,
			MaxLoginAttempts:      cfg.Login.MaxAttempts,
			LoginCooldownDuration: cfg.Login.CooldownDuration,
		})
	}

	b.built = true
	return &Engine{
		config:     cfg,
		users:      b.users,
		sessions:   sessions,
		codes:      codes,
		limiter:    limiter,
		hasher:     hasher,
		tokens:     tokens,
		mailer:     notify.NewProducer(b.delivery),
		sink:       sink,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		now:        now,
	}, nil
}
