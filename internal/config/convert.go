package config

import (
	"strings"
	"time"

	"github.com/MrEthical07/passkit"
	"github.com/MrEthical07/passkit/internal/kvstore"
	"github.com/MrEthical07/passkit/jwt"
	"github.com/MrEthical07/passkit/mail"
	"github.com/MrEthical07/passkit/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EngineConfig maps the auth section onto the engine defaults.
func (c Config) EngineConfig() passkit.Config {
	cfg := passkit.DefaultConfig()

	cfg.Session.TTL = c.Auth.SessionTTL
	cfg.OTP.CodeTTL = c.Auth.CodeTTL
	cfg.OTP.MaxAttempts = c.Auth.CodeMaxAttempts
	cfg.OTP.ResendMax = c.Auth.ResendMax
	cfg.OTP.ResendWindow = c.Auth.ResendWindow
	cfg.Login.RequireVerifiedEmail = c.Auth.RequireVerifiedEmail
	cfg.Login.MaxAttempts = c.Auth.LoginMaxAttempts
	cfg.Login.CooldownDuration = c.Auth.LoginCooldown
	cfg.Login.ThrottleByIP = c.Auth.LoginThrottleByIP
	cfg.Metrics.Enabled = c.Metrics.Enabled

	if c.Auth.AccessTokenSecret != "" {
		cfg.AccessToken.Enabled = true
		cfg.AccessToken.JWT = jwt.Config{
			TTL:    c.Auth.AccessTokenTTL,
			Method: jwt.MethodHS256,
			Secret: []byte(c.Auth.AccessTokenSecret),
			Issuer: c.Auth.Issuer,
		}
	}
	return cfg
}

// QueueConfig returns the email queue settings.
func (c Config) QueueConfig() queue.Config {
	cfg := queue.DefaultConfig()
	cfg.Name = c.Queue.Name
	cfg.Prefix = c.Queue.Prefix
	cfg.DefaultAttempts = c.Queue.MaxAttempts
	cfg.Backoff.Base = c.Queue.BackoffBase
	cfg.Backoff.Max = c.Queue.BackoffMax
	cfg.KeepCompleted = c.Queue.KeepCompleted
	cfg.KeepFailed = c.Queue.KeepFailed
	return cfg
}

// WorkerConfig returns the worker pool settings.
func (c Config) WorkerConfig() queue.WorkerConfig {
	cfg := queue.DefaultWorkerConfig()
	cfg.Concurrency = c.Queue.Concurrency
	cfg.LeaseTTL = c.Queue.LeaseTTL
	cfg.HeartbeatInterval = c.Queue.HeartbeatInterval
	cfg.StallInterval = c.Queue.StallInterval
	cfg.MaxStalledCount = c.Queue.MaxStalledCount
	cfg.ShutdownTimeout = c.Queue.ShutdownTimeout
	return cfg
}

// SMTPConfig returns the SMTP transport settings.
func (c Config) SMTPConfig() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		From:     c.Mail.From,
		TLS:      c.Mail.TLS,
		Timeout:  c.Mail.Timeout,
	}
}

// KVConfig returns the Redis connection settings. name identifies the
// process in CLIENT LIST.
func (c Config) KVConfig(name string) kvstore.Config {
	return kvstore.Config{
		URL:            c.Redis.URL,
		ConnectionName: name,
		DialTimeout:    c.Redis.DialTimeout,
		ReadTimeout:    3 * time.Second,
		WriteTimeout:   3 * time.Second,
		PoolSize:       c.Redis.PoolSize,
		PingTimeout:    c.Redis.DialTimeout,
	}
}

// NewLogger builds a zap logger: JSON in production, console otherwise.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if c.Production() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
