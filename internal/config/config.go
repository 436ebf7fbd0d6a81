// Package config loads process configuration for the passkit binaries.
//
// Values are layered: built-in defaults, then an optional YAML file (with
// ${VAR} expansion), then PASSKIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PASSKIT_"

// Config is the full process configuration.
type Config struct {
	// Env is "development" or "production". Production turns on secure
	// cookies and JSON logs.
	Env      string         `yaml:"env" env:"ENV"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Mail     MailConfig     `yaml:"mail" envPrefix:"MAIL_"`
	Queue    QueueConfig    `yaml:"queue" envPrefix:"QUEUE_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	TrustProxy      bool          `yaml:"trust_proxy" env:"TRUST_PROXY"`
	CookieName      string        `yaml:"cookie_name" env:"COOKIE_NAME"`
	CookieDomain    string        `yaml:"cookie_domain" env:"COOKIE_DOMAIN"`
	// CORSOrigins lists origins allowed to send credentialed requests.
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// RedisConfig selects the KV store. With InMemory an embedded miniredis is
// started instead of dialing URL; meant for local runs only.
type RedisConfig struct {
	URL         string        `yaml:"url" env:"URL"`
	InMemory    bool          `yaml:"in_memory" env:"IN_MEMORY"`
	PoolSize    int           `yaml:"pool_size" env:"POOL_SIZE"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
}

// DatabaseConfig selects the user store. An empty DSN keeps users in memory.
type DatabaseConfig struct {
	DSN     string `yaml:"dsn" env:"DSN"`
	Migrate bool   `yaml:"migrate" env:"MIGRATE"`
}

// AuthConfig holds the engine settings operators usually tune.
type AuthConfig struct {
	SessionTTL           time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	CodeTTL              time.Duration `yaml:"code_ttl" env:"CODE_TTL"`
	CodeMaxAttempts      int           `yaml:"code_max_attempts" env:"CODE_MAX_ATTEMPTS"`
	ResendMax            int           `yaml:"resend_max" env:"RESEND_MAX"`
	ResendWindow         time.Duration `yaml:"resend_window" env:"RESEND_WINDOW"`
	RequireVerifiedEmail bool          `yaml:"require_verified_email" env:"REQUIRE_VERIFIED_EMAIL"`
	LoginMaxAttempts     int           `yaml:"login_max_attempts" env:"LOGIN_MAX_ATTEMPTS"`
	LoginCooldown        time.Duration `yaml:"login_cooldown" env:"LOGIN_COOLDOWN"`
	LoginThrottleByIP    bool          `yaml:"login_throttle_by_ip" env:"LOGIN_THROTTLE_BY_IP"`
	// AccessTokenSecret enables HS256 access tokens when set (>= 32 bytes).
	AccessTokenSecret string        `yaml:"access_token_secret" env:"ACCESS_TOKEN_SECRET"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL"`
	Issuer            string        `yaml:"issuer" env:"ISSUER"`
}

// MailConfig configures rendering and the outbound transport.
type MailConfig struct {
	// Transport is "smtp" or "log".
	Transport     string        `yaml:"transport" env:"TRANSPORT"`
	Host          string        `yaml:"host" env:"HOST"`
	Port          int           `yaml:"port" env:"PORT"`
	Username      string        `yaml:"username" env:"USERNAME"`
	Password      string        `yaml:"password" env:"PASSWORD"`
	From          string        `yaml:"from" env:"FROM"`
	TLS           string        `yaml:"tls" env:"TLS"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Product       string        `yaml:"product" env:"PRODUCT"`
	AttachmentDir string        `yaml:"attachment_dir" env:"ATTACHMENT_DIR"`
}

// QueueConfig configures the email queue and its workers.
type QueueConfig struct {
	Name              string        `yaml:"name" env:"NAME"`
	Prefix            string        `yaml:"prefix" env:"PREFIX"`
	MaxAttempts       int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffBase       time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax        time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	KeepCompleted     int           `yaml:"keep_completed" env:"KEEP_COMPLETED"`
	KeepFailed        int           `yaml:"keep_failed" env:"KEEP_FAILED"`
	Concurrency       int           `yaml:"concurrency" env:"CONCURRENCY"`
	LeaseTTL          time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	StallInterval     time.Duration `yaml:"stall_interval" env:"STALL_INTERVAL"`
	MaxStalledCount   int           `yaml:"max_stalled_count" env:"MAX_STALLED_COUNT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// InProcessWorker runs the worker pool inside the API server.
	InProcessWorker bool `yaml:"in_process_worker" env:"IN_PROCESS_WORKER"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// Default returns settings for a local development run.
func Default() Config {
	return Config{
		Env:      "development",
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CookieName:      "sid",
		},
		Redis: RedisConfig{
			URL:         "redis://localhost:6379/0",
			PoolSize:    20,
			DialTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			SessionTTL:           7 * 24 * time.Hour,
			CodeTTL:              15 * time.Minute,
			CodeMaxAttempts:      5,
			ResendMax:            5,
			ResendWindow:         time.Hour,
			RequireVerifiedEmail: true,
			LoginMaxAttempts:     5,
			LoginCooldown:        15 * time.Minute,
			AccessTokenTTL:       5 * time.Minute,
			Issuer:               "passkit",
		},
		Mail: MailConfig{
			Transport: "log",
			Host:      "localhost",
			Port:      587,
			From:      "no-reply@localhost",
			TLS:       "opportunistic",
			Timeout:   15 * time.Second,
			Product:   "Passkit",
		},
		Queue: QueueConfig{
			Name:              "email",
			Prefix:            "jobq",
			MaxAttempts:       5,
			BackoffBase:       time.Second,
			BackoffMax:        time.Hour,
			KeepCompleted:     500,
			KeepFailed:        500,
			Concurrency:       5,
			LeaseTTL:          30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			StallInterval:     5 * time.Second,
			MaxStalledCount:   2,
			ShutdownTimeout:   5 * time.Second,
			InProcessWorker:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 -- path comes from a command line flag
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the value of VAR.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// Production reports whether Env is production.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate checks the settings the binaries cannot run without. Component
// configs derived from c are validated again by their constructors.
func (c Config) Validate() error {
	switch strings.ToLower(c.Env) {
	case "development", "production":
	default:
		return fmt.Errorf("config: unknown env %q", c.Env)
	}
	if c.HTTP.Addr == "" {
		return errors.New("config: http.addr must be set")
	}
	if !c.Redis.InMemory && c.Redis.URL == "" {
		return errors.New("config: redis.url must be set unless redis.in_memory")
	}
	if c.Production() && c.Redis.InMemory {
		return errors.New("config: redis.in_memory is not allowed in production")
	}
	switch c.Mail.Transport {
	case "smtp", "log":
	default:
		return fmt.Errorf("config: unknown mail transport %q", c.Mail.Transport)
	}
	if c.Production() && c.Mail.Transport == "log" {
		return errors.New("config: mail.transport log is not allowed in production")
	}
	if s := c.Auth.AccessTokenSecret; s != "" && len(s) < 32 {
		return errors.New("config: auth.access_token_secret must be at least 32 bytes")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("config: metrics.path must start with /")
	}
	return nil
}
