package passkit

import (
	"errors"
	"time"

	"github.com/MrEthical07/passkit/jwt"
	"github.com/MrEthical07/passkit/password"
)

// Config holds every engine setting. Build a value from [DefaultConfig] and
// override fields; the engine copies it and never mutates it afterwards.
type Config struct {
	Session     SessionConfig
	OTP         OTPConfig
	Password    password.Config
	Login       LoginConfig
	AccessToken AccessTokenConfig
	Events      EventsConfig
	Metrics     MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session store.
type SessionConfig struct {
	// TTL is the sliding lifetime reset by every authenticated request.
	TTL             time.Duration
	KeyPrefix       string
	UserIndexPrefix string
	OpTimeout       time.Duration
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls one-time code lifetimes and budgets. The same limits
// apply to every scope.
type OTPConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
	// ResendMax codes may be issued per scope and email within ResendWindow.
	ResendMax    int
	ResendWindow time.Duration
	KeyPrefix    string
	OpTimeout    time.Duration
}

/*
====================================
LOGIN CONFIG
====================================
*/

// LoginConfig controls the login flow.
type LoginConfig struct {
	RequireVerifiedEmail bool
	// Throttle enables the fixed-window failed-login limiter.
	Throttle         bool
	ThrottleByIP     bool
	MaxAttempts      int
	CooldownDuration time.Duration
	// RehashOnLogin upgrades stored hashes whose parameters are outdated.
	RehashOnLogin bool
}

/*
====================================
ACCESS TOKEN CONFIG
====================================
*/

// AccessTokenConfig enables short-lived session-bound JWTs issued at login.
type AccessTokenConfig struct {
	Enabled bool
	JWT     jwt.Config
}

/*
====================================
EVENTS & METRICS CONFIG
====================================
*/

// EventsConfig controls delivery to the event sink. With Async the sink is
// fed from a buffered goroutine; DropIfFull makes emitters never block.
type EventsConfig struct {
	Async      bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process counters exposed by
// [Engine.MetricsSnapshot].
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns production defaults: 7 day sliding sessions, 15
// minute codes with 5 attempts, 5 resends per hour and login throttling.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TTL:             7 * 24 * time.Hour,
			KeyPrefix:       "sess:",
			UserIndexPrefix: "sess-user:",
			OpTimeout:       2 * time.Second,
		},
		OTP: OTPConfig{
			CodeTTL:      15 * time.Minute,
			MaxAttempts:  5,
			ResendMax:    5,
			ResendWindow: time.Hour,
			KeyPrefix:    "otp",
			OpTimeout:    2 * time.Second,
		},
		Password: password.DefaultConfig(),
		Login: LoginConfig{
			RequireVerifiedEmail: true,
			Throttle:             true,
			ThrottleByIP:         false,
			MaxAttempts:          5,
			CooldownDuration:     15 * time.Minute,
			RehashOnLogin:        true,
		},
		AccessToken: AccessTokenConfig{
			Enabled: false,
			JWT: jwt.Config{
				TTL:    5 * time.Minute,
				Method: jwt.MethodEd25519,
			},
		},
		Events: EventsConfig{
			Async:      true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.AccessToken.JWT.Secret = cloneBytes(cfg.AccessToken.JWT.Secret)
	out.AccessToken.JWT.PrivateKey = cloneBytes(cfg.AccessToken.JWT.PrivateKey)
	out.AccessToken.JWT.PublicKey = cloneBytes(cfg.AccessToken.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.KeyPrefix == "" || c.Session.UserIndexPrefix == "" {
		return errors.New("Session key prefixes must be set")
	}
	if c.Session.KeyPrefix == c.Session.UserIndexPrefix {
		return errors.New("Session KeyPrefix and UserIndexPrefix must differ")
	}
	if c.Session.OpTimeout <= 0 {
		return errors.New("Session OpTimeout must be > 0")
	}

	// OTP
	if c.OTP.CodeTTL <= 0 {
		return errors.New("OTP CodeTTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.ResendMax <= 0 {
		return errors.New("OTP ResendMax must be > 0")
	}
	if c.OTP.ResendWindow <= 0 {
		return errors.New("OTP ResendWindow must be > 0")
	}
	if c.OTP.KeyPrefix == "" {
		return errors.New("OTP KeyPrefix must be set")
	}
	if c.OTP.OpTimeout <= 0 {
		return errors.New("OTP OpTimeout must be > 0")
	}

	// Password
	if err := c.Password.Validate(); err != nil {
		return err
	}

	// Login
	if c.Login.Throttle {
		if c.Login.MaxAttempts <= 0 {
			return errors.New("Login MaxAttempts must be > 0 when Throttle is enabled")
		}
		if c.Login.CooldownDuration <= 0 {
			return errors.New("Login CooldownDuration must be > 0 when Throttle is enabled")
		}
	}

	// Access tokens
	if c.AccessToken.Enabled {
		if c.AccessToken.JWT.TTL <= 0 {
			return errors.New("AccessToken TTL must be > 0")
		}
		if c.AccessToken.JWT.TTL > c.Session.TTL {
			return errors.New("AccessToken TTL must not exceed Session TTL")
		}
	}

	// Events
	if c.Events.Async && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when Async is enabled")
	}

	return nil
}
