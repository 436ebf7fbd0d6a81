package queue

import (
	"errors"
	"time"
)

/*
====================================
QUEUE CONFIG
====================================
*/

// Config describes one named queue.
type Config struct {
	Name   string
	Prefix string

	// DefaultAttempts applies when Enqueue is not given WithMaxAttempts.
	DefaultAttempts int
	Backoff         Backoff

	// KeepCompleted and KeepFailed bound the retained finished jobs. Zero removes
	// a job as soon as it finishes; a negative value keeps everything.
	KeepCompleted int
	KeepFailed    int

	OpTimeout time.Duration
}

// DefaultConfig returns the settings used for the email queue.
func DefaultConfig() Config {
	return Config{
		Name:            "email",
		Prefix:          "jobq",
		DefaultAttempts: 5,
		Backoff: Backoff{
			Base:   time.Second,
			Max:    time.Hour,
			Jitter: 0.25,
		},
		KeepCompleted: 500,
		KeepFailed:    500,
		OpTimeout:     2 * time.Second,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("queue: Name must be set")
	}
	if c.Prefix == "" {
		return errors.New("queue: Prefix must be set")
	}
	if c.DefaultAttempts < 1 {
		return errors.New("queue: DefaultAttempts must be >= 1")
	}
	if c.Backoff.Base <= 0 {
		return errors.New("queue: Backoff.Base must be > 0")
	}
	if c.Backoff.Max > 0 && c.Backoff.Max < c.Backoff.Base {
		return errors.New("queue: Backoff.Max must be >= Backoff.Base")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		return errors.New("queue: Backoff.Jitter must be in [0, 1)")
	}
	if c.OpTimeout <= 0 {
		return errors.New("queue: OpTimeout must be > 0")
	}
	return nil
}

/*
====================================
WORKER CONFIG
====================================
*/

// WorkerConfig tunes a worker pool.
type WorkerConfig struct {
	Concurrency int
	// PollInterval is the idle wait between empty lease attempts.
	PollInterval time.Duration
	// LeaseTTL is how long a job stays owned without a heartbeat.
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	// StallInterval is how often expired leases are swept.
	StallInterval   time.Duration
	MaxStalledCount int
	// ShutdownTimeout bounds how long Close waits for in-flight handlers.
	ShutdownTimeout time.Duration
}

// DefaultWorkerConfig returns five slots with a 30s lease.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:       5,
		PollInterval:      250 * time.Millisecond,
		LeaseTTL:          30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StallInterval:     5 * time.Second,
		MaxStalledCount:   2,
		ShutdownTimeout:   5 * time.Second,
	}
}

// Validate reports configuration errors.
func (c WorkerConfig) Validate() error {
	if c.Concurrency < 1 {
		return errors.New("queue: Concurrency must be >= 1")
	}
	if c.PollInterval <= 0 {
		return errors.New("queue: PollInterval must be > 0")
	}
	if c.LeaseTTL <= 0 {
		return errors.New("queue: LeaseTTL must be > 0")
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseTTL {
		return errors.New("queue: HeartbeatInterval must be > 0 and < LeaseTTL")
	}
	if c.StallInterval <= 0 {
		return errors.New("queue: StallInterval must be > 0")
	}
	if c.MaxStalledCount < 0 {
		return errors.New("queue: MaxStalledCount must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("queue: ShutdownTimeout must be > 0")
	}
	return nil
}
