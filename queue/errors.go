package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrRedisUnavailable wraps every store failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrJobNotFound is returned by [Queue.Job] for unknown or pruned jobs.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrInvalidJobType is returned by [Queue.Enqueue] for an empty job type.
	ErrInvalidJobType = errors.New("queue: invalid job type")
	// ErrShutdownTimeout is returned by [Worker.Close] when in-flight jobs had to
	// be abandoned to stall recovery.
	ErrShutdownTimeout = errors.New("queue: shutdown timed out with jobs in flight")
	// ErrWorkerStarted is returned when Start is called twice.
	ErrWorkerStarted = errors.New("queue: worker already started")
	// ErrWorkerClosed is returned when Start is called after Close.
	ErrWorkerClosed = errors.New("queue: worker closed")
)

// Classification tells the worker what to do with a failed job.
type Classification uint8

const (
	// Retryable failures are rescheduled with backoff until attempts run out.
	Retryable Classification = iota
	// Terminal failures move the job to failed immediately.
	Terminal
)

func (c Classification) String() string {
	switch c {
	case Terminal:
		return "terminal"
	default:
		return "retryable"
	}
}

// JobError is an error tagged with its classification.
type JobError struct {
	Class Classification
	Err   error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return e.Class.String()
	}
	return e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// TerminalError tags err as permanent. A nil err stays nil.
func TerminalError(err error) error {
	if err == nil {
		return nil
	}
	return &JobError{Class: Terminal, Err: err}
}

// RetryableError tags err as transient. A nil err stays nil.
func RetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &JobError{Class: Retryable, Err: err}
}

// Terminalf formats a terminal error.
func Terminalf(format string, args ...any) error {
	return TerminalError(fmt.Errorf(format, args...))
}

// Classify returns the tag carried by err. Untagged errors are retryable.
func Classify(err error) Classification {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Class
	}
	return Retryable
}
