package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// State is the lifecycle position of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is a unit of work with its retry bookkeeping.
type Job struct {
	ID    string
	Queue string
	Type  string
	// Payload is the JSON document passed to Enqueue.
	Payload json.RawMessage

	// AttemptsMade counts finished attempts; it is 0 while the first attempt runs.
	AttemptsMade int
	MaxAttempts  int
	Backoff      time.Duration
	StalledCount int

	State     State
	LastError string
	CreatedAt time.Time
	NextRunAt time.Time
	StartedAt time.Time
	// FinishedAt is set once the job is completed or failed.
	FinishedAt time.Time

	token string
}

// Attempt returns the 1-based number of the attempt currently running.
func (j *Job) Attempt() int {
	return j.AttemptsMade + 1
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("queue: decode %s payload: %w", j.Type, err)
	}
	return nil
}

const (
	fieldType         = "type"
	fieldPayload      = "payload"
	fieldAttemptsMade = "attemptsMade"
	fieldMaxAttempts  = "maxAttempts"
	fieldBackoff      = "backoffMs"
	fieldStalledCount = "stalledCount"
	fieldState        = "state"
	fieldLastError    = "lastError"
	fieldCreatedAt    = "createdAt"
	fieldNextRunAt    = "nextRunAt"
	fieldStartedAt    = "startedAt"
	fieldFinishedAt   = "finishedAt"
	fieldToken        = "token"
)

func jobFromHash(queue, id string, h map[string]string) (*Job, error) {
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	j := &Job{
		ID:        id,
		Queue:     queue,
		Type:      h[fieldType],
		Payload:   json.RawMessage(h[fieldPayload]),
		State:     State(h[fieldState]),
		LastError: h[fieldLastError],
		token:     h[fieldToken],
	}

	var err error
	if j.AttemptsMade, err = atoiField(h, fieldAttemptsMade); err != nil {
		return nil, err
	}
	if j.MaxAttempts, err = atoiField(h, fieldMaxAttempts); err != nil {
		return nil, err
	}
	if j.StalledCount, err = atoiField(h, fieldStalledCount); err != nil {
		return nil, err
	}
	backoffMs, err := atoiField(h, fieldBackoff)
	if err != nil {
		return nil, err
	}
	j.Backoff = time.Duration(backoffMs) * time.Millisecond

	for field, dst := range map[string]*time.Time{
		fieldCreatedAt:  &j.CreatedAt,
		fieldNextRunAt:  &j.NextRunAt,
		fieldStartedAt:  &j.StartedAt,
		fieldFinishedAt: &j.FinishedAt,
	} {
		ms, err := atoiField(h, field)
		if err != nil {
			return nil, err
		}
		if ms > 0 {
			*dst = time.UnixMilli(int64(ms)).UTC()
		}
	}
	return j, nil
}

func atoiField(h map[string]string, field string) (int, error) {
	raw, ok := h[field]
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("queue: corrupt job field %s: %w", field, err)
	}
	return n, nil
}
