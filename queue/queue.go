package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/passkit/events"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	promoteBatch = 100
	stallBatch   = 100
)

// Client is the subset of go-redis the queue needs.
type Client interface {
	redis.Scripter
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Pipeline() redis.Pipeliner
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// Option customises a [Queue].
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithEventSink sets the sink for job lifecycle events.
func WithEventSink(sink events.Sink) Option {
	return func(q *Queue) {
		q.sink = sink
	}
}

// WithClock overrides the clock used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue is the producer side of a named queue. It is safe for concurrent use.
type Queue struct {
	redis  Client
	cfg    Config
	logger *zap.Logger
	sink   events.Sink
	now    func() time.Time

	waitKey      string
	activeKey    string
	delayedKey   string
	leasesKey    string
	completedKey string
	failedKey    string
	jobPrefix    string
}

// New creates a queue handle. No keys are written until the first Enqueue.
func New(client Client, cfg Config, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, errors.New("queue: redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := cfg.Prefix + ":{" + cfg.Name + "}:"
	q := &Queue{
		redis:        client,
		cfg:          cfg,
		logger:       zap.NewNop(),
		sink:         events.NoOpSink{},
		now:          time.Now,
		waitKey:      base + "wait",
		activeKey:    base + "active",
		delayedKey:   base + "delayed",
		leasesKey:    base + "leases",
		completedKey: base + "completed",
		failedKey:    base + "failed",
		jobPrefix:    base + "job:",
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.cfg.Name
}

// Config returns the queue configuration.
func (q *Queue) Config() Config {
	return q.cfg
}

func (q *Queue) jobKey(id string) string {
	return q.jobPrefix + id
}

func (q *Queue) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.cfg.OpTimeout)
}

type enqueueOptions struct {
	maxAttempts int
	backoff     time.Duration
	delay       time.Duration
}

// EnqueueOption overrides per-job settings.
type EnqueueOption func(*enqueueOptions)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the base retry delay for this job.
func WithBackoff(base time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if base > 0 {
			o.backoff = base
		}
	}
}

// WithDelay postpones the first attempt.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// Enqueue stores a job and makes it available to workers. payload is encoded
// as JSON unless it already is a json.RawMessage or []byte.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (string, error) {
	if jobType == "" {
		return "", ErrInvalidJobType
	}

	o := enqueueOptions{
		maxAttempts: q.cfg.DefaultAttempts,
		backoff:     q.cfg.Backoff.Base,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var body []byte
	switch p := payload.(type) {
	case json.RawMessage:
		body = p
	case []byte:
		body = p
	default:
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("queue: encode %s payload: %w", jobType, err)
		}
	}
	if !json.Valid(body) {
		return "", fmt.Errorf("queue: %s payload is not valid JSON", jobType)
	}

	id := uuid.NewString()
	now := q.now()
	runAt := now.Add(o.delay)
	state := StateWaiting
	if o.delay > 0 {
		state = StateDelayed
	}

	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	_, err := q.redis.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.HSet(opCtx, q.jobKey(id), map[string]interface{}{
			fieldType:         jobType,
			fieldPayload:      string(body),
			fieldAttemptsMade: 0,
			fieldMaxAttempts:  o.maxAttempts,
			fieldBackoff:      o.backoff.Milliseconds(),
			fieldStalledCount: 0,
			fieldState:        string(state),
			fieldCreatedAt:    now.UnixMilli(),
			fieldNextRunAt:    runAt.UnixMilli(),
		})
		if o.delay > 0 {
			pipe.ZAdd(opCtx, q.delayedKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
		} else {
			pipe.LPush(opCtx, q.waitKey, id)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	events.Emit(ctx, q.sink, events.Event{
		Type:    events.JobEnqueued,
		Queue:   q.cfg.Name,
		JobID:   id,
		JobType: jobType,
		Delay:   o.delay,
		Success: true,
	})
	return id, nil
}

// Job loads a job by id.
func (q *Queue) Job(ctx context.Context, id string) (*Job, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	h, err := q.redis.HGetAll(opCtx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return jobFromHash(q.cfg.Name, id, h)
}

// Counts is a point-in-time size of each state.
type Counts struct {
	Waiting   int64
	Active    int64
	Delayed   int64
	Completed int64
	Failed    int64
}

// Counts returns the number of jobs per state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	pipe := q.redis.Pipeline()
	waiting := pipe.LLen(opCtx, q.waitKey)
	active := pipe.LLen(opCtx, q.activeKey)
	delayed := pipe.ZCard(opCtx, q.delayedKey)
	completed := pipe.LLen(opCtx, q.completedKey)
	failed := pipe.LLen(opCtx, q.failedKey)
	if _, err := pipe.Exec(opCtx); err != nil {
		return Counts{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Finished returns up to limit of the most recent completed or failed jobs.
func (q *Queue) Finished(ctx context.Context, state State, limit int64) ([]*Job, error) {
	var key string
	switch state {
	case StateCompleted:
		key = q.completedKey
	case StateFailed:
		key = q.failedKey
	default:
		return nil, fmt.Errorf("queue: %q is not a finished state", state)
	}
	if limit <= 0 {
		limit = 50
	}

	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	ids, err := q.redis.LRange(opCtx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		h, err := q.redis.HGetAll(opCtx, q.jobKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		job, err := jobFromHash(q.cfg.Name, id, h)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// lease claims the next runnable job, or returns nil when none is ready.
func (q *Queue) lease(ctx context.Context, token string, ttl time.Duration) (*Job, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	now := q.now()
	id, err := leaseLua.Run(opCtx, q.redis,
		[]string{q.waitKey, q.activeKey, q.delayedKey, q.leasesKey},
		now.UnixMilli(), now.Add(ttl).UnixMilli(), token, q.jobPrefix, promoteBatch,
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	h, err := q.redis.HGetAll(opCtx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	job, err := jobFromHash(q.cfg.Name, id, h)
	if err != nil {
		return nil, err
	}
	job.token = token
	return job, nil
}

func (q *Queue) extendLease(ctx context.Context, job *Job, ttl time.Duration) (bool, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	ok, err := heartbeatLua.Run(opCtx, q.redis,
		[]string{q.leasesKey},
		job.ID, job.token, q.jobPrefix, q.now().Add(ttl).UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok == 1, nil
}

func (q *Queue) complete(ctx context.Context, job *Job) (bool, error) {
	return q.finish(ctx, job, StateCompleted, "", q.completedKey, q.cfg.KeepCompleted)
}

func (q *Queue) fail(ctx context.Context, job *Job, cause error) (bool, error) {
	return q.finish(ctx, job, StateFailed, errorText(cause), q.failedKey, q.cfg.KeepFailed)
}

func (q *Queue) finish(ctx context.Context, job *Job, state State, lastError, target string, keep int) (bool, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	ok, err := finishLua.Run(opCtx, q.redis,
		[]string{q.activeKey, q.leasesKey, target},
		job.ID, job.token, q.jobPrefix, q.now().UnixMilli(), string(state), lastError, keep,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok == 1, nil
}

func (q *Queue) retry(ctx context.Context, job *Job, runAt time.Time, cause error) (bool, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	ok, err := retryLua.Run(opCtx, q.redis,
		[]string{q.activeKey, q.leasesKey, q.delayedKey},
		job.ID, job.token, q.jobPrefix, runAt.UnixMilli(), errorText(cause),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok == 1, nil
}

type stallOutcome struct {
	id    string
	state State
}

func (q *Queue) recoverStalled(ctx context.Context, maxStalled int) ([]stallOutcome, error) {
	opCtx, cancel := q.opContext(ctx)
	defer cancel()

	raw, err := recoverStalledLua.Run(opCtx, q.redis,
		[]string{q.waitKey, q.activeKey, q.leasesKey, q.failedKey},
		q.now().UnixMilli(), q.jobPrefix, maxStalled, q.cfg.KeepFailed, stallBatch,
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]stallOutcome, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		out = append(out, stallOutcome{id: raw[i], state: State(raw[i+1])})
	}
	return out, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	return msg
}
