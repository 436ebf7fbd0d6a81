package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/passkit/events"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, mutate func(*Config), opts ...Option) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Backoff.Base = 20 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := New(rdb, cfg, opts...)
	require.NoError(t, err)
	return q, mr
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:       2,
		PollInterval:      5 * time.Millisecond,
		LeaseTTL:          time.Second,
		HeartbeatInterval: 200 * time.Millisecond,
		StallInterval:     50 * time.Millisecond,
		MaxStalledCount:   2,
		ShutdownTimeout:   2 * time.Second,
	}
}

func startWorker(t *testing.T, q *Queue, h Handler, cfg WorkerConfig, sink events.Sink) *Worker {
	t.Helper()
	w, err := NewWorker(q, h, cfg, WithWorkerEventSink(sink))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func waitForEvent(t *testing.T, sink *events.ChannelSink, eventType string) events.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

type payload struct {
	To string `json:"to"`
}

func TestEnqueueStoresWaitingJob(t *testing.T) {
	q, mr := newTestQueue(t, nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "send-verification-code", payload{To: "a@example.com"}, WithMaxAttempts(3))
	require.NoError(t, err)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Waiting: 1}, counts)

	job, err := q.Job(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "send-verification-code", job.Type)
	require.Equal(t, StateWaiting, job.State)
	require.Equal(t, 3, job.MaxAttempts)
	require.Equal(t, 0, job.AttemptsMade)
	require.Equal(t, 20*time.Millisecond, job.Backoff)

	var p payload
	require.NoError(t, job.Decode(&p))
	require.Equal(t, "a@example.com", p.To)

	require.True(t, mr.Exists("jobq:{test}:job:"+id))
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "", payload{})
	require.ErrorIs(t, err, ErrInvalidJobType)

	_, err = q.Enqueue(ctx, "x", []byte("{not json"))
	require.Error(t, err)

	_, err = q.Job(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestDelayedJobIsLeasedOnlyWhenDue(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	q, _ := newTestQueue(t, nil, WithClock(clock.Now))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "x", payload{}, WithDelay(time.Minute))
	require.NoError(t, err)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts.Delayed)

	job, err := q.lease(ctx, "tok", time.Second)
	require.NoError(t, err)
	require.Nil(t, job)

	clock.Advance(time.Minute)
	job, err = q.lease(ctx, "tok", time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, id, job.ID)
	require.Equal(t, StateActive, job.State)
}

func TestWorkerCompletesJob(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	sink := events.NewChannelSink(256)

	var seen atomic.Int32
	startWorker(t, q, HandlerFunc(func(ctx context.Context, job *Job) error {
		var p payload
		if err := job.Decode(&p); err != nil {
			return TerminalError(err)
		}
		if p.To == "ok@example.com" {
			seen.Add(1)
		}
		return nil
	}), testWorkerConfig(), sink)

	id, err := q.Enqueue(context.Background(), "x", payload{To: "ok@example.com"})
	require.NoError(t, err)

	ev := waitForEvent(t, sink, events.JobCompleted)
	require.Equal(t, id, ev.JobID)
	require.Equal(t, 1, ev.Attempt)
	require.Equal(t, int32(1), seen.Load())

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, job.State)
	require.Equal(t, 1, job.AttemptsMade)
	require.False(t, job.FinishedAt.IsZero())
}

func TestRetryableFailuresBackOffThenFail(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	sink := events.NewChannelSink(256)

	var calls atomic.Int32
	startWorker(t, q, HandlerFunc(func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("connection reset by peer")
	}), testWorkerConfig(), sink)

	id, err := q.Enqueue(context.Background(), "x", payload{}, WithMaxAttempts(4))
	require.NoError(t, err)

	var delays []time.Duration
	for len(delays) < 3 {
		ev := waitForEvent(t, sink, events.JobRetryScheduled)
		require.Equal(t, id, ev.JobID)
		require.Equal(t, len(delays)+1, ev.Attempt)
		delays = append(delays, ev.Delay)
	}
	failed := waitForEvent(t, sink, events.JobFailed)
	require.Equal(t, 4, failed.Attempt)
	require.False(t, failed.Success)

	for i := 1; i < len(delays); i++ {
		require.Greater(t, delays[i], delays[i-1], "delays must strictly increase: %v", delays)
	}
	require.Equal(t, int32(4), calls.Load())

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, job.State)
	require.Equal(t, 4, job.AttemptsMade)
	require.Equal(t, "connection reset by peer", job.LastError)
}

func TestTerminalFailureIsNotRetried(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	sink := events.NewChannelSink(256)

	var calls atomic.Int32
	startWorker(t, q, HandlerFunc(func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return Terminalf("smtp 550: mailbox unavailable")
	}), testWorkerConfig(), sink)

	id, err := q.Enqueue(context.Background(), "x", payload{}, WithMaxAttempts(5))
	require.NoError(t, err)

	ev := waitForEvent(t, sink, events.JobFailed)
	require.Equal(t, id, ev.JobID)
	require.Equal(t, 1, ev.Attempt)
	require.Equal(t, "terminal", ev.Metadata["classification"])
	require.Equal(t, int32(1), calls.Load())

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), counts.Delayed)
	require.Equal(t, int64(1), counts.Failed)
}

func TestHandlerPanicIsRetried(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	sink := events.NewChannelSink(256)

	var calls atomic.Int32
	startWorker(t, q, HandlerFunc(func(ctx context.Context, job *Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}), testWorkerConfig(), sink)

	_, err := q.Enqueue(context.Background(), "x", payload{})
	require.NoError(t, err)

	ev := waitForEvent(t, sink, events.JobRetryScheduled)
	require.Contains(t, ev.Error, "handler panic")
	waitForEvent(t, sink, events.JobCompleted)
}

func TestStalledJobIsRequeuedThenFailed(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	q, _ := newTestQueue(t, nil, WithClock(clock.Now))
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "x", payload{})
	require.NoError(t, err)

	for stall := 1; stall <= 2; stall++ {
		job, err := q.lease(ctx, fmt.Sprintf("dead-%d", stall), time.Second)
		require.NoError(t, err)
		require.Equal(t, id, job.ID)
		require.Equal(t, stall-1, job.StalledCount)

		clock.Advance(2 * time.Second)
		outcomes, err := q.recoverStalled(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, []stallOutcome{{id: id, state: StateWaiting}}, outcomes)
	}

	_, err = q.lease(ctx, "dead-3", time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	outcomes, err := q.recoverStalled(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []stallOutcome{{id: id, state: StateFailed}}, outcomes)

	job, err := q.Job(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateFailed, job.State)
	require.Equal(t, 3, job.StalledCount)
}

func TestLiveLeaseIsNotRecovered(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	q, _ := newTestQueue(t, nil, WithClock(clock.Now))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "x", payload{})
	require.NoError(t, err)
	job, err := q.lease(ctx, "tok", 10*time.Second)
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	ok, err := q.extendLease(ctx, job, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Advance(8 * time.Second)
	outcomes, err := q.recoverStalled(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestSettleRejectedAfterLeaseMovesOn(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	q, _ := newTestQueue(t, nil, WithClock(clock.Now))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "x", payload{})
	require.NoError(t, err)

	first, err := q.lease(ctx, "first", time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	_, err = q.recoverStalled(ctx, 2)
	require.NoError(t, err)

	second, err := q.lease(ctx, "second", time.Second)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	ok, err := q.complete(ctx, first)
	require.NoError(t, err)
	require.False(t, ok, "stale owner must not settle")

	ok, err = q.extendLease(ctx, first, time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = q.complete(ctx, second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWorkerRecoversAbandonedLease(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	ctx := context.Background()
	sink := events.NewChannelSink(256)

	id, err := q.Enqueue(ctx, "x", payload{})
	require.NoError(t, err)
	_, err = q.lease(ctx, "crashed-worker", 10*time.Millisecond)
	require.NoError(t, err)

	startWorker(t, q, HandlerFunc(func(ctx context.Context, job *Job) error { return nil }), testWorkerConfig(), sink)

	stalled := waitForEvent(t, sink, events.JobStalled)
	require.Equal(t, id, stalled.JobID)
	done := waitForEvent(t, sink, events.JobCompleted)
	require.Equal(t, id, done.JobID)
}

func TestCloseWaitsForInFlightJob(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	sink := events.NewChannelSink(256)

	started := make(chan struct{})
	release := make(chan struct{})
	w, err := NewWorker(q, HandlerFunc(func(ctx context.Context, job *Job) error {
		close(started)
		<-release
		return nil
	}), testWorkerConfig(), WithWorkerEventSink(sink))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	id, err := q.Enqueue(context.Background(), "x", payload{})
	require.NoError(t, err)
	<-started

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return after job finished")
	}

	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, job.State)
}

func TestCloseTimeoutAbandonsJob(t *testing.T) {
	q, _ := newTestQueue(t, nil)

	started := make(chan struct{})
	cfg := testWorkerConfig()
	cfg.ShutdownTimeout = 50 * time.Millisecond
	w, err := NewWorker(q, HandlerFunc(func(ctx context.Context, job *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	id, err := q.Enqueue(context.Background(), "x", payload{})
	require.NoError(t, err)
	<-started

	require.ErrorIs(t, w.Close(), ErrShutdownTimeout)

	// give the cancelled handler a moment to return
	time.Sleep(20 * time.Millisecond)
	job, err := q.Job(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, StateActive, job.State, "abandoned job stays leased for stall recovery")
}

func TestCompletedRetentionIsBounded(t *testing.T) {
	q, _ := newTestQueue(t, func(c *Config) { c.KeepCompleted = 2 })
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := q.Enqueue(ctx, "x", payload{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for range ids {
		job, err := q.lease(ctx, "tok", time.Second)
		require.NoError(t, err)
		ok, err := q.complete(ctx, job)
		require.NoError(t, err)
		require.True(t, ok)
	}

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), counts.Completed)

	_, err = q.Job(ctx, ids[0])
	require.ErrorIs(t, err, ErrJobNotFound)

	recent, err := q.Finished(ctx, StateCompleted, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, ids[3], recent[0].ID)
}

func TestStartTwice(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	w := startWorker(t, q, HandlerFunc(func(context.Context, *Job) error { return nil }), testWorkerConfig(), events.NoOpSink{})
	require.ErrorIs(t, w.Start(context.Background()), ErrWorkerStarted)
}

func TestCloseWithoutStart(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	w, err := NewWorker(q, HandlerFunc(func(context.Context, *Job) error { return nil }), testWorkerConfig())
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestStartAfterClose(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	w, err := NewWorker(q, HandlerFunc(func(context.Context, *Job) error { return nil }), testWorkerConfig())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Start(context.Background()), ErrWorkerClosed)
}

func TestConcurrentStartAndClose(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	for i := 0; i < 50; i++ {
		w, err := NewWorker(q, HandlerFunc(func(context.Context, *Job) error { return nil }), testWorkerConfig())
		require.NoError(t, err)

		var wg sync.WaitGroup
		var startErr, closeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			startErr = w.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			closeErr = w.Close()
		}()
		wg.Wait()

		require.NoError(t, closeErr)
		if startErr != nil {
			require.ErrorIs(t, startErr, ErrWorkerClosed)
		} else {
			require.NoError(t, w.Close())
		}
	}
}
