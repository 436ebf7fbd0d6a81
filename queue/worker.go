package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/passkit/events"
	"go.uber.org/zap"
)

// Handler processes one job. Returning nil completes it; errors are classified
// with [Classify].
type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// WorkerOption customises a [Worker].
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(logger *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithWorkerEventSink sets the sink for worker-side job events.
func WithWorkerEventSink(sink events.Sink) WorkerOption {
	return func(w *Worker) {
		w.sink = sink
	}
}

// Worker leases jobs from a [Queue] and runs them on a fixed number of
// goroutines.
type Worker struct {
	q       *Queue
	handler Handler
	cfg     WorkerConfig
	logger  *zap.Logger
	sink    events.Sink

	// lifecycle guards started and closed so Close never observes a
	// half-initialised Start.
	lifecycle sync.Mutex
	started   bool
	closed    bool
	abandoned atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error

	jobCtx     context.Context
	cancelJobs context.CancelFunc
	wg         sync.WaitGroup
	inFlight   atomic.Int64
}

// NewWorker validates cfg and returns an idle worker. Call Start to begin.
func NewWorker(q *Queue, handler Handler, cfg WorkerConfig, opts ...WorkerOption) (*Worker, error) {
	if q == nil {
		return nil, errors.New("queue: worker needs a queue")
	}
	if handler == nil {
		return nil, errors.New("queue: worker needs a handler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Worker{
		q:       q,
		handler: handler,
		cfg:     cfg,
		logger:  q.logger,
		sink:    q.sink,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("queue", q.cfg.Name))
	return w, nil
}

// Start launches the worker goroutines and the stall sweeper. Cancelling ctx
// stops leasing new jobs the same way Close does, but Close must still be
// called to wait for in-flight work.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	if w.closed {
		return ErrWorkerClosed
	}
	if w.started {
		return ErrWorkerStarted
	}
	w.started = true
	w.jobCtx, w.cancelJobs = context.WithCancel(context.WithoutCancel(ctx))

	// leases left behind by a previous process are reclaimed right away
	w.sweepStalled()

	w.wg.Add(w.cfg.Concurrency + 1)
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.runSlot()
	}
	go w.runStallSweeper()

	go func() {
		select {
		case <-ctx.Done():
			w.stopLeasing()
		case <-w.stop:
		}
	}()

	w.logger.Info("worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("lease_ttl", w.cfg.LeaseTTL),
	)
	return nil
}

// InFlight returns the number of handlers currently running.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// Close stops leasing and waits up to ShutdownTimeout for running handlers.
// Handlers still running after that get their context cancelled and their jobs
// are left for stall recovery; Close then returns [ErrShutdownTimeout].
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.stopLeasing()
		w.lifecycle.Lock()
		w.closed = true
		started := w.started
		w.lifecycle.Unlock()
		if !started {
			return
		}

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(w.cfg.ShutdownTimeout)
		defer timer.Stop()

		select {
		case <-done:
			w.logger.Info("worker stopped")
		case <-timer.C:
			w.abandoned.Store(true)
			w.closeErr = ErrShutdownTimeout
			w.logger.Warn("worker shutdown timed out; in-flight jobs left to stall recovery",
				zap.Int64("in_flight", w.inFlight.Load()),
			)
		}
		w.cancelJobs()
	})
	return w.closeErr
}

func (w *Worker) stopLeasing() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) idle(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stop:
	case <-timer.C:
	}
}

func (w *Worker) runSlot() {
	defer w.wg.Done()

	for !w.stopping() {
		token, err := newLeaseToken()
		if err != nil {
			w.logger.Error("lease token", zap.Error(err))
			w.idle(w.cfg.PollInterval)
			continue
		}

		job, err := w.q.lease(w.jobCtx, token, w.cfg.LeaseTTL)
		if err != nil {
			if w.stopping() {
				return
			}
			w.logger.Warn("lease failed", zap.Error(err))
			w.idle(w.cfg.PollInterval)
			continue
		}
		if job == nil {
			w.idle(w.cfg.PollInterval)
			continue
		}

		w.process(job)
	}
}

func (w *Worker) process(job *Job) {
	w.inFlight.Add(1)
	defer w.inFlight.Add(-1)

	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempt()),
	)
	w.emit(job, events.JobActive, func(ev *events.Event) { ev.Success = true })

	hbCtx, stopHeartbeat := context.WithCancel(w.jobCtx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		w.heartbeat(hbCtx, job, log)
	}()

	start := time.Now()
	err := w.run(job)
	elapsed := time.Since(start)

	stopHeartbeat()
	<-hbDone

	if w.abandoned.Load() {
		return
	}
	w.settle(job, err, elapsed, log)
}

func (w *Worker) run(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = RetryableError(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return w.handler.Handle(w.jobCtx, job)
}

// heartbeat keeps the lease alive while the handler runs. Losing the lease does
// not interrupt the handler; its settle step is rejected instead.
func (w *Worker) heartbeat(ctx context.Context, job *Job, log *zap.Logger) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.q.extendLease(ctx, job, w.cfg.LeaseTTL)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("lease heartbeat failed", zap.Error(err))
				}
				continue
			}
			if !ok {
				log.Warn("lease lost while job was running")
				w.emit(job, events.JobLeaseLost, nil)
				return
			}
		}
	}
}

// settle records the handler outcome. Settling uses a context detached from
// shutdown so a finished job is not left active just because Close began.
func (w *Worker) settle(job *Job, handlerErr error, elapsed time.Duration, log *zap.Logger) {
	ctx := context.WithoutCancel(w.jobCtx)

	if handlerErr == nil {
		ok, err := w.q.complete(ctx, job)
		w.afterSettle(job, ok, err, log, func() {
			w.emit(job, events.JobCompleted, func(ev *events.Event) {
				ev.Success = true
				ev.Duration = elapsed
			})
		})
		return
	}

	class := Classify(handlerErr)
	if class == Terminal || job.Attempt() >= job.MaxAttempts {
		ok, err := w.q.fail(ctx, job, handlerErr)
		w.afterSettle(job, ok, err, log, func() {
			log.Warn("job failed",
				zap.String("classification", class.String()),
				zap.Int("max_attempts", job.MaxAttempts),
				zap.Error(handlerErr),
			)
			w.emit(job, events.JobFailed, func(ev *events.Event) {
				ev.Duration = elapsed
				ev.Error = handlerErr.Error()
				ev.Metadata = map[string]string{"classification": class.String()}
			})
		})
		return
	}

	delay := w.q.cfg.Backoff.Delay(job.Attempt(), job.Backoff)
	ok, err := w.q.retry(ctx, job, w.q.now().Add(delay), handlerErr)
	w.afterSettle(job, ok, err, log, func() {
		log.Info("job retry scheduled", zap.Duration("delay", delay), zap.Error(handlerErr))
		w.emit(job, events.JobRetryScheduled, func(ev *events.Event) {
			ev.Delay = delay
			ev.Duration = elapsed
			ev.Error = handlerErr.Error()
		})
	})
}

func (w *Worker) afterSettle(job *Job, ok bool, err error, log *zap.Logger, onSuccess func()) {
	switch {
	case err != nil:
		// lease expiry hands the job to stall recovery
		log.Error("settle failed", zap.Error(err))
	case !ok:
		log.Warn("settle rejected: lease no longer held")
		w.emit(job, events.JobLeaseLost, nil)
	default:
		onSuccess()
	}
}

func (w *Worker) runStallSweeper() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.StallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.sweepStalled()
		}
	}
}

func (w *Worker) sweepStalled() {
	outcomes, err := w.q.recoverStalled(w.jobCtx, w.cfg.MaxStalledCount)
	if err != nil {
		if !w.stopping() {
			w.logger.Warn("stall sweep failed", zap.Error(err))
		}
		return
	}
	for _, o := range outcomes {
		job := &Job{ID: o.id}
		if o.state == StateFailed {
			w.logger.Warn("stalled job failed", zap.String("job_id", o.id))
			w.emit(job, events.JobFailed, func(ev *events.Event) {
				ev.Error = "job stalled more than allowable limit"
				ev.Metadata = map[string]string{"classification": Terminal.String()}
			})
			continue
		}
		w.logger.Warn("stalled job returned to wait", zap.String("job_id", o.id))
		w.emit(job, events.JobStalled, nil)
	}
}

func (w *Worker) emit(job *Job, eventType string, mutate func(*events.Event)) {
	ev := events.Event{
		Type:    eventType,
		Queue:   w.q.cfg.Name,
		JobID:   job.ID,
		JobType: job.Type,
		Attempt: job.Attempt(),
	}
	if mutate != nil {
		mutate(&ev)
	}
	events.Emit(context.Background(), w.sink, ev)
}

func newLeaseToken() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}
