// Command passkit-loadtest measures session lookups, sliding renewals and
// queue throughput against Redis, or an embedded miniredis when no address is
// given.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/passkit/queue"
	"github.com/MrEthical07/passkit/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 50000, "number of sessions to seed")
		users       = flag.Int("users", 5000, "number of distinct users owning the sessions")
		concurrency = flag.Int("concurrency", 128, "number of concurrent callers")
		ops         = flag.Int("ops", 100000, "operations per session phase")
		jobs        = flag.Int("jobs", 20000, "jobs enqueued and drained in the queue phase")
		slots       = flag.Int("worker-slots", 16, "worker concurrency in the queue phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "lt", "key prefix, keeps load test keys apart from real ones")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 || *jobs <= 0 || *slots <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency, ops, jobs and worker-slots must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	store := session.NewStore(client, session.Config{
		TTL:             24 * time.Hour,
		KeyPrefix:       *prefix + "-sess:",
		UserIndexPrefix: *prefix + "-sess-user:",
		OpTimeout:       2 * time.Second,
	})

	fmt.Printf("seeding %d sessions for %d users...\n", *sessions, *users)
	ids := make([]string, *sessions)
	startSeed := time.Now()
	for i := range ids {
		id, err := store.Create(ctx, fmt.Sprintf("user-%d", i%*users), session.Metadata{UserAgent: "loadtest", IP: "127.0.0.1"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = id
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		s, err := store.Get(ctx, ids[r.Intn(len(ids))])
		if err == nil && s == nil {
			return errMissing
		}
		return err
	})
	touchStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		store.Touch(ctx, ids[r.Intn(len(ids))])
		return nil
	})
	enqueueStats, drain, err := runQueuePhase(ctx, client, *prefix, *jobs, *concurrency, *slots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue phase: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("session get", getStats)
	printStats("session touch", touchStats)
	printStats("enqueue", enqueueStats)
	fmt.Printf("drain: jobs=%d total=%s jobs/sec=%.0f\n",
		*jobs, drain.Round(time.Millisecond), float64(*jobs)/drain.Seconds())
}

var errMissing = errors.New("session missing")

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runQueuePhase enqueues jobs concurrently, then times a worker pool with a
// no-op handler until every job has completed.
func runQueuePhase(ctx context.Context, client redis.UniversalClient, prefix string, jobs, concurrency, slots int) (phaseStats, time.Duration, error) {
	cfg := queue.DefaultConfig()
	cfg.Name = "loadtest"
	cfg.Prefix = prefix + "-jobq"
	cfg.KeepCompleted = 0
	q, err := queue.New(client, cfg)
	if err != nil {
		return phaseStats{}, 0, err
	}

	enqueue := runPhase(jobs, concurrency, func(r *rand.Rand) error {
		_, err := q.Enqueue(ctx, "noop", map[string]int{"n": r.Int()})
		return err
	})

	expected := int64(jobs) - enqueue.failures
	if expected == 0 {
		return enqueue, 0, errors.New("every enqueue failed")
	}

	var done atomic.Int64
	finished := make(chan struct{})
	handler := queue.HandlerFunc(func(context.Context, *queue.Job) error {
		if done.Add(1) == expected {
			close(finished)
		}
		return nil
	})

	wcfg := queue.DefaultWorkerConfig()
	wcfg.Concurrency = slots
	wcfg.PollInterval = 10 * time.Millisecond
	w, err := queue.NewWorker(q, handler, wcfg)
	if err != nil {
		return phaseStats{}, 0, err
	}

	start := time.Now()
	if err := w.Start(ctx); err != nil {
		return phaseStats{}, 0, err
	}
	<-finished
	drain := time.Since(start)
	if err := w.Close(); err != nil {
		return phaseStats{}, 0, err
	}
	return enqueue, drain, nil
}

// runPhase calls op ops times from concurrency goroutines and records the
// latency of every call.
func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[(len(sorted)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
