package metrics

import (
	"sync/atomic"
	"time"
)

// ID names one counter or histogram.
type ID uint16

const (
	UserRegistered ID = iota
	LoginSuccess
	LoginFailure
	LoginThrottled
	Logout
	SessionCreated
	SessionDeleted
	SessionRevokedAll
	SessionTouchFailed
	OTPIssued
	OTPVerified
	OTPRejected
	OTPLocked
	OTPResendLimited
	EmailVerified
	PasswordResetRequested
	PasswordResetCompleted
	EmailChangeRequested
	EmailChangeConfirmed
	JobEnqueued
	JobCompleted
	JobRetried
	JobFailed
	JobStalled
	JobLeaseLost
	// JobDuration is the only histogram.
	JobDuration
	idCount
)

// BucketCount is the number of histogram buckets, the last one unbounded.
const BucketCount = 8

// BucketBounds are the inclusive upper bounds of the first BucketCount-1
// buckets.
var BucketBounds = [BucketCount - 1]time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]uint64
	sumNs   uint64
}

// Metrics is safe for concurrent use. A nil *Metrics ignores writes.
type Metrics struct {
	counters [idCount]paddedCounter
	hist     histogram
}

// Snapshot is a point-in-time copy. Histogram buckets are not cumulative.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
	// Sums holds the total observed seconds per histogram.
	Sums map[ID]float64
}

// New returns zeroed metrics.
func New() *Metrics {
	return &Metrics{}
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id ID) {
	if m == nil || id >= idCount || id == JobDuration {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// ObserveJob records one job attempt duration.
func (m *Metrics) ObserveJob(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	atomic.AddUint64(&m.hist.buckets[bucketIndex(d)], 1)
	atomic.AddUint64(&m.hist.sumNs, uint64(d))
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter and the histogram.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Counters:   make(map[ID]uint64, int(idCount)),
		Histograms: make(map[ID][]uint64, 1),
		Sums:       make(map[ID]float64, 1),
	}
	if m == nil {
		return s
	}
	for id := ID(0); id < idCount; id++ {
		if id == JobDuration {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	buckets := make([]uint64, BucketCount)
	for i := range buckets {
		buckets[i] = atomic.LoadUint64(&m.hist.buckets[i])
	}
	s.Histograms[JobDuration] = buckets
	s.Sums[JobDuration] = time.Duration(atomic.LoadUint64(&m.hist.sumNs)).Seconds()
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d <= bound {
			return i
		}
	}
	return BucketCount - 1
}
