package queue

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base doubled per attempt, stretched by up to
// Jitter (a fraction below 1) and capped at Max. With Jitter < 1 consecutive
// delays are strictly increasing until the cap is reached.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before the attempt that follows the failed attempt
// number attempt (1-based).
func (b Backoff) Delay(attempt int, base time.Duration) time.Duration {
	return b.delay(attempt, base, rand.Float64)
}

func (b Backoff) delay(attempt int, base time.Duration, rnd func() float64) time.Duration {
	if base <= 0 {
		base = b.Base
	}
	if base <= 0 {
		base = time.Second
	}
	if attempt < 1 {
		attempt = 1
	}

	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if b.Jitter > 0 {
		exp += exp * b.Jitter * rnd()
	}
	if b.Max > 0 && exp > float64(b.Max) {
		return b.Max
	}
	if exp > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(exp)
}
