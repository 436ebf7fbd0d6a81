package rate

import "errors"

var (
	// ErrRateLimited is returned when a counter is above its limit.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps any store failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
