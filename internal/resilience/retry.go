package resilience

import (
	"context"
	"time"
)

// RetryConfig controls the exponential backoff retry loop.
type RetryConfig struct {
	MaxAttempts  int           // R
	InitialDelay time.Duration // base
}

// DefaultRetryConfig matches the resilience design: R=3 attempts,
// base=1s, delay = base * 2^(attempt-1).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Second}
}

// Retry runs fn up to cfg.MaxAttempts times, sleeping
// cfg.InitialDelay*2^(attempt-1) between attempts, and returns the last
// error if every attempt failed. It respects ctx cancellation between
// attempts.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		delay := cfg.InitialDelay * time.Duration(int64(1)<<uint(attempt-1))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
