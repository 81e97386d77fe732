package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensOnFifthFailure(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	for i := 0; i < 4; i++ {
		require.NoError(t, cb.Allow())
		cb.OnFailure()
		assert.Equal(t, StateClosed, cb.State())
	}

	require.NoError(t, cb.Allow())
	cb.OnFailure() // 5th failure
	assert.Equal(t, StateOpen, cb.State())

	// 6th call fails fast.
	err := cb.Allow()
	assert.ErrorIs(t, err, ErrOpen{})
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.OpenTimeout = 10 * time.Millisecond
	cb := NewCircuitBreaker(cfg)

	require.NoError(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow()) // transitions to HALF_OPEN
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < cfg.SuccessThreshold; i++ {
		cb.OnSuccess()
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = 1
	cfg.OpenTimeout = 5 * time.Millisecond
	cb := NewCircuitBreaker(cfg)

	cb.OnFailure()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.OnFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerResetThenSuccessesCloseClean(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	cb.OnFailure()
	cb.OnFailure()
	cb.Reset()

	for i := 0; i < 3; i++ {
		cb.OnSuccess()
	}
	snap := cb.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestRetryExhaustsAndSurfacesLastError(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	_, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		attempts++
		return 0, boom
	})
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, boom)
}

func TestRetrySucceedsWithoutExhausting(t *testing.T) {
	attempts := 0
	v, err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, attempts)
}

// TestWrapperExecCircuitBreakerOpensAfterSixFailingCalls is scenario S1:
// six consecutive failing calls to exec(..., "opX"); the first five bump
// failure_count to 5 and flip state to OPEN, the sixth fails fast with
// CIRCUIT_BREAKER_OPEN. Retries are disabled (MaxAttempts=1) so each Exec
// call counts as exactly one circuit-breaker outcome.
func TestWrapperExecCircuitBreakerOpensAfterSixFailingCalls(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	w := NewWrapper(cb, RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond}, nil)

	failing := func(ctx context.Context) (int, error) {
		return 0, errors.New("venue unavailable")
	}

	for i := 0; i < 5; i++ {
		_, err := Exec(context.Background(), w, "opX", failing)
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	_, err := Exec(context.Background(), w, "opX", failing)
	assert.ErrorIs(t, err, ErrOpen{})
}
