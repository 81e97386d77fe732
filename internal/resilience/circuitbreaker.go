package resilience

import (
	"sync"
	"time"
)

// CircuitBreakerState is one of the three states of the breaker.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// CircuitBreakerConfig holds the breaker's thresholds and timeouts.
type CircuitBreakerConfig struct {
	FailureThreshold int           // F: failures counted in CLOSED (see FailureReset) to trip CLOSED->OPEN
	SuccessThreshold int           // S: consecutive successes to trip HALF_OPEN->CLOSED
	OpenTimeout      time.Duration // T_open: OPEN->HALF_OPEN after this elapses
	FailureReset     time.Duration // T_reset: a success this long after the last failure resets the failure counter in CLOSED
}

// DefaultCircuitBreakerConfig matches the thresholds named in the
// resilience design: F=5, S=3, T_open=2min, T_reset=10min.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		OpenTimeout:      2 * time.Minute,
		FailureReset:     10 * time.Minute,
	}
}

// CircuitBreaker is a process-wide, three-state failure isolator wrapping
// every outbound venue call.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	successCount     int
	lastFailureAt    time.Time
	stateChangedAt   time.Time
}

// NewCircuitBreaker builds a breaker starting CLOSED.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:            cfg,
		now:            time.Now,
		state:          StateClosed,
		stateChangedAt: time.Now(),
	}
}

// ErrOpen is returned by Allow (and by Wrapper.Exec) when the breaker
// fails fast.
type ErrOpen struct{}

func (ErrOpen) Error() string { return "CIRCUIT_BREAKER_OPEN" }

// Allow reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// if T_open has elapsed. It does not itself record the outcome; the caller
// must follow up with OnSuccess or OnFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.stateChangedAt) >= cb.cfg.OpenTimeout {
			cb.transitionLocked(StateHalfOpen)
			return nil
		}
		return ErrOpen{}
	case StateHalfOpen:
		return nil
	default:
		return nil
	}
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if !cb.lastFailureAt.IsZero() && cb.now().Sub(cb.lastFailureAt) >= cb.cfg.FailureReset {
			cb.failureCount = 0
		}
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case StateOpen:
		// should not normally happen (Allow would have failed fast), ignore
	}
}

// OnFailure records a failed call.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureAt = cb.now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionLocked(StateOpen)
		cb.successCount = 0
	case StateOpen:
		// already open
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitBreakerState) {
	cb.state = to
	cb.stateChangedAt = cb.now()
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status is an observable diagnostic snapshot, appendable to operator alerts.
type Status struct {
	State         CircuitBreakerState
	FailureCount  int
	SuccessCount  int
	LastFailureAt time.Time
}

// Snapshot returns the current diagnostic status.
func (cb *CircuitBreaker) Snapshot() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		LastFailureAt: cb.lastFailureAt,
	}
}

// Reset forces the breaker back to CLOSED with zeroed counters, per the
// round-trip law: reset() then N consecutive successes => CLOSED, count=0.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureAt = time.Time{}
	cb.stateChangedAt = cb.now()
}
