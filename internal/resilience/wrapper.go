package resilience

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Wrapper composes retry (innermost) with the process-wide circuit breaker
// (outermost) around every outbound venue call, per the resilience design.
type Wrapper struct {
	breaker *CircuitBreaker
	retry   RetryConfig
	log     *logrus.Entry
}

// NewWrapper builds a Wrapper over breaker with the given retry config.
func NewWrapper(breaker *CircuitBreaker, retry RetryConfig, log *logrus.Entry) *Wrapper {
	return &Wrapper{breaker: breaker, retry: retry, log: log}
}

// Exec runs fn inside the retry loop (innermost), then records exactly one
// success or failure against the circuit breaker (outermost) for the whole
// operation — a venue call that fails all R retry attempts counts as a
// single circuit-breaker failure, not R of them. The breaker is consulted
// once up front so an OPEN breaker fails fast without even entering retry.
// opName is used only for logging/diagnostics.
func Exec[T any](ctx context.Context, w *Wrapper, opName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := w.breaker.Allow(); err != nil {
		if w.log != nil {
			w.log.WithField("op", opName).Warn("circuit breaker open, failing fast")
		}
		return zero, err
	}

	v, err := Retry(ctx, w.retry, fn)
	if err != nil {
		w.breaker.OnFailure()
		if w.log != nil {
			w.log.WithField("op", opName).WithError(err).Warn("operation failed after retries")
		}
		return zero, err
	}
	w.breaker.OnSuccess()
	return v, nil
}
