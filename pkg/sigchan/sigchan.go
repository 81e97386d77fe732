// Package sigchan provides a non-blocking broadcast signal: the shutdown
// cancellation token every worker polls (spec: "a shutdown signal is
// delivered via a broadcast token every worker polls").
package sigchan

import "sync"

// Chan is a non-blocking, idempotent, multi-reader signal.
type Chan struct {
	once sync.Once
	c    chan struct{}
}

// New creates an unfired signal.
func New() *Chan {
	return &Chan{c: make(chan struct{})}
}

// Emit fires the signal. Safe to call more than once; only the first call
// has an effect.
func (s *Chan) Emit() {
	s.once.Do(func() { close(s.c) })
}

// C returns the channel to select on; it closes when Emit is first called.
func (s *Chan) C() <-chan struct{} {
	return s.c
}

// Fired reports whether Emit has been called, without blocking.
func (s *Chan) Fired() bool {
	select {
	case <-s.c:
		return true
	default:
		return false
	}
}
