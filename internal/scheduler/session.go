// Package scheduler implements the Session Controller (wall-clock gating of
// the trading session) and the Cycle Scheduler (fixed-interval Builder
// ticks within an active session).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/domain"
)

// WorkerFunc is a background worker started by the Session Controller once
// the session enters ACTIVE. It must return promptly when ctx is cancelled.
type WorkerFunc func(ctx context.Context)

// Session gates the trading day: it sleeps until T_start, starts its
// workers, and tears them down at T_end (or on cancellation).
type Session struct {
	window  func(now time.Time) (start, end time.Time, err error)
	workers []WorkerFunc
	log     *logrus.Entry
	alerts  alert.Sink
	events  alert.EventLogger

	mu     sync.Mutex
	state  domain.SessionState
	cancel context.CancelFunc
}

// NewSession builds a Session Controller. window resolves the configured
// [T_start, T_end) window against a given day (see config.Config.SessionWindow).
func NewSession(window func(time.Time) (time.Time, time.Time, error), workers []WorkerFunc, log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Session {
	return &Session{window: window, workers: workers, log: log, alerts: alerts, events: events}
}

// State reports the current session lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the session is currently ACTIVE. The Cycle
// Scheduler polls this as one of its stop conditions.
func (s *Session) IsActive() bool {
	return s.State() == domain.SessionActive
}

// Start blocks until the session ends (at T_end, or when ctx is cancelled).
// If now is already past T_end, it alerts and returns immediately without
// ever entering ACTIVE. If now is before T_start, it sleeps (interruptibly)
// until T_start, then starts every worker and arms the end-of-session timer.
// Once the session ends it waits for every worker to return.
func (s *Session) Start(ctx context.Context) error {
	now := time.Now()
	start, end, err := s.window(now)
	if err != nil {
		return err
	}

	if !now.Before(end) {
		s.alerts.Alert(alert.Format(alert.TagCycle, "session missed: now is already past the configured end time"))
		return nil
	}

	if now.Before(start) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(start.Sub(now)):
		}
	}

	if !s.transition(domain.SessionActive) {
		return nil // already active or ended by a concurrent caller
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range s.workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			w(sessionCtx)
		}()
	}
	s.events.Emit(alert.SessionStarted, map[string]interface{}{"start": start, "end": end})

	remaining := time.Until(end)
	if remaining < 0 {
		remaining = 0
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		s.endSession("context cancelled")
		wg.Wait()
		return ctx.Err()
	case <-timer.C:
		s.endSession("session end reached")
	}
	wg.Wait()
	return nil
}

// Stop ends the session early (e.g. on an emergency shutdown request). A
// no-op if the session was never started or has already ended.
func (s *Session) Stop() {
	s.endSession("shutdown requested")
}

// endSession is idempotent: only the first caller tears workers down.
func (s *Session) endSession(reason string) {
	s.mu.Lock()
	if s.state == domain.SessionEnded {
		s.mu.Unlock()
		return
	}
	s.state = domain.SessionEnded
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.events.Emit(alert.CycleCompleted, map[string]interface{}{"reason": reason})
}

// transition moves state to target exactly once; a no-op (returning false)
// if the session is already at or past a terminal state.
func (s *Session) transition(target domain.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == target || s.state == domain.SessionEnded {
		return false
	}
	s.state = target
	return true
}
