// Package shutdown implements the Shutdown Coordinator: the engine's single
// teardown sequence, run at most once regardless of how many callers invoke
// it or which of its two entry points (Graceful, Emergency) fires first.
package shutdown

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
)

// Closer is the narrow slice of the Closer's contract the Coordinator needs.
type Closer interface {
	CloseAll(ctx context.Context, reason string)
}

// Config holds the Coordinator's deadlines.
type Config struct {
	CloseDeadline          time.Duration // T_close, e.g. 15s
	EmergencyCloseDeadline time.Duration // shorter deadline for the emergency path
}

// DefaultConfig returns the Coordinator's default deadlines.
func DefaultConfig() Config {
	return Config{CloseDeadline: 15 * time.Second, EmergencyCloseDeadline: 5 * time.Second}
}

// Coordinator runs the engine's graceful or emergency teardown sequence
// exactly once. Whichever of Graceful/Emergency is invoked first wins;
// every other concurrent or later caller blocks on that first call's
// completion and then returns without doing any work of its own.
type Coordinator struct {
	cfg                Config
	closer             Closer
	stopScheduler      func()
	stopMonitorAndRisk func()
	log                *logrus.Entry
	alerts             alert.Sink
	events             alert.EventLogger
	exit               func(code int)

	once sync.Once
}

// New builds a Shutdown Coordinator. stopScheduler should cancel the Cycle
// Scheduler and Session Controller; stopMonitorAndRisk should cancel the
// Position Monitor and Risk Engine. Both are called at most once.
func New(cfg Config, closer Closer, stopScheduler, stopMonitorAndRisk func(), log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Coordinator {
	return &Coordinator{
		cfg: cfg, closer: closer, stopScheduler: stopScheduler, stopMonitorAndRisk: stopMonitorAndRisk,
		log: log, alerts: alerts, events: events, exit: os.Exit,
	}
}

// RequestEmergency satisfies risk.ShutdownRequester: the Risk Engine calls
// this, never os.Exit directly, on portfolio stop-loss.
func (c *Coordinator) RequestEmergency(reason string) {
	c.Emergency(reason)
}

// Graceful runs the four-step graceful sequence from §4.9: stop the
// schedulers, close every open position under a bounded deadline, stop the
// Monitor/Risk Engine, then emit a summary. It does not exit the process.
func (c *Coordinator) Graceful(reason string) {
	c.once.Do(func() { c.runGraceful(reason) })
}

// Emergency runs the minimum viable teardown — close-all under a short
// deadline — then exits the process with a non-zero status. The Risk
// Engine reaches it on portfolio stop-loss via RequestEmergency. A fatal
// configuration error does not pass through here: cmd/bot exits with
// status 1 before the engine, and so the Coordinator, is built.
func (c *Coordinator) Emergency(reason string) {
	c.once.Do(func() { c.runEmergency(reason) })
}

func (c *Coordinator) runGraceful(reason string) {
	c.events.Emit(alert.GracefulShutdownStarted, map[string]interface{}{"reason": reason})

	c.safely("stop_scheduler", c.stopScheduler)
	c.closeAllWithDeadline(c.cfg.CloseDeadline, reason)
	c.safely("stop_monitor_and_risk", c.stopMonitorAndRisk)

	c.events.Emit(alert.GracefulShutdownCompleted, map[string]interface{}{"reason": reason})
	c.safely("notify_summary", func() {
		c.alerts.Notify(alert.Format(alert.TagShutdown, "graceful shutdown complete: "+reason))
	})
}

func (c *Coordinator) runEmergency(reason string) {
	c.events.Emit(alert.EmergencyShutdown, map[string]interface{}{"reason": reason})

	c.safely("stop_scheduler", c.stopScheduler)
	c.closeAllWithDeadline(c.cfg.EmergencyCloseDeadline, reason)
	c.safely("stop_monitor_and_risk", c.stopMonitorAndRisk)

	c.safely("notify_summary", func() {
		c.alerts.Notify(alert.Format(alert.TagShutdown, "emergency shutdown complete: "+reason))
	})
	c.exit(1)
}

// closeAllWithDeadline runs Closer.CloseAll in its own goroutine so a slow
// venue cannot block the rest of the teardown sequence past deadline.
func (c *Coordinator) closeAllWithDeadline(deadline time.Duration, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.closer.CloseAll(ctx, reason)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.safely("positions_may_remain_open", func() {
			c.alerts.Alert(alert.Format(alert.TagShutdown, "positions may remain open"))
		})
	}
}

// safely runs fn, recovering and logging any panic so that a failing step
// never prevents subsequent shutdown steps from running. A nil fn is a no-op.
func (c *Coordinator) safely(step string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("step", step).Errorf("shutdown step panicked, continuing: %v", r)
		}
	}()
	fn()
}
