package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// Builder is the narrow slice of the Butterfly Builder's contract the Cycle
// Scheduler needs.
type Builder interface {
	BuildOne(ctx context.Context, shutdown *sigchan.Chan) error
}

// Cycle fires the Builder N times at a fixed interval, immediately at entry
// and then every D thereafter, never overlapping two invocations.
type Cycle struct {
	builder         Builder
	interval        time.Duration
	total           int
	isActive        func() bool
	stopTriggered   func() bool
	log             *logrus.Entry
	alerts          alert.Sink
	events          alert.EventLogger

	mu    sync.Mutex
	index int
}

// NewCycle builds a Cycle Scheduler. isActive should report the Session
// Controller's ACTIVE state; stopTriggered should report the Risk Engine's
// portfolio-stop-loss latch.
func NewCycle(builder Builder, interval time.Duration, total int, isActive, stopTriggered func() bool, log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Cycle {
	return &Cycle{builder: builder, interval: interval, total: total, isActive: isActive, stopTriggered: stopTriggered, log: log, alerts: alerts, events: events}
}

// Index reports the most recently started cycle's 1-based index (0 before
// the first tick). Total reports the configured maximum cycle count.
func (c *Cycle) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Total reports the configured maximum cycle count N.
func (c *Cycle) Total() int {
	return c.total
}

// Run drives the fixed-interval tick loop until N cycles complete, the
// Risk Engine's portfolio stop-loss latches, SessionState leaves ACTIVE, or
// ctx/shutdown fires.
func (c *Cycle) Run(ctx context.Context, shutdown *sigchan.Chan) {
	for i := 1; i <= c.total; i++ {
		if !c.isActive() || c.stopTriggered() {
			c.log.WithField("cycle_index", i-1).Info("cycle scheduler stopping: session inactive or portfolio stop-loss triggered")
			return
		}

		c.setIndex(i)
		start := time.Now()
		if err := c.builder.BuildOne(ctx, shutdown); err != nil {
			c.log.WithError(err).WithField("cycle_index", i).Warn("buildOne failed; cycle yields no new position")
		}

		if i == c.total {
			c.events.Emit(alert.CycleCompleted, map[string]interface{}{"cycle_index": i, "total": c.total, "final": true})
			return
		}

		wait := c.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-shutdown.C():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Cycle) setIndex(i int) {
	c.mu.Lock()
	c.index = i
	c.mu.Unlock()
}
