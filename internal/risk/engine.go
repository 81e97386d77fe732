// Package risk implements the Risk Engine: per-position stop-loss/profit-
// target evaluation and the portfolio-wide stop-loss latch. It consumes the
// Position Monitor's per-tick snapshots over a channel and never imports the
// Monitor back — the dependency is one-way by construction.
package risk

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/monitor"
)

// Closer is the narrow slice of the Closer's contract the Risk Engine needs.
type Closer interface {
	Close(ctx context.Context, pos *domain.Position, status domain.PositionStatus, reason string) error
	CloseAll(ctx context.Context, reason string)
}

// ShutdownRequester lets the Risk Engine ask for an emergency shutdown
// without owning the decision of how that shutdown actually runs.
type ShutdownRequester interface {
	RequestEmergency(reason string)
}

// Config holds the three operator-configured risk thresholds, expressed as
// percentages (e.g. 30 means 30%).
type Config struct {
	StopLossPct     decimal.Decimal
	ProfitTargetPct decimal.Decimal
	PortfolioRiskPct decimal.Decimal
}

// Engine evaluates per-position and portfolio-level risk every time it
// receives a snapshot from the Position Monitor.
type Engine struct {
	cfg      Config
	closer   Closer
	shutdown ShutdownRequester
	log      *logrus.Entry
	alerts   alert.Sink
	events   alert.EventLogger

	mu       sync.Mutex
	latched  bool
}

// New builds a Risk Engine.
func New(cfg Config, closer Closer, shutdown ShutdownRequester, log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Engine {
	return &Engine{cfg: cfg, closer: closer, shutdown: shutdown, log: log, alerts: alerts, events: events}
}

// SetShutdownRequester swaps in the real ShutdownRequester once it exists.
// The composition root needs this because the Shutdown Coordinator depends
// on the Closer, which the Risk Engine also depends on, and both have to be
// built before the Coordinator itself — see the engine package.
func (e *Engine) SetShutdownRequester(shutdown ShutdownRequester) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = shutdown
}

// PortfolioStopLossTriggered reports whether the portfolio latch has fired.
// The Cycle Scheduler polls this as one of its stop conditions.
func (e *Engine) PortfolioStopLossTriggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latched
}

// Run consumes snapshots from ticks until ctx is done.
func (e *Engine) Run(ctx context.Context, ticks <-chan monitor.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			e.evaluate(ctx, t.Positions)
		}
	}
}

// evaluate is the per-tick entry point: per-position checks first, then the
// portfolio check. Kept separate from Run so tests in this package can
// drive a single tick synchronously rather than through the channel loop.
func (e *Engine) evaluate(ctx context.Context, positions []*domain.Position) {
	if e.PortfolioStopLossTriggered() {
		return
	}

	for _, pos := range positions {
		e.evaluatePosition(ctx, pos)
	}

	e.evaluatePortfolio(ctx, positions)
}

func (e *Engine) evaluatePosition(ctx context.Context, pos *domain.Position) {
	if pos.Status().IsTerminal() {
		return
	}
	netPrem := pos.NetPremiumReceived()
	if !netPrem.IsPositive() {
		return
	}

	pnl := pos.PnL()
	slThreshold := netPrem.Mul(e.cfg.StopLossPct).Div(decimal.NewFromInt(100)).Neg()
	tpThreshold := netPrem.Mul(e.cfg.ProfitTargetPct).Div(decimal.NewFromInt(100))

	switch {
	case pnl.LessThanOrEqual(slThreshold):
		reason := "Stop-loss: " + e.cfg.StopLossPct.StringFixed(1) + "%"
		if err := e.closer.Close(ctx, pos, domain.StatusClosedLoss, reason); err != nil {
			e.log.WithError(err).WithField("position_id", pos.ID).Warn("position stop-loss close failed")
		}
	case pnl.GreaterThanOrEqual(tpThreshold):
		reason := "Profit target: " + e.cfg.ProfitTargetPct.StringFixed(1) + "%"
		if err := e.closer.Close(ctx, pos, domain.StatusClosedProfit, reason); err != nil {
			e.log.WithError(err).WithField("position_id", pos.ID).Warn("position profit-target close failed")
		}
	}
}

func (e *Engine) evaluatePortfolio(ctx context.Context, positions []*domain.Position) {
	metrics := domain.ComputePortfolioRiskMetrics(positions)
	if !metrics.TotalMaxLoss.IsPositive() {
		return
	}

	threshold := metrics.TotalMaxLoss.Mul(e.cfg.PortfolioRiskPct).Div(decimal.NewFromInt(100)).Neg()
	if metrics.TotalMTM.GreaterThan(threshold) {
		return
	}

	e.mu.Lock()
	if e.latched {
		e.mu.Unlock()
		return
	}
	e.latched = true
	e.mu.Unlock()

	e.alerts.Alert(alert.Format(alert.TagRisk, "PORTFOLIO STOP-LOSS TRIGGERED"))
	e.events.Emit(alert.RiskEvent, map[string]interface{}{
		"total_max_loss": metrics.TotalMaxLoss.String(),
		"total_mtm":       metrics.TotalMTM.String(),
		"reason":          "Portfolio stop-loss triggered",
	})
	e.closer.CloseAll(ctx, "Portfolio stop-loss triggered")
	e.shutdown.RequestEmergency("Portfolio stop-loss triggered")
}
