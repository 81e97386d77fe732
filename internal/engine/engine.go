// Package engine is the composition root: it wires every component into
// the dependency graph described in the component design and exposes a
// single Run entrypoint for cmd/bot.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/builder"
	"github.com/ironfly/btcfly-engine/internal/closer"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/fill"
	"github.com/ironfly/btcfly-engine/internal/monitor"
	"github.com/ironfly/btcfly-engine/internal/pricecache"
	"github.com/ironfly/btcfly-engine/internal/resilience"
	"github.com/ironfly/btcfly-engine/internal/risk"
	"github.com/ironfly/btcfly-engine/internal/scheduler"
	"github.com/ironfly/btcfly-engine/internal/shutdown"
	"github.com/ironfly/btcfly-engine/internal/venue"
	"github.com/ironfly/btcfly-engine/pkg/config"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// Engine owns every long-lived component and the top-level Run loop.
type Engine struct {
	log         *logrus.Entry
	session     *scheduler.Session
	coordinator *shutdown.Coordinator
	shutdown    *sigchan.Chan
}

// New builds the full dependency graph from cfg.
func New(cfg config.Config, log *logrus.Logger) *Engine {
	entry := logrus.NewEntry(log)

	alertSink := alert.NewSink(cfg.AlertWebhookURL, cfg.AlertToken, entry.WithField("component", "alert"))
	events := alert.NewLogEventLogger(entry.WithField("component", "events"))
	dedup := apperr.NewDefaultDeduper()

	signer := venue.NewHMACSigner(cfg.APISecret)
	client := venue.NewHTTPClient(cfg.VenueBaseURL, cfg.APIKey, signer)

	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	wrapper := resilience.NewWrapper(breaker, resilience.DefaultRetryConfig(), entry.WithField("component", "resilience"))

	store := domain.NewPositionStore()
	cache := pricecache.New()

	fillCfg := fill.DefaultConfig()
	fillCfg.OrderTimeout = time.Duration(cfg.OrderTimeoutSeconds) * time.Second
	fillCfg.PollInterval = time.Duration(cfg.OrderUpdateIntervalSeconds) * time.Second
	driver := fill.New(client, wrapper, fillCfg, entry.WithField("component", "fill"), alertSink, events)

	buildr := builder.New(client, wrapper, driver, store, builder.Config{
		Quantity:       cfg.PositionQuantity,
		StrikeDistance: cfg.StrikeDistance,
	}, entry.WithField("component", "builder"), alertSink, events)

	closerComponent := closer.New(driver, cache, store, entry.WithField("component", "closer"), alertSink, events)

	mon := monitor.New(store, client, wrapper, cache, time.Second, entry.WithField("component", "monitor"), alertSink, dedup)
	riskEngine := risk.New(risk.Config{
		StopLossPct:      cfg.StopLossPct,
		ProfitTargetPct:  cfg.ProfitTargetPct,
		PortfolioRiskPct: cfg.PortfolioRiskPct,
	}, closerComponent, coordinatorPlaceholder{}, entry.WithField("component", "risk"), alertSink, events)

	// session is referenced by the Cycle Scheduler's isActive closure before
	// it exists; the closure captures the variable, not its (nil) value at
	// construction time, so this is safe once session is assigned below.
	var session *scheduler.Session
	cycleScheduler := scheduler.NewCycle(buildr, time.Duration(cfg.CycleIntervalMinutes)*time.Minute, cfg.NumberOfCycles,
		func() bool { return session != nil && session.IsActive() }, riskEngine.PortfolioStopLossTriggered,
		entry.WithField("component", "cycle"), alertSink, events)

	shutdownChan := sigchan.New()
	workers := []scheduler.WorkerFunc{
		func(ctx context.Context) { mon.Run(ctx, shutdownChan) },
		func(ctx context.Context) { riskEngine.Run(ctx, mon.Snapshots()) },
		func(ctx context.Context) { cycleScheduler.Run(ctx, shutdownChan) },
	}
	session = scheduler.NewSession(cfg.SessionWindow, workers, entry.WithField("component", "session"), alertSink, events)

	coordinator := shutdown.New(shutdown.DefaultConfig(), closerComponent,
		func() { session.Stop() }, // stop the Cycle Scheduler and Session Controller
		func() {},                 // the Monitor and Risk Engine share the session's context; session.Stop already tore it down
		entry.WithField("component", "shutdown"), alertSink, events)

	// riskEngine was built with a placeholder ShutdownRequester because the
	// Coordinator depends on the Closer, which exists before the Coordinator
	// does; wire the real one in now.
	riskEngine.SetShutdownRequester(coordinator)

	return &Engine{log: entry, session: session, coordinator: coordinator, shutdown: shutdownChan}
}

// coordinatorPlaceholder satisfies risk.ShutdownRequester during
// construction, before the real Coordinator exists; risk.Engine.SetShutdownRequester
// replaces it before Run is ever called.
type coordinatorPlaceholder struct{}

func (coordinatorPlaceholder) RequestEmergency(reason string) {}

// Run blocks for the duration of the trading session (or until ctx is
// cancelled), then runs the graceful shutdown sequence. It returns an exit
// code: 0 on clean completion (including a missed session), 1 if
// Session.Start returned an error (the window could not be resolved, or
// ctx was cancelled before T_end).
func (e *Engine) Run(ctx context.Context) int {
	e.log.Info("engine starting")

	err := e.session.Start(ctx)
	e.shutdown.Emit()
	e.coordinator.Graceful("session end reached")

	if err != nil {
		e.log.WithError(err).Error("session did not complete cleanly")
		return 1
	}
	return 0
}
