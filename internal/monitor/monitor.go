// Package monitor implements the Position Monitor: a 1 Hz loop that
// refreshes best bid/ask for every leg of every open position and
// publishes a per-tick snapshot to the Risk Engine over a channel. The
// Monitor never imports the Risk Engine (see the design notes on the
// original circular dependency).
package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/pricecache"
	"github.com/ironfly/btcfly-engine/internal/resilience"
	"github.com/ironfly/btcfly-engine/internal/venue"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// Tick is the per-tick snapshot published to the Risk Engine.
type Tick struct {
	At        time.Time
	Positions []*domain.Position
}

// Monitor owns the 1 Hz price-refresh loop.
type Monitor struct {
	store        *domain.PositionStore
	client       venue.Client
	wrapper      *resilience.Wrapper
	cache        *pricecache.Cache
	tickInterval time.Duration
	log          *logrus.Entry
	alerts       alert.Sink
	dedup        *apperr.Deduper

	snapshots chan Tick
}

// New builds a Monitor that ticks every interval (1 Hz by default).
func New(store *domain.PositionStore, client venue.Client, wrapper *resilience.Wrapper, cache *pricecache.Cache, interval time.Duration, log *logrus.Entry, alerts alert.Sink, dedup *apperr.Deduper) *Monitor {
	return &Monitor{
		store:        store,
		client:       client,
		wrapper:      wrapper,
		cache:        cache,
		tickInterval: interval,
		log:          log,
		alerts:       alerts,
		dedup:        dedup,
		snapshots:    make(chan Tick, 1),
	}
}

// Snapshots returns the channel the Risk Engine reads per-tick snapshots from.
func (m *Monitor) Snapshots() <-chan Tick {
	return m.snapshots
}

// Run blocks, ticking every m.tickInterval, until ctx is done or shutdown fires.
func (m *Monitor) Run(ctx context.Context, shutdown *sigchan.Chan) {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown.C():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	open := m.store.Open()
	if len(open) == 0 {
		return
	}

	symbols := uniqueSymbols(open)
	for _, symbol := range symbols {
		book, err := resilience.Exec(ctx, m.wrapper, "get_book", func(ctx context.Context) (domain.BookTop, error) {
			return m.client.GetBook(ctx, symbol, 1)
		})
		if err != nil {
			// Price update failures for a single symbol are logged and
			// skipped; the rest of the tick still runs.
			m.log.WithError(err).WithField("symbol", symbol).Warn("book refresh failed, skipping symbol this tick")
			if m.dedup != nil && m.alerts != nil {
				m.dedup.AlertIfRepeated(m.alerts, "GET_BOOK_FAILED", symbol, alert.Format(alert.TagRisk, "repeated book-fetch failures for "+symbol))
			}
			continue
		}
		m.cache.Set(symbol, book)
	}

	for _, pos := range open {
		for _, leg := range pos.Legs() {
			book, ok := m.cache.Get(leg.Symbol)
			if !ok {
				continue
			}
			if leg.Order == domain.Sell {
				leg.SetCurrentPrice(book.BestBid)
			} else {
				leg.SetCurrentPrice(book.BestAsk)
			}
		}
	}

	m.publish(Tick{At: time.Now(), Positions: open})
}

// publish delivers the latest tick, replacing any unconsumed previous tick
// rather than blocking the monitor loop.
func (m *Monitor) publish(t Tick) {
	select {
	case m.snapshots <- t:
	default:
		select {
		case <-m.snapshots:
		default:
		}
		select {
		case m.snapshots <- t:
		default:
		}
	}
}

func uniqueSymbols(positions []*domain.Position) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range positions {
		for _, leg := range p.Legs() {
			if _, ok := seen[leg.Symbol]; !ok {
				seen[leg.Symbol] = struct{}{}
				out = append(out, leg.Symbol)
			}
		}
	}
	return out
}
