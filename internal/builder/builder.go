// Package builder implements the Butterfly Builder: one buildOne() cycle
// that discovers strikes from the live chain, places all four legs
// concurrently, and materialises a Position.
package builder

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/fill"
	"github.com/ironfly/btcfly-engine/internal/resilience"
	"github.com/ironfly/btcfly-engine/internal/venue"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// Config holds the builder's position sizing parameters.
type Config struct {
	Quantity       decimal.Decimal
	StrikeDistance int // d, grid steps from ATM
}

// Builder constructs one iron-butterfly position per buildOne() call.
type Builder struct {
	client  venue.Client
	wrapper *resilience.Wrapper
	driver  *fill.Driver
	store   *domain.PositionStore
	cfg     Config
	log     *logrus.Entry
	alerts  alert.Sink
	events  alert.EventLogger
}

// New builds a Builder.
func New(client venue.Client, wrapper *resilience.Wrapper, driver *fill.Driver, store *domain.PositionStore, cfg Config, log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Builder {
	return &Builder{client: client, wrapper: wrapper, driver: driver, store: store, cfg: cfg, log: log, alerts: alerts, events: events}
}

// BuildOne runs one full cycle: market data, strike selection, four
// concurrent leg placements, and position materialisation.
func (b *Builder) BuildOne(ctx context.Context, shutdown *sigchan.Chan) error {
	refPrice, err := resilience.Exec(ctx, b.wrapper, "get_reference_price", func(ctx context.Context) (decimal.Decimal, error) {
		return b.client.GetReferencePrice(ctx)
	})
	if err != nil {
		return err
	}

	expiry, err := resilience.Exec(ctx, b.wrapper, "earliest_expiry", func(ctx context.Context) (time.Time, error) {
		return b.client.EarliestExpiry(ctx, time.Now())
	})
	if err != nil {
		return err
	}

	chain, err := resilience.Exec(ctx, b.wrapper, "get_options_chain", func(ctx context.Context) ([]domain.OptionContract, error) {
		return b.client.GetOptionsChain(ctx, expiry)
	})
	if err != nil {
		return err
	}

	sel, err := selectStrikes(chain, refPrice, b.cfg.StrikeDistance)
	if err != nil {
		// strike-selection failure fails the whole cycle; retry the
		// ATM-mismatch case once before giving up.
		chain2, rerr := resilience.Exec(ctx, b.wrapper, "get_options_chain", func(ctx context.Context) ([]domain.OptionContract, error) {
			return b.client.GetOptionsChain(ctx, expiry)
		})
		if rerr != nil {
			return rerr
		}
		sel, err = selectStrikes(chain2, refPrice, b.cfg.StrikeDistance)
		if err != nil {
			return err
		}
	}

	legSpecs := []legSpec{
		{contract: sel.atmCall, order: domain.Sell, price: sel.atmCall.Book.BestBid},
		{contract: sel.atmPut, order: domain.Sell, price: sel.atmPut.Book.BestBid},
		{contract: sel.otmCall, order: domain.Buy, price: sel.otmCall.Book.BestAsk},
		{contract: sel.otmPut, order: domain.Buy, price: sel.otmPut.Book.BestAsk},
	}

	snapshots := b.placeLegsConcurrently(ctx, legSpecs, shutdown)

	sellCall := materializeLeg(sel.atmCall, domain.Sell, b.cfg.Quantity, snapshots[0])
	sellPut := materializeLeg(sel.atmPut, domain.Sell, b.cfg.Quantity, snapshots[1])
	buyCall := materializeLeg(sel.otmCall, domain.Buy, b.cfg.Quantity, snapshots[2])
	buyPut := materializeLeg(sel.otmPut, domain.Buy, b.cfg.Quantity, snapshots[3])

	pos := domain.NewPosition(sellCall, sellPut, buyCall, buyPut, expiry, b.cfg.Quantity)

	wingWidth := sel.otmCall.Strike.Sub(sel.atmCall.Strike)
	maxLoss := wingWidth.Mul(b.cfg.Quantity).Sub(pos.NetPremiumReceived())
	pos.SetMaxTheoreticalLoss(maxLoss)

	b.store.Register(pos)
	b.events.Emit(alert.PositionCreated, map[string]interface{}{
		"position_id": pos.ID, "filled_legs": pos.FilledLegCount(), "strike": sel.atmCall.Strike.String(),
	})

	if pos.FilledLegCount() < 4 {
		b.alerts.Alert(alert.Format(alert.TagPosition, "partial butterfly: only "+strconv.Itoa(pos.FilledLegCount())+" of 4 legs filled"))
	}

	return nil
}

type legSpec struct {
	contract domain.OptionContract
	order    domain.OrderSide
	price    decimal.Decimal
}

// placeLegsConcurrently submits all four legs via the Fill Driver at once
// and joins them; individual order-submission failures are localized and
// leave that leg's slot as a zero Snapshot rather than failing the group.
func (b *Builder) placeLegsConcurrently(ctx context.Context, specs []legSpec, shutdown *sigchan.Chan) []fill.Snapshot {
	out := make([]fill.Snapshot, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			snap, err := b.driver.Run(gctx, spec.contract.Symbol, spec.order, b.cfg.Quantity, spec.price, shutdown)
			if err != nil {
				b.log.WithError(err).WithField("symbol", spec.contract.Symbol).Warn("leg placement failed, leaving leg unfilled")
				return nil // localized: don't cancel sibling legs
			}
			out[i] = snap
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func materializeLeg(c domain.OptionContract, order domain.OrderSide, qty decimal.Decimal, snap fill.Snapshot) *domain.Leg {
	leg := domain.NewLeg(c.Symbol, c.Side, c.Strike, qty, order)
	leg.OrderID = snap.OrderID
	if snap.IsFilled() && !snap.AvgPrice.IsZero() {
		leg.SetEntryPrice(snap.AvgPrice)
	}
	return leg
}

