// Package fill implements the Aggressive-Fill Driver: drives one limit
// order from placement toward complete fill within a deadline, repricing
// toward the top of book, without ever crossing to a market order.
package fill

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/resilience"
	"github.com/ironfly/btcfly-engine/internal/venue"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// Config holds the driver's deadline, poll interval, and venue tick size.
type Config struct {
	OrderTimeout time.Duration // T_order, e.g. 60s
	PollInterval time.Duration // T_poll, e.g. 1s
	TickSize     decimal.Decimal

	RateLimitSleepCap time.Duration // cap when a rate-limit error extends the poll sleep (30s)
	GenericBackoffCap time.Duration // cap when a transient error backs off the poll sleep (5s)
}

// DefaultConfig returns the driver's default timing.
func DefaultConfig() Config {
	return Config{
		OrderTimeout:      60 * time.Second,
		PollInterval:      time.Second,
		TickSize:          decimal.NewFromFloat(0.01),
		RateLimitSleepCap: 30 * time.Second,
		GenericBackoffCap: 5 * time.Second,
	}
}

// Snapshot is the final state of one driven order.
type Snapshot struct {
	OrderID     string
	Symbol      string
	Side        domain.OrderSide
	Status      venue.OrderStatus
	FilledQty   decimal.Decimal
	AvgPrice    decimal.Decimal
	OriginalQty decimal.Decimal
	Price       decimal.Decimal
}

// IsFilled reports whether the snapshot represents a fully filled order.
func (s Snapshot) IsFilled() bool {
	return s.Status == venue.OrderFilled
}

// Driver drives a single leg's order toward fill.
type Driver struct {
	client  venue.Client
	wrapper *resilience.Wrapper
	cfg     Config
	log     *logrus.Entry
	alerts  alert.Sink
	events  alert.EventLogger
}

// New builds a Driver.
func New(client venue.Client, wrapper *resilience.Wrapper, cfg Config, log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Driver {
	return &Driver{client: client, wrapper: wrapper, cfg: cfg, log: log, alerts: alerts, events: events}
}

// Run places a limit order for leg at limitPrice and drives it toward fill
// until it is Done, the per-order deadline elapses, or shutdown fires.
func (d *Driver) Run(ctx context.Context, symbol string, side domain.OrderSide, qty, limitPrice decimal.Decimal, shutdown *sigchan.Chan) (Snapshot, error) {
	placed, err := resilience.Exec(ctx, d.wrapper, "place_order", func(ctx context.Context) (venue.OrderResult, error) {
		return d.client.PlaceOrder(ctx, symbol, side, qty, limitPrice)
	})
	if err != nil {
		return Snapshot{}, err
	}

	d.events.Emit(alert.OrderPlaced, map[string]interface{}{"symbol": symbol, "side": side, "qty": qty.String(), "price": limitPrice.String()})

	snap := toSnapshot(symbol, side, placed)
	deadline := time.Now().Add(d.cfg.OrderTimeout)

	if snap.Status.IsTerminal() {
		return d.finish(snap)
	}

	sleep := d.cfg.PollInterval
	for {
		if shutdown != nil && shutdown.Fired() {
			return snap, nil
		}
		if time.Now().After(deadline) {
			return d.timeout(ctx, snap)
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-time.After(sleep):
		}
		sleep = d.cfg.PollInterval

		if shutdown != nil && shutdown.Fired() {
			return snap, nil
		}
		if time.Now().After(deadline) {
			return d.timeout(ctx, snap)
		}

		status, err := resilience.Exec(ctx, d.wrapper, "get_order", func(ctx context.Context) (venue.OrderResult, error) {
			return d.client.GetOrder(ctx, snap.OrderID, symbol)
		})
		if err != nil {
			if _, isOpen := err.(resilience.ErrOpen); isOpen {
				return snap, nil // circuit-breaker-open aborts the loop early
			}
			if ae, ok := apperr.AsError(err); ok && ae.IsRateLimit() {
				sleep = minDuration(d.cfg.RateLimitSleepCap, d.cfg.PollInterval*10)
			} else {
				sleep = minDuration(d.cfg.GenericBackoffCap, d.cfg.PollInterval*5)
			}
			continue // transient venue errors are tolerated; loop continues
		}
		snap = toSnapshot(symbol, side, status)

		if snap.Status.IsTerminal() {
			return d.finish(snap)
		}

		book, err := resilience.Exec(ctx, d.wrapper, "get_book", func(ctx context.Context) (domain.BookTop, error) {
			return d.client.GetBook(ctx, symbol, 1)
		})
		if err != nil {
			continue // a failed book refresh just skips repricing this round
		}

		aggressive := AggressivePrice(side, book, d.cfg.TickSize)
		if aggressive.IsZero() || !pricesDifferByAtLeastOneTick(aggressive, snap.Price, d.cfg.TickSize) {
			continue
		}

		modified, err := resilience.Exec(ctx, d.wrapper, "modify_order", func(ctx context.Context) (venue.OrderResult, error) {
			return d.client.ModifyOrder(ctx, snap.OrderID, symbol, qty.Sub(snap.FilledQty), aggressive)
		})
		if err != nil {
			continue
		}
		snap = toSnapshot(symbol, side, modified)
		d.events.Emit(alert.OrderModified, map[string]interface{}{"symbol": symbol, "order_id": snap.OrderID, "price": aggressive.String()})

		if snap.Status.IsTerminal() {
			return d.finish(snap)
		}
	}
}

func (d *Driver) finish(snap Snapshot) (Snapshot, error) {
	if snap.Status == venue.OrderFilled {
		d.events.Emit(alert.OrderFilled, map[string]interface{}{"symbol": snap.Symbol, "order_id": snap.OrderID, "avg_price": snap.AvgPrice.String()})
	}
	return snap, nil
}

// timeout stops repricing, takes a final status snapshot, and emits a
// not-filled operator alert.
func (d *Driver) timeout(ctx context.Context, last Snapshot) (Snapshot, error) {
	final, err := resilience.Exec(ctx, d.wrapper, "get_order", func(ctx context.Context) (venue.OrderResult, error) {
		return d.client.GetOrder(ctx, last.OrderID, last.Symbol)
	})
	snap := last
	if err == nil {
		snap = toSnapshot(last.Symbol, last.Side, final)
	}

	d.events.Emit(alert.OrderTimeout, map[string]interface{}{
		"symbol": snap.Symbol, "side": snap.Side, "qty": snap.OriginalQty.String(),
		"last_price": snap.Price.String(), "status": string(snap.Status),
	})
	d.alerts.Alert(alert.Format(alert.TagOrder, "not filled within deadline: "+snap.Symbol+" "+string(snap.Side)))

	return snap, nil
}

// AggressivePrice computes the repriced limit per the aggressive-fill
// formula: SELL -> best_bid*0.999 rounded down to tick; BUY -> best_ask*1.001
// rounded up to tick.
func AggressivePrice(side domain.OrderSide, book domain.BookTop, tick decimal.Decimal) decimal.Decimal {
	switch side {
	case domain.Sell:
		if book.BestBid.IsZero() {
			return decimal.Zero
		}
		raw := book.BestBid.Mul(decimal.NewFromFloat(0.999))
		return roundToTick(raw, tick, false)
	case domain.Buy:
		if book.BestAsk.IsZero() {
			return decimal.Zero
		}
		raw := book.BestAsk.Mul(decimal.NewFromFloat(1.001))
		return roundToTick(raw, tick, true)
	default:
		return decimal.Zero
	}
}

func roundToTick(price, tick decimal.Decimal, roundUp bool) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	ticks := price.Div(tick)
	if roundUp {
		ticks = ticks.Ceil()
	} else {
		ticks = ticks.Floor()
	}
	return ticks.Mul(tick)
}

func pricesDifferByAtLeastOneTick(a, b, tick decimal.Decimal) bool {
	if tick.IsZero() {
		return !a.Equal(b)
	}
	return a.Sub(b).Abs().GreaterThanOrEqual(tick)
}

func toSnapshot(symbol string, side domain.OrderSide, r venue.OrderResult) Snapshot {
	return Snapshot{
		OrderID:     r.OrderID,
		Symbol:      symbol,
		Side:        side,
		Status:      r.Status,
		FilledQty:   r.FilledQty,
		AvgPrice:    r.AvgPrice,
		OriginalQty: r.OriginalQty,
		Price:       r.Price,
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
