// Package closer implements the Closer: flattening a single position or
// every open position by driving an opposite-side order through the Fill
// Driver for each filled leg.
package closer

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/fill"
	"github.com/ironfly/btcfly-engine/internal/pricecache"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// Closer flattens positions.
type Closer struct {
	driver *fill.Driver
	cache  *pricecache.Cache
	store  *domain.PositionStore
	log    *logrus.Entry
	alerts alert.Sink
	events alert.EventLogger
}

// New builds a Closer.
func New(driver *fill.Driver, cache *pricecache.Cache, store *domain.PositionStore, log *logrus.Entry, alerts alert.Sink, events alert.EventLogger) *Closer {
	return &Closer{driver: driver, cache: cache, store: store, log: log, alerts: alerts, events: events}
}

// Close flattens a single position: for each filled leg, submit an
// opposite-side order priced from the current top of book (falling back to
// the leg's last-seen price if the book is unavailable), drive it through
// the Fill Driver, then set the position's terminal status and publish a
// "position closed" event. Individual leg-close failures are localized.
func (c *Closer) Close(ctx context.Context, pos *domain.Position, status domain.PositionStatus, reason string) error {
	legs := filledLegs(pos)
	if len(legs) == 0 {
		pos.Close(status, reason)
		c.publishClosed(pos)
		return nil
	}

	failures := c.closeLegsConcurrently(ctx, legs)

	pos.Close(status, reason)
	c.publishClosed(pos)

	if failures > 0 {
		c.alerts.Alert(alert.Format(alert.TagPosition, "position "+pos.ID+" closed with "+strconv.Itoa(failures)+" leg close failure(s)"))
	}

	// Every attempted leg failing to close is treated as a whole-position
	// close failure so CloseWithRetry has something to retry; a partial
	// failure is already surfaced via the alert above and is not retried.
	if failures == len(legs) {
		return apperr.General("all legs failed to close for position "+pos.ID, nil)
	}
	return nil
}

// CloseAll flattens every currently open position with the same reason.
func (c *Closer) CloseAll(ctx context.Context, reason string) {
	open := c.store.Open()
	g, gctx := errgroup.WithContext(ctx)
	for _, pos := range open {
		pos := pos
		g.Go(func() error {
			if err := c.Close(gctx, pos, domain.StatusClosedRisk, reason); err != nil {
				c.log.WithError(err).WithField("position_id", pos.ID).Warn("closeAll: position close failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// CloseWithRetry retries a whole-position close with exponential backoff
// capped at 30s, escalating to a "manual intervention required" alert once
// maxAttempts is exhausted.
func (c *Closer) CloseWithRetry(ctx context.Context, pos *domain.Position, status domain.PositionStatus, reason string, maxAttempts int) error {
	const cap_ = 30 * time.Second
	delay := time.Second
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.Close(ctx, pos, status, reason); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cap_ {
			delay = cap_
		}
	}

	c.alerts.Alert(alert.Format(alert.TagPosition, "manual intervention required: position "+pos.ID+" could not be closed after "+strconv.Itoa(maxAttempts)+" attempts"))
	return lastErr
}

func (c *Closer) closeLegsConcurrently(ctx context.Context, legs []*domain.Leg) int {
	results := make([]error, len(legs))
	var wg errgroup.Group
	for i, leg := range legs {
		i, leg := i, leg
		wg.Go(func() error {
			results[i] = c.closeLeg(ctx, leg)
			return nil
		})
	}
	_ = wg.Wait()

	failures := 0
	for i, err := range results {
		if err != nil {
			failures++
			c.log.WithError(err).WithField("symbol", legs[i].Symbol).Warn("leg close failed")
		}
	}
	return failures
}

func (c *Closer) closeLeg(ctx context.Context, leg *domain.Leg) error {
	opposite := domain.Buy
	if leg.Order == domain.Buy {
		opposite = domain.Sell
	}

	price := c.closePrice(leg, opposite)
	_, err := c.driver.Run(ctx, leg.Symbol, opposite, leg.Quantity, price, sigchan.New())
	return err
}

func (c *Closer) closePrice(leg *domain.Leg, opposite domain.OrderSide) decimal.Decimal {
	book, ok := c.cache.Get(leg.Symbol)
	if !ok {
		return leg.CurrentPrice()
	}
	if opposite == domain.Sell {
		if book.BestBid.IsPositive() {
			return book.BestBid
		}
	} else {
		if book.BestAsk.IsPositive() {
			return book.BestAsk
		}
	}
	return leg.CurrentPrice()
}

func (c *Closer) publishClosed(pos *domain.Position) {
	c.events.Emit(alert.PositionClosed, map[string]interface{}{
		"position_id": pos.ID,
		"status":      string(pos.Status()),
		"reason":      pos.CloseReason,
		"pnl":         pos.PnL().String(),
	})
}

func filledLegs(pos *domain.Position) []*domain.Leg {
	out := make([]*domain.Leg, 0, 4)
	for _, leg := range pos.Legs() {
		if leg.IsFilled() {
			out = append(out, leg)
		}
	}
	return out
}
