package fill

import (
	"context"

	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/resilience"
	"github.com/ironfly/btcfly-engine/internal/venue"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

// CompletePartial cancels the residual quantity of a partially filled
// order and runs a fresh aggressive-fill pass for the remainder, per the
// Fill Driver's optional partial-fill follow-up branch.
func (d *Driver) CompletePartial(ctx context.Context, snap Snapshot, shutdown *sigchan.Chan) (Snapshot, error) {
	remaining := snap.OriginalQty.Sub(snap.FilledQty)
	if remaining.Sign() <= 0 {
		return snap, nil
	}

	_, err := resilience.Exec(ctx, d.wrapper, "cancel_order", func(ctx context.Context) (venue.OrderResult, error) {
		return d.client.CancelOrder(ctx, snap.OrderID, snap.Symbol)
	})
	if err != nil {
		return snap, err
	}

	book, err := resilience.Exec(ctx, d.wrapper, "get_book", func(ctx context.Context) (domain.BookTop, error) {
		return d.client.GetBook(ctx, snap.Symbol, 1)
	})
	if err != nil {
		return snap, err
	}

	price := AggressivePrice(snap.Side, book, d.cfg.TickSize)
	if price.IsZero() {
		price = snap.Price
	}

	fresh, err := d.Run(ctx, snap.Symbol, snap.Side, remaining, price, shutdown)
	if err != nil {
		return snap, err
	}

	merged := fresh
	merged.FilledQty = snap.FilledQty.Add(fresh.FilledQty)
	merged.OriginalQty = snap.OriginalQty
	return merged, nil
}
