package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/domain"
	"github.com/ironfly/btcfly-engine/internal/pricecache"
	"github.com/ironfly/btcfly-engine/internal/resilience"
	"github.com/ironfly/btcfly-engine/internal/venue"
	"github.com/ironfly/btcfly-engine/pkg/sigchan"
)

type fakeVenue struct {
	books map[string]domain.BookTop
	err   map[string]error
}

func (f *fakeVenue) GetReferencePrice(ctx context.Context) (decimal.Decimal, error) { return decimal.Zero, nil }
func (f *fakeVenue) GetOptionsChain(ctx context.Context, expiry time.Time) ([]domain.OptionContract, error) {
	return nil, nil
}
func (f *fakeVenue) GetBook(ctx context.Context, symbol string, depth int) (domain.BookTop, error) {
	if err, ok := f.err[symbol]; ok {
		return domain.BookTop{}, err
	}
	return f.books[symbol], nil
}
func (f *fakeVenue) PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, price decimal.Decimal) (venue.OrderResult, error) {
	return venue.OrderResult{}, nil
}
func (f *fakeVenue) ModifyOrder(ctx context.Context, orderID, symbol string, qty, price decimal.Decimal) (venue.OrderResult, error) {
	return venue.OrderResult{}, nil
}
func (f *fakeVenue) CancelOrder(ctx context.Context, orderID, symbol string) (venue.OrderResult, error) {
	return venue.OrderResult{}, nil
}
func (f *fakeVenue) GetOrder(ctx context.Context, orderID, symbol string) (venue.OrderResult, error) {
	return venue.OrderResult{}, nil
}
func (f *fakeVenue) EarliestExpiry(ctx context.Context, after time.Time) (time.Time, error) {
	return after, nil
}

func testPosition() *domain.Position {
	sellCall := domain.NewLeg("BTC-100C", domain.Call, decimal.RequireFromString("100"), decimal.NewFromInt(1), domain.Sell)
	sellPut := domain.NewLeg("BTC-100P", domain.Put, decimal.RequireFromString("100"), decimal.NewFromInt(1), domain.Sell)
	buyCall := domain.NewLeg("BTC-105C", domain.Call, decimal.RequireFromString("105"), decimal.NewFromInt(1), domain.Buy)
	buyPut := domain.NewLeg("BTC-95P", domain.Put, decimal.RequireFromString("95"), decimal.NewFromInt(1), domain.Buy)
	sellCall.SetEntryPrice(decimal.RequireFromString("2"))
	sellPut.SetEntryPrice(decimal.RequireFromString("2"))
	buyCall.SetEntryPrice(decimal.RequireFromString("0.5"))
	buyPut.SetEntryPrice(decimal.RequireFromString("0.5"))
	return domain.NewPosition(sellCall, sellPut, buyCall, buyPut, time.Now().Add(24*time.Hour), decimal.NewFromInt(1))
}

func newTestMonitor(v venue.Client, store *domain.PositionStore, interval time.Duration) *Monitor {
	log, _ := test.NewNullLogger()
	entry := logrus.NewEntry(log)
	cb := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	w := resilience.NewWrapper(cb, resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond}, entry)
	return New(store, v, w, pricecache.New(), interval, entry, alert.NewLogSink(entry), apperr.NewDefaultDeduper())
}

func TestTickUpdatesSellLegFromBidAndBuyLegFromAsk(t *testing.T) {
	store := domain.NewPositionStore()
	pos := testPosition()
	store.Register(pos)

	v := &fakeVenue{books: map[string]domain.BookTop{
		"BTC-100C": {BestBid: decimal.RequireFromString("3"), BestAsk: decimal.RequireFromString("3.2")},
		"BTC-100P": {BestBid: decimal.RequireFromString("2.5"), BestAsk: decimal.RequireFromString("2.7")},
		"BTC-105C": {BestBid: decimal.RequireFromString("0.3"), BestAsk: decimal.RequireFromString("0.4")},
		"BTC-95P":  {BestBid: decimal.RequireFromString("0.4"), BestAsk: decimal.RequireFromString("0.5")},
	}}

	m := newTestMonitor(v, store, time.Hour)
	m.tick(context.Background())

	assert.True(t, pos.SellCall.CurrentPrice().Equal(decimal.RequireFromString("3")))
	assert.True(t, pos.SellPut.CurrentPrice().Equal(decimal.RequireFromString("2.5")))
	assert.True(t, pos.BuyCall.CurrentPrice().Equal(decimal.RequireFromString("0.4")))
	assert.True(t, pos.BuyPut.CurrentPrice().Equal(decimal.RequireFromString("0.5")))
}

func TestTickPublishesSnapshot(t *testing.T) {
	store := domain.NewPositionStore()
	pos := testPosition()
	store.Register(pos)

	v := &fakeVenue{books: map[string]domain.BookTop{
		"BTC-100C": {BestBid: decimal.RequireFromString("3")},
		"BTC-100P": {BestBid: decimal.RequireFromString("2.5")},
		"BTC-105C": {BestAsk: decimal.RequireFromString("0.4")},
		"BTC-95P":  {BestAsk: decimal.RequireFromString("0.5")},
	}}

	m := newTestMonitor(v, store, time.Hour)
	m.tick(context.Background())

	select {
	case snap := <-m.Snapshots():
		require.Len(t, snap.Positions, 1)
		assert.Equal(t, pos.ID, snap.Positions[0].ID)
	default:
		t.Fatal("expected a published snapshot")
	}
}

func TestTickSkipsSymbolOnBookError(t *testing.T) {
	store := domain.NewPositionStore()
	pos := testPosition()
	store.Register(pos)

	v := &fakeVenue{
		books: map[string]domain.BookTop{
			"BTC-100P": {BestBid: decimal.RequireFromString("2.5")},
			"BTC-105C": {BestAsk: decimal.RequireFromString("0.4")},
			"BTC-95P":  {BestAsk: decimal.RequireFromString("0.5")},
		},
		err: map[string]error{"BTC-100C": assert.AnError},
	}

	m := newTestMonitor(v, store, time.Hour)
	require.NotPanics(t, func() { m.tick(context.Background()) })

	// the failed symbol's leg price stays at its zero value; the rest update.
	assert.True(t, pos.SellPut.CurrentPrice().Equal(decimal.RequireFromString("2.5")))
}

func TestRunStopsOnShutdown(t *testing.T) {
	store := domain.NewPositionStore()
	m := newTestMonitor(&fakeVenue{books: map[string]domain.BookTop{}}, store, time.Millisecond)

	shutdown := sigchan.New()
	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), shutdown)
		close(done)
	}()

	shutdown.Emit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after shutdown signal")
	}
}
