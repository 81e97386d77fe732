package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func buildTestPosition() *Position {
	qty := d("1")
	sellCall := NewLeg("BTC-100C", Call, d("100"), qty, Sell)
	sellPut := NewLeg("BTC-100P", Put, d("100"), qty, Sell)
	buyCall := NewLeg("BTC-110C", Call, d("110"), qty, Buy)
	buyPut := NewLeg("BTC-90P", Put, d("90"), qty, Buy)
	return NewPosition(sellCall, sellPut, buyCall, buyPut, time.Now().Add(24*time.Hour), qty)
}

func TestPositionIDsDiffer(t *testing.T) {
	p1 := buildTestPosition()
	p2 := buildTestPosition()
	assert.NotEqual(t, p1.ID, p2.ID)
}

func TestStrikeOrderingInvariant(t *testing.T) {
	p := buildTestPosition()
	assert.True(t, p.ValidateInvariants())

	p.BuyCall.Strike = d("95") // violates BuyCall.strike > SellCall.strike
	assert.False(t, p.ValidateInvariants())
}

func TestEntryPriceImmutableOnceSet(t *testing.T) {
	leg := NewLeg("BTC-100C", Call, d("100"), d("1"), Sell)
	leg.SetEntryPrice(d("5.00"))
	leg.SetEntryPrice(d("9.00"))

	price, ok := leg.EntryPrice()
	require.True(t, ok)
	assert.True(t, price.Equal(d("5.00")))
}

func TestPositionStatusTerminalOnceSet(t *testing.T) {
	p := buildTestPosition()
	p.Close(StatusClosedLoss, "stop-loss")
	assert.Equal(t, StatusClosedLoss, p.Status())

	p.Close(StatusClosedProfit, "should be ignored")
	assert.Equal(t, StatusClosedLoss, p.Status())
}

func TestLegPnLSignForSellAndBuy(t *testing.T) {
	sellLeg := NewLeg("BTC-100C", Call, d("100"), d("2"), Sell)
	sellLeg.SetEntryPrice(d("10"))
	sellLeg.SetCurrentPrice(d("6")) // price fell, SELL leg profits

	assert.True(t, sellLeg.UnrealizedPnL().Equal(d("8"))) // (10-6)*2

	buyLeg := NewLeg("BTC-110C", Call, d("110"), d("2"), Buy)
	buyLeg.SetEntryPrice(d("3"))
	buyLeg.SetCurrentPrice(d("5")) // price rose, BUY leg profits

	assert.True(t, buyLeg.UnrealizedPnL().Equal(d("4"))) // (5-3)*2
}

func TestUnfilledLegContributesZeroPnL(t *testing.T) {
	leg := NewLeg("BTC-100C", Call, d("100"), d("1"), Sell)
	assert.True(t, leg.UnrealizedPnL().IsZero())
}

func TestPortfolioMaxLossZeroNeverTriggers(t *testing.T) {
	p := buildTestPosition()
	p.SetMaxTheoreticalLoss(decimal.Zero)
	metrics := ComputePortfolioRiskMetrics([]*Position{p})
	assert.True(t, metrics.TotalMaxLoss.IsZero())
}

func TestPositionStoreRegisterAndOpen(t *testing.T) {
	store := NewPositionStore()
	p := buildTestPosition()
	store.Register(p)

	open := store.Open()
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)

	p.Close(StatusClosedProfit, "tp")
	assert.Empty(t, store.Open())
	assert.Len(t, store.Snapshot(), 1)
}
