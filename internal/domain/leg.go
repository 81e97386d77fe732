package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// OrderSide is the intended side of a leg's order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Leg is one of the four sides of a butterfly.
type Leg struct {
	Symbol   string
	Side     OptionSide
	Strike   decimal.Decimal
	Quantity decimal.Decimal
	Order    OrderSide

	mu sync.Mutex
	// entryPrice is set exactly once, on fill, and is immutable afterward.
	entryPrice *decimal.Decimal
	// currentPrice is refreshed freely by the Position Monitor, concurrently
	// with reads from the Risk Engine and the Closer.
	currentPrice decimal.Decimal

	OrderID string // the venue order id of the open leg, if any
}

// NewLeg constructs an unfilled leg.
func NewLeg(symbol string, side OptionSide, strike, quantity decimal.Decimal, order OrderSide) *Leg {
	return &Leg{
		Symbol:   symbol,
		Side:     side,
		Strike:   strike,
		Quantity: quantity,
		Order:    order,
	}
}

// IsFilled reports whether the leg has a recorded entry price.
func (l *Leg) IsFilled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entryPrice != nil
}

// EntryPrice returns the leg's fill price and whether it has been set.
func (l *Leg) EntryPrice() (decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entryPrice == nil {
		return decimal.Zero, false
	}
	return *l.entryPrice, true
}

// SetEntryPrice records the venue-reported average fill price. Calling it
// more than once is a no-op: entry price, once set, is immutable.
func (l *Leg) SetEntryPrice(price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entryPrice != nil {
		return
	}
	p := price
	l.entryPrice = &p
}

// CurrentPrice returns the most recently observed price for this leg.
func (l *Leg) CurrentPrice() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPrice
}

// SetCurrentPrice updates the most recently observed price. May be called
// any number of times, concurrently with reads from other goroutines.
func (l *Leg) SetCurrentPrice(price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentPrice = price
}

// UnrealizedPnL is (current-entry)*qty, sign-flipped for SELL legs: a SELL
// leg profits when price falls. Unfilled legs contribute zero.
func (l *Leg) UnrealizedPnL() decimal.Decimal {
	entry, ok := l.EntryPrice()
	if !ok {
		return decimal.Zero
	}
	diff := l.CurrentPrice().Sub(entry)
	pnl := diff.Mul(l.Quantity)
	if l.Order == Sell {
		return pnl.Neg()
	}
	return pnl
}

// Premium returns the signed premium contribution of this leg toward net
// premium received: positive for a SELL (credit), negative for a BUY
// (debit). Unfilled legs contribute zero.
func (l *Leg) Premium() decimal.Decimal {
	entry, ok := l.EntryPrice()
	if !ok {
		return decimal.Zero
	}
	value := entry.Mul(l.Quantity)
	if l.Order == Sell {
		return value
	}
	return value.Neg()
}
