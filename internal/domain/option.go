// Package domain holds the passive data model: option contracts, legs,
// iron-butterfly positions, and the portfolio-level risk snapshot. Nothing
// in this package performs I/O.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionSide distinguishes calls from puts.
type OptionSide string

const (
	Call OptionSide = "CALL"
	Put  OptionSide = "PUT"
)

// BookTop is a best-bid/best-ask snapshot for one symbol.
type BookTop struct {
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	BidSize     decimal.Decimal
	AskSize     decimal.Decimal
	ObservedAt  time.Time
}

// Mid returns the midpoint of the book, or the zero value if either side
// is missing.
func (b BookTop) Mid() decimal.Decimal {
	if b.BestBid.IsZero() || b.BestAsk.IsZero() {
		return decimal.Zero
	}
	return b.BestBid.Add(b.BestAsk).Div(decimal.NewFromInt(2))
}

// OptionContract is a passive snapshot of one listed option. It is
// refreshed on demand and never retained beyond the operation that fetched it.
type OptionContract struct {
	Symbol string
	Side   OptionSide
	Strike decimal.Decimal
	Expiry time.Time
	Book   BookTop
}
