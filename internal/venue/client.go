// Package venue defines the narrow interface the engine uses to talk to the
// options venue, plus a resty-backed HTTP implementation and the HMAC
// request signer. Endpoint paths and field names are venue-specific; only
// the semantic operations below are part of the engine's contract.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ironfly/btcfly-engine/internal/domain"
)

// OrderType is always LIMIT in this engine; the aggressive-fill driver
// reprices rather than crossing to market.
const OrderType = "LIMIT"

// OrderResult is the shape returned by place/modify/cancel/get order.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	OriginalQty  decimal.Decimal
	Price        decimal.Decimal
}

// OrderStatus is the venue-reported state of an order.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further fills or modifications can occur.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled || s == OrderRejected
}

// Client is the full set of venue operations the engine depends on. All
// calls are expected to be wrapped by the resilience layer by the caller;
// Client implementations do not retry internally.
type Client interface {
	// GetReferencePrice returns the last-traded price of the BTC
	// perpetual/futures reference.
	GetReferencePrice(ctx context.Context) (decimal.Decimal, error)

	// GetOptionsChain returns every listed contract for the given expiry.
	GetOptionsChain(ctx context.Context, expiry time.Time) ([]domain.OptionContract, error)

	// GetBook returns the best bid/ask (and sizes) for symbol, querying at
	// most depth levels of book (implementations may ignore depth beyond
	// top-of-book).
	GetBook(ctx context.Context, symbol string, depth int) (domain.BookTop, error)

	// PlaceOrder submits a new LIMIT order.
	PlaceOrder(ctx context.Context, symbol string, side domain.OrderSide, qty, price decimal.Decimal) (OrderResult, error)

	// ModifyOrder changes the qty/price of an open order.
	ModifyOrder(ctx context.Context, orderID, symbol string, qty, price decimal.Decimal) (OrderResult, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID, symbol string) (OrderResult, error)

	// GetOrder fetches the current state of an order.
	GetOrder(ctx context.Context, orderID, symbol string) (OrderResult, error)

	// EarliestExpiry returns the earliest listed expiry >= after.
	EarliestExpiry(ctx context.Context, after time.Time) (time.Time, error)
}
