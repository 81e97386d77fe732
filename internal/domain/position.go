package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle status of a Position. Terminal once not OPEN.
type PositionStatus string

const (
	StatusOpen         PositionStatus = "OPEN"
	StatusClosedProfit PositionStatus = "CLOSED_PROFIT"
	StatusClosedLoss   PositionStatus = "CLOSED_LOSS"
	StatusClosedRisk   PositionStatus = "CLOSED_RISK"
)

// IsTerminal reports whether a status is terminal (anything but OPEN).
func (s PositionStatus) IsTerminal() bool {
	return s != StatusOpen
}

// Position is an iron butterfly: SellCall and SellPut at a common strike K,
// BuyCall at K+d·Δ, BuyPut at K-d·Δ.
type Position struct {
	ID        string
	CreatedAt time.Time
	Expiry    time.Time
	Quantity  decimal.Decimal

	SellCall *Leg
	SellPut  *Leg
	BuyCall  *Leg
	BuyPut   *Leg

	mu     sync.Mutex
	status PositionStatus

	// maxTheoreticalLoss is cached at construction/registration time per
	// the builder's step 7; it does not change as prices move.
	maxTheoreticalLoss decimal.Decimal

	CloseReason string
}

// NewPosition constructs an OPEN position from its four legs. The caller
// is responsible for having already validated the strike/expiry/quantity
// invariants (see ValidateInvariants).
func NewPosition(sellCall, sellPut, buyCall, buyPut *Leg, expiry time.Time, quantity decimal.Decimal) *Position {
	return &Position{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Expiry:    expiry,
		Quantity:  quantity,
		SellCall:  sellCall,
		SellPut:   sellPut,
		BuyCall:   buyCall,
		BuyPut:    buyPut,
		status:    StatusOpen,
	}
}

// Legs returns the four legs in a stable order.
func (p *Position) Legs() []*Leg {
	return []*Leg{p.SellCall, p.SellPut, p.BuyCall, p.BuyPut}
}

// Status returns the current lifecycle status.
func (p *Position) Status() PositionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Close transitions the position to a terminal status. A no-op if already
// terminal: no Position ever transitions from a terminal status back to OPEN,
// and once terminal it cannot be re-closed with a different status. Safe to
// call concurrently with Status and with the Risk Engine's own checks, which
// otherwise race against the Closer over the duration of a close.
func (p *Position) Close(status PositionStatus, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.IsTerminal() {
		return
	}
	if status == StatusOpen {
		return
	}
	p.status = status
	p.CloseReason = reason
}

// ValidateInvariants checks the structural invariants from the data model:
// the strike ordering BuyCall > SellCall = SellPut > BuyPut and a shared
// quantity across all four legs. Legs carry no expiry of their own; the
// single Position.Expiry is shared by construction and is not checked here.
func (p *Position) ValidateInvariants() bool {
	if p.SellCall.Strike.Cmp(p.SellPut.Strike) != 0 {
		return false
	}
	if !p.BuyCall.Strike.GreaterThan(p.SellCall.Strike) {
		return false
	}
	if !p.SellPut.Strike.GreaterThan(p.BuyPut.Strike) {
		return false
	}
	for _, leg := range p.Legs() {
		if leg.Quantity.Cmp(p.Quantity) != 0 {
			return false
		}
	}
	return true
}

// NetPremiumReceived is the aggregate credit on the two short legs minus
// the aggregate debit on the two long legs. Unfilled legs contribute zero.
func (p *Position) NetPremiumReceived() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range p.Legs() {
		total = total.Add(leg.Premium())
	}
	return total
}

// SetMaxTheoreticalLoss caches the worst-case loss at expiry, computed by
// the builder as wing width * qty - net premium received (zero premium
// contribution from any unfilled leg).
func (p *Position) SetMaxTheoreticalLoss(v decimal.Decimal) {
	p.maxTheoreticalLoss = v
}

// MaxTheoreticalLoss returns the cached worst-case loss.
func (p *Position) MaxTheoreticalLoss() decimal.Decimal {
	return p.maxTheoreticalLoss
}

// PnL sums UnrealizedPnL across all four legs; missing entry prices
// contribute zero via Leg.UnrealizedPnL.
func (p *Position) PnL() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range p.Legs() {
		total = total.Add(leg.UnrealizedPnL())
	}
	return total
}

// FilledLegCount reports how many of the four legs have a recorded entry price.
func (p *Position) FilledLegCount() int {
	n := 0
	for _, leg := range p.Legs() {
		if leg.IsFilled() {
			n++
		}
	}
	return n
}
