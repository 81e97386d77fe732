package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironfly/btcfly-engine/internal/alert"
	"github.com/ironfly/btcfly-engine/internal/domain"
)

type fakeCloser struct {
	mu        sync.Mutex
	closed    []*domain.Position
	closeAll  int
	closeErr  error
}

func (f *fakeCloser) Close(ctx context.Context, pos *domain.Position, status domain.PositionStatus, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closeErr != nil {
		return f.closeErr
	}
	pos.Close(status, reason)
	f.closed = append(f.closed, pos)
	return nil
}

func (f *fakeCloser) CloseAll(ctx context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeAll++
}

type fakeShutdown struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeShutdown) RequestEmergency(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, reason)
}

func testEngine(cfg Config, closer Closer, shutdown ShutdownRequester) (*Engine, *test.Hook) {
	log, hook := test.NewNullLogger()
	entry := logrus.NewEntry(log)
	e := New(cfg, closer, shutdown, entry, alert.NewLogSink(entry), alert.NewLogEventLogger(entry))
	return e, hook
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func positionWithNetPremAndPnL(netPrem, pnl decimal.Decimal) *domain.Position {
	sellCall := domain.NewLeg("BTC-100C", domain.Call, d("100"), decimal.NewFromInt(1), domain.Sell)
	sellPut := domain.NewLeg("BTC-100P", domain.Put, d("100"), decimal.NewFromInt(1), domain.Sell)
	buyCall := domain.NewLeg("BTC-105C", domain.Call, d("105"), decimal.NewFromInt(1), domain.Buy)
	buyPut := domain.NewLeg("BTC-95P", domain.Put, d("95"), decimal.NewFromInt(1), domain.Buy)

	// entry prices chosen so that NetPremiumReceived == netPrem exactly:
	// two SELL legs credit `netPrem/2` each, two BUY legs cost zero.
	half := netPrem.Div(decimal.NewFromInt(2))
	sellCall.SetEntryPrice(half)
	sellPut.SetEntryPrice(half)
	buyCall.SetEntryPrice(decimal.Zero)
	buyPut.SetEntryPrice(decimal.Zero)

	pos := domain.NewPosition(sellCall, sellPut, buyCall, buyPut, time.Now().Add(24*time.Hour), decimal.NewFromInt(1))

	// Drive current prices so PnL() sums to pnl: put the whole delta on
	// the SellCall leg (SELL: pnl = (entry-current)*qty).
	sellCall.SetCurrentPrice(half.Sub(pnl))
	sellPut.SetCurrentPrice(half)
	buyCall.SetCurrentPrice(decimal.Zero)
	buyPut.SetCurrentPrice(decimal.Zero)

	pos.SetMaxTheoreticalLoss(d("10").Mul(decimal.NewFromInt(1)).Sub(netPrem))
	return pos
}

// TestPerPositionStopLoss is scenario S3: NetPrem = 10.00, SL% = 30, P&L
// drifts to -3.50 (the SL threshold is exactly -3.00, so -3.50 breaches it).
func TestPerPositionStopLoss(t *testing.T) {
	pos := positionWithNetPremAndPnL(d("10.00"), d("-3.50"))
	closer := &fakeCloser{}
	shutdown := &fakeShutdown{}
	e, _ := testEngine(Config{StopLossPct: d("30"), ProfitTargetPct: d("50"), PortfolioRiskPct: d("10")}, closer, shutdown)

	e.evaluate(context.Background(), []*domain.Position{pos})

	require.Len(t, closer.closed, 1)
	assert.Equal(t, domain.StatusClosedLoss, pos.Status())
	assert.Contains(t, pos.CloseReason, "Stop-loss: 30.0%")
}

func TestPerPositionProfitTarget(t *testing.T) {
	pos := positionWithNetPremAndPnL(d("10.00"), d("6.00"))
	closer := &fakeCloser{}
	shutdown := &fakeShutdown{}
	e, _ := testEngine(Config{StopLossPct: d("30"), ProfitTargetPct: d("50"), PortfolioRiskPct: d("10")}, closer, shutdown)

	e.evaluate(context.Background(), []*domain.Position{pos})

	require.Len(t, closer.closed, 1)
	assert.Equal(t, domain.StatusClosedProfit, pos.Status())
	assert.Contains(t, pos.CloseReason, "Profit target: 50.0%")
}

func TestStopLossTakesPrecedenceOverProfitTargetSameTick(t *testing.T) {
	// With NetPrem 10, SL 10% and TP 5% the thresholds are -1.00 and +0.50.
	// SL's threshold is negative and TP's positive, so no P&L can breach
	// both on one tick; PnL=-9 breaches SL only. Assert exactly one close
	// happens and it is the loss variant (the engine's switch checks SL
	// first).
	pos := positionWithNetPremAndPnL(d("10.00"), d("-9.00"))
	closer := &fakeCloser{}
	shutdown := &fakeShutdown{}
	e, _ := testEngine(Config{StopLossPct: d("10"), ProfitTargetPct: d("5"), PortfolioRiskPct: d("10")}, closer, shutdown)

	e.evaluate(context.Background(), []*domain.Position{pos})

	require.Len(t, closer.closed, 1)
	assert.Equal(t, domain.StatusClosedLoss, pos.Status())
}

func TestZeroOrNegativeNetPremiumSkipsPerPositionChecks(t *testing.T) {
	pos := positionWithNetPremAndPnL(d("0"), d("-50"))
	closer := &fakeCloser{}
	shutdown := &fakeShutdown{}
	e, _ := testEngine(Config{StopLossPct: d("30"), ProfitTargetPct: d("50"), PortfolioRiskPct: d("10")}, closer, shutdown)

	e.evaluate(context.Background(), []*domain.Position{pos})

	assert.Empty(t, closer.closed)
	assert.Equal(t, domain.StatusOpen, pos.Status())
}

// TestPortfolioStopLoss is scenario S4: two positions with MaxLoss 1000 and
// 500 (total 1500); aggregate MTM drifts to -160 (> 10% of 1500 = 150).
// Expected: latch flips once, one critical alert, CloseAll invoked, and
// emergency shutdown requested.
func TestPortfolioStopLoss(t *testing.T) {
	// NetPrem 200 keeps both positions inside their own 90% SL/TP bands
	// (-180 / +180), so only the portfolio check fires.
	posA := positionWithNetPremAndPnL(d("200"), d("-50"))
	posA.SetMaxTheoreticalLoss(d("1000"))
	posB := positionWithNetPremAndPnL(d("200"), d("-110"))
	posB.SetMaxTheoreticalLoss(d("500"))

	closer := &fakeCloser{}
	shutdown := &fakeShutdown{}
	e, hook := testEngine(Config{StopLossPct: d("90"), ProfitTargetPct: d("90"), PortfolioRiskPct: d("10")}, closer, shutdown)

	e.evaluate(context.Background(), []*domain.Position{posA, posB})

	assert.True(t, e.PortfolioStopLossTriggered())
	assert.Equal(t, 1, closer.closeAll)
	require.Len(t, shutdown.requests, 1)
	assert.Equal(t, "Portfolio stop-loss triggered", shutdown.requests[0])

	var criticalAlerts int
	for _, entry := range hook.AllEntries() {
		if entry.Message == "[RISK] PORTFOLIO STOP-LOSS TRIGGERED" {
			criticalAlerts++
		}
	}
	assert.Equal(t, 1, criticalAlerts)

	// a second evaluate call must short-circuit: no additional CloseAll.
	e.evaluate(context.Background(), []*domain.Position{posA, posB})
	assert.Equal(t, 1, closer.closeAll)
	assert.Len(t, shutdown.requests, 1)
}

func TestPortfolioWithZeroMaxLossNeverTriggers(t *testing.T) {
	pos := positionWithNetPremAndPnL(d("10"), d("-1000"))
	pos.SetMaxTheoreticalLoss(decimal.Zero)

	closer := &fakeCloser{}
	shutdown := &fakeShutdown{}
	e, _ := testEngine(Config{StopLossPct: d("90"), ProfitTargetPct: d("90"), PortfolioRiskPct: d("10")}, closer, shutdown)

	e.evaluate(context.Background(), []*domain.Position{pos})

	assert.False(t, e.PortfolioStopLossTriggered())
	assert.Equal(t, 0, closer.closeAll)
}
