package builder

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironfly/btcfly-engine/internal/domain"
)

func contract(symbol string, side domain.OptionSide, strike string) domain.OptionContract {
	return domain.OptionContract{
		Symbol: symbol,
		Side:   side,
		Strike: decimal.RequireFromString(strike),
		Expiry: time.Now().Add(24 * time.Hour),
		Book:   domain.BookTop{BestBid: decimal.RequireFromString("1.0"), BestAsk: decimal.RequireFromString("1.1")},
	}
}

func buildTestChain() []domain.OptionContract {
	var chain []domain.OptionContract
	for _, s := range []string{"95", "96", "97", "98", "99", "100", "101", "102", "103", "104", "105"} {
		chain = append(chain, contract("BTC-"+s+"C", domain.Call, s))
		chain = append(chain, contract("BTC-"+s+"P", domain.Put, s))
	}
	return chain
}

func TestSelectStrikesHappyPath(t *testing.T) {
	chain := buildTestChain()
	sel, err := selectStrikes(chain, decimal.RequireFromString("100.2"), 2)
	require.NoError(t, err)

	assert.True(t, sel.atmCall.Strike.Equal(decimal.RequireFromString("100")))
	assert.True(t, sel.atmPut.Strike.Equal(decimal.RequireFromString("100")))
	assert.True(t, sel.otmCall.Strike.GreaterThan(sel.atmCall.Strike))
	assert.True(t, sel.otmPut.Strike.LessThan(sel.atmPut.Strike))
}

func TestSelectStrikesTieBreaksToSmallerStrike(t *testing.T) {
	chain := []domain.OptionContract{
		contract("BTC-99C", domain.Call, "99"),
		contract("BTC-101C", domain.Call, "101"),
		contract("BTC-99P", domain.Put, "99"),
		contract("BTC-101P", domain.Put, "101"),
	}
	best := nearestStrike(filterSide(chain, domain.Call), decimal.RequireFromString("100"))
	assert.True(t, best.Strike.Equal(decimal.RequireFromString("99")))
}

func TestInferGridSpacingModalGap(t *testing.T) {
	chain := buildTestChain()
	spacing := inferGridSpacing(chain)
	assert.True(t, spacing.Equal(decimal.RequireFromString("1")))
}

func TestSelectStrikesFailsWhenATMMismatch(t *testing.T) {
	chain := []domain.OptionContract{
		contract("BTC-100C", domain.Call, "100"),
		contract("BTC-105P", domain.Put, "105"),
	}
	_, err := selectStrikes(chain, decimal.RequireFromString("100"), 1)
	assert.Error(t, err)
}
