package builder

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ironfly/btcfly-engine/internal/apperr"
	"github.com/ironfly/btcfly-engine/internal/domain"
)

type selection struct {
	atmCall domain.OptionContract
	atmPut  domain.OptionContract
	otmCall domain.OptionContract
	otmPut  domain.OptionContract
}

// selectStrikes implements the builder's strike-selection algorithm: ATM
// call/put minimise |strike-refPrice| (ties broken by smaller strike) and
// must share a strike K; OTM call/put are the nearest contracts at least
// d*Δ away from K, where Δ is the modal strike spacing of the chain.
func selectStrikes(chain []domain.OptionContract, refPrice decimal.Decimal, d int) (selection, error) {
	calls := filterSide(chain, domain.Call)
	puts := filterSide(chain, domain.Put)
	if len(calls) == 0 || len(puts) == 0 {
		return selection{}, apperr.General("options chain missing calls or puts", nil)
	}

	atmCall := nearestStrike(calls, refPrice)
	atmPut := nearestStrike(puts, refPrice)
	if atmCall.Strike.Cmp(atmPut.Strike) != 0 {
		return selection{}, errors.New("ATM call and put strikes do not match")
	}
	k := atmCall.Strike

	spacing := inferGridSpacing(chain)
	minDistance := spacing.Mul(decimal.NewFromInt(int64(d)))

	otmCall, err := nearestBeyond(calls, k, minDistance, true)
	if err != nil {
		return selection{}, err
	}
	otmPut, err := nearestBeyond(puts, k, minDistance, false)
	if err != nil {
		return selection{}, err
	}

	return selection{atmCall: atmCall, atmPut: atmPut, otmCall: otmCall, otmPut: otmPut}, nil
}

func filterSide(chain []domain.OptionContract, side domain.OptionSide) []domain.OptionContract {
	out := make([]domain.OptionContract, 0, len(chain))
	for _, c := range chain {
		if c.Side == side {
			out = append(out, c)
		}
	}
	return out
}

// nearestStrike returns the contract minimising |strike-ref|, ties broken
// by the smaller strike.
func nearestStrike(contracts []domain.OptionContract, ref decimal.Decimal) domain.OptionContract {
	best := contracts[0]
	bestDist := best.Strike.Sub(ref).Abs()
	for _, c := range contracts[1:] {
		dist := c.Strike.Sub(ref).Abs()
		switch dist.Cmp(bestDist) {
		case -1:
			best, bestDist = c, dist
		case 0:
			if c.Strike.LessThan(best.Strike) {
				best, bestDist = c, dist
			}
		}
	}
	return best
}

// nearestBeyond returns the contract whose strike is on the correct side of
// k (above for calls, below for puts) and whose distance from k is >=
// minDistance, choosing the closest such contract.
func nearestBeyond(contracts []domain.OptionContract, k, minDistance decimal.Decimal, above bool) (domain.OptionContract, error) {
	var best domain.OptionContract
	var bestDist decimal.Decimal
	found := false

	for _, c := range contracts {
		var dist decimal.Decimal
		if above {
			if !c.Strike.GreaterThan(k) {
				continue
			}
			dist = c.Strike.Sub(k)
		} else {
			if !c.Strike.LessThan(k) {
				continue
			}
			dist = k.Sub(c.Strike)
		}
		if dist.LessThan(minDistance) {
			continue
		}
		if !found || dist.LessThan(bestDist) {
			best, bestDist, found = c, dist, true
		}
	}
	if !found {
		return domain.OptionContract{}, apperr.General("no contract found beyond the required strike distance", nil)
	}
	return best, nil
}

// inferGridSpacing infers Δ as the modal spacing between consecutive sorted
// strikes in the chain, per the Open Question decision to prefer chain
// inference over a hardcoded constant.
func inferGridSpacing(chain []domain.OptionContract) decimal.Decimal {
	strikeSet := map[string]decimal.Decimal{}
	for _, c := range chain {
		strikeSet[c.Strike.String()] = c.Strike
	}
	strikes := make([]decimal.Decimal, 0, len(strikeSet))
	for _, s := range strikeSet {
		strikes = append(strikes, s)
	}
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].LessThan(strikes[j]) })

	if len(strikes) < 2 {
		return decimal.NewFromInt(1)
	}

	counts := map[string]int{}
	gaps := map[string]decimal.Decimal{}
	for i := 1; i < len(strikes); i++ {
		gap := strikes[i].Sub(strikes[i-1])
		key := gap.String()
		counts[key]++
		gaps[key] = gap
	}

	var modeKey string
	maxCount := 0
	for k, c := range counts {
		if c > maxCount {
			maxCount, modeKey = c, k
		}
	}
	if modeKey == "" {
		return decimal.NewFromInt(1)
	}
	return gaps[modeKey]
}
