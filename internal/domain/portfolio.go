package domain

import "github.com/shopspring/decimal"

// PortfolioRiskMetrics is a derived snapshot recomputed on each risk tick
// and never stored beyond that tick.
type PortfolioRiskMetrics struct {
	TotalMaxLoss   decimal.Decimal
	TotalMTM       decimal.Decimal
	OpenPositions  int
}

// ComputePortfolioRiskMetrics aggregates max theoretical loss and current
// MTM across every OPEN position in positions.
func ComputePortfolioRiskMetrics(positions []*Position) PortfolioRiskMetrics {
	m := PortfolioRiskMetrics{}
	for _, p := range positions {
		if p.Status() != StatusOpen {
			continue
		}
		m.OpenPositions++
		m.TotalMaxLoss = m.TotalMaxLoss.Add(p.MaxTheoreticalLoss())
		m.TotalMTM = m.TotalMTM.Add(p.PnL())
	}
	return m
}
