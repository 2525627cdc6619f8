package portfolio

import "portfolio_bot/internal/models"

// MarkToMarket revalues positions that have a snapshot and recomputes equity
// and peak. Positions without a snapshot keep their last value.
func MarkToMarket(state *models.PortfolioState, snapshots map[string]models.MarketSnapshot) {
	for pair, pos := range state.Positions {
		snap, ok := snapshots[pair]
		if !ok || snap.Price <= 0 {
			continue
		}
		pos.USDValue = pos.Quantity * snap.Price
	}
	state.Recompute()
}

// CurrentWeights is usd_value / equity per held pair.
func CurrentWeights(state *models.PortfolioState) models.TargetWeights {
	out := make(models.TargetWeights, len(state.Positions))
	if state.Equity <= 0 {
		return out
	}
	for pair, pos := range state.Positions {
		out[pair] = pos.USDValue / state.Equity
	}
	return out
}
