package risk

import (
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
)

// Drawdown is (equity - peak) / peak, 0 while the peak is unset.
func Drawdown(state *models.PortfolioState) float64 {
	if state.PeakEquity <= 0 {
		return 0
	}
	return (state.Equity - state.PeakEquity) / state.PeakEquity
}

// CheckDrawdownAndScale returns the global exposure scalar in (0,1].
func CheckDrawdownAndScale(state *models.PortfolioState, cfg *config.Config) float64 {
	dd := Drawdown(state)
	switch {
	case dd < -cfg.Risk.HardDD:
		return cfg.Risk.HardScalar
	case dd < -cfg.Risk.SoftDD:
		return cfg.Risk.ReduceAfterSoft
	default:
		return 1
	}
}
