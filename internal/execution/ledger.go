package execution

import (
	"math"

	"portfolio_bot/internal/models"
)

// dustQty below which a position counts as closed.
const dustQty = 1e-12

// ApplyFill books a fill into state: cash, average entry and quantity.
// It returns the fill with its fee set and the realised PnL of a sell.
func ApplyFill(state *models.PortfolioState, fill models.Fill, feeRate float64) (models.Fill, float64) {
	notional := fill.Qty * fill.Price
	fill.Fee = notional * feeRate

	var realised float64
	pos := state.Positions[fill.Pair]

	switch fill.Side {
	case models.SideBuy:
		state.CashUSD -= notional + fill.Fee
		if pos == nil {
			pos = &models.Position{Pair: fill.Pair}
			state.Positions[fill.Pair] = pos
		}
		newQty := pos.Quantity + fill.Qty
		if newQty > 0 {
			pos.AvgPrice = (pos.Quantity*pos.AvgPrice + fill.Qty*fill.Price) / newQty
		}
		pos.Quantity = newQty
		pos.USDValue = newQty * fill.Price

	case models.SideSell:
		state.CashUSD += notional - fill.Fee
		if pos == nil {
			break
		}
		realised = (fill.Price-pos.AvgPrice)*fill.Qty - fill.Fee
		pos.Quantity = math.Max(0, pos.Quantity-fill.Qty)
		if pos.Quantity <= dustQty {
			delete(state.Positions, fill.Pair)
			break
		}
		pos.USDValue = pos.Quantity * fill.Price
	}

	state.Recompute()
	return fill, realised
}
