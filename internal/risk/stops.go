package risk

import (
	"sort"

	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
	"portfolio_bot/pkg/logger"
)

// UpdateStops maintains the ATR stop of every open position. Pairs with zero
// ATR are left as they are. Without a snapshot the average price stands in
// for the current price.
func UpdateStops(state *models.PortfolioState, atr map[string]float64, snapshots map[string]models.MarketSnapshot, cfg *config.Config) {
	for pair, pos := range state.Positions {
		if pos.Quantity <= 0 {
			continue
		}
		a := atr[pair]
		if a <= 0 {
			continue
		}

		if pos.StopPrice == nil {
			pos.StopPrice = models.Float(pos.AvgPrice - cfg.Stops.ATRInit*a)
			pos.TrailAnchor = nil
		}

		price := pos.AvgPrice
		if snap, ok := snapshots[pair]; ok && snap.Price > 0 {
			price = snap.Price
		}

		switch {
		case pos.TrailAnchor == nil:
			if price < pos.AvgPrice+cfg.Stops.TrailArmATR*a {
				continue
			}
			pos.TrailAnchor = models.Float(price)
			logger.Info("risk: trail armed on %s at %.6f", pair, price)
		case price > *pos.TrailAnchor:
			*pos.TrailAnchor = price
		}
		pos.StopPrice = models.Float(*pos.TrailAnchor - cfg.Stops.ATRTrail*a)
	}
}

// StopHit describes why a position was flagged.
type StopHit struct {
	Pair     string
	Quantity float64
	Price    float64
	Reason   string
}

const (
	ReasonStop    = "stop"
	ReasonMaxLoss = "max_loss"
)

// CheckStopLosses flags positions for full liquidation when price is at or
// below the stop, or the loss from average exceeds max_pos_loss_portion.
// Pairs without a snapshot are skipped.
func CheckStopLosses(state *models.PortfolioState, snapshots map[string]models.MarketSnapshot, cfg *config.Config) []StopHit {
	var hits []StopHit
	for pair, pos := range state.Positions {
		snap, ok := snapshots[pair]
		if !ok || snap.Price <= 0 || pos.Quantity <= 0 {
			continue
		}
		price := snap.Price

		reason := ""
		if pos.StopPrice != nil && price <= *pos.StopPrice {
			reason = ReasonStop
		}
		if pos.AvgPrice > 0 && (price-pos.AvgPrice)/pos.AvgPrice < -cfg.Stops.MaxPosLossPortion {
			reason = ReasonMaxLoss
		}
		if reason == "" {
			continue
		}
		logger.Warn("risk: %s triggered for %s at %.6f (avg %.6f)", reason, pair, price, pos.AvgPrice)
		hits = append(hits, StopHit{Pair: pair, Quantity: pos.Quantity, Price: price, Reason: reason})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Pair < hits[j].Pair })
	return hits
}

// ToSell flattens hits into pair -> quantity.
func ToSell(hits []StopHit) map[string]float64 {
	out := make(map[string]float64, len(hits))
	for _, h := range hits {
		out[h.Pair] = h.Quantity
	}
	return out
}
