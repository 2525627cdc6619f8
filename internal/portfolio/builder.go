package portfolio

import (
	"math"
	"sort"

	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
)

const volFloor = 1e-3

// BuildTargetWeights turns signals into capped weights summing to at most
// 1 - cash buffer. An empty result means no candidate cleared the threshold;
// what to do then is the caller's decision.
func BuildTargetWeights(signals map[string]models.Signal, regime models.RegimeInfo, _ *models.PortfolioState, cfg *config.Config) models.TargetWeights {
	candidates := make([]models.Signal, 0, len(signals))
	for _, s := range signals {
		if s.ExpRetNet > cfg.Signals.ScoreThreshold {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return models.TargetWeights{}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Pair < candidates[j].Pair
	})
	if k := cfg.TopK(regime.Regime); k < len(candidates) {
		candidates = candidates[:k]
	}

	raw := make([]float64, len(candidates))
	var total float64
	for i, s := range candidates {
		raw[i] = s.Score / math.Max(s.Vol, volFloor)
		total += math.Max(0, raw[i])
	}
	if total == 0 {
		total = 1
	}

	investable := 1 - cfg.CashBuffer(regime.Regime)
	sleeveCap := cfg.Sizing.SleeveT3Max
	var sleeveUsed float64

	out := make(models.TargetWeights, len(candidates))
	for i, s := range candidates {
		w := investable * raw[i] / total
		w = math.Min(w, cfg.TierCap(s.Tier))

		if s.Tier == 3 {
			if sleeveUsed+w > sleeveCap {
				w = math.Max(0, sleeveCap-sleeveUsed)
			}
			sleeveUsed += math.Max(0, w)
		}

		if w > 0 {
			out[s.Pair] = w
		}
	}
	return out
}

// ScaleWeights multiplies every weight by the exposure scalar.
func ScaleWeights(w models.TargetWeights, scalar float64) models.TargetWeights {
	out := make(models.TargetWeights, len(w))
	for pair, v := range w {
		out[pair] = v * scalar
	}
	return out
}
