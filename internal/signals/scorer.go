package signals

import (
	"fmt"
	"sort"

	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/pkg/logger"
)

const defaultVol = 0.05

// Costs is the modelled round trip deducted from the blended score.
type Costs struct {
	FeeRate          float64
	SlippageEstimate float64
}

func (c Costs) RoundTrip() float64 { return 2*c.FeeRate + c.SlippageEstimate }

// BlendWeights returns the short/long mix for a regime.
func BlendWeights(r models.Regime) (float64, float64) {
	if r == models.RegimeChop {
		return 0.6, 0.4
	}
	return 0.3, 0.7
}

// ScoreSignals scores every asset in features. A failing asset is logged and skipped.
func ScoreSignals(p Predictor, features map[string]models.FeatureVector, regime models.RegimeInfo, costs Costs) map[string]models.Signal {
	if p == nil {
		p = NullPredictor{}
	}
	ws, wl := BlendWeights(regime.Regime)

	pairs := make([]string, 0, len(features))
	for pair := range features {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	out := make(map[string]models.Signal, len(features))
	for _, pair := range pairs {
		sig, err := scoreOne(p, pair, features[pair], ws, wl, costs)
		if err != nil {
			logger.Error("signals: scoring %s: %v", pair, err)
			continue
		}
		out[pair] = sig
	}
	return out
}

func scoreOne(p Predictor, pair string, fv models.FeatureVector, ws, wl float64, costs Costs) (sig models.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	short, long := p.Predict(fv)
	score := ws*short + wl*long
	if !helper.Finite(score) {
		return models.Signal{}, fmt.Errorf("non-finite score")
	}

	vol := fv.RV24h
	if !helper.Finite(vol) {
		vol = defaultVol
	}
	tier := fv.Tier
	if tier == 0 {
		tier = 1
	}

	return models.Signal{
		Pair:      pair,
		Score:     score,
		ExpRetNet: score - costs.RoundTrip(),
		Vol:       vol,
		Tier:      tier,
	}, nil
}
