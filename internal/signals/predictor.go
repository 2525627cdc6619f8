package signals

import (
	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/pkg/logger"
)

// Predictor returns expected returns for the short (6h) and long (24h) horizons.
type Predictor interface {
	Predict(fv models.FeatureVector) (short, long float64)
}

// HorizonModel is a trained single-horizon regressor over FeatureVector.Vector().
type HorizonModel interface {
	Predict(x []float64) (float64, error)
}

// Fallback is the deterministic score used when no model is usable.
func Fallback(momentum, rsi14 float64) float64 {
	return 0.5*momentum + 0.3*(rsi14/100-0.5)
}

// NullPredictor scores every asset with Fallback.
type NullPredictor struct{}

func (NullPredictor) Predict(fv models.FeatureVector) (float64, float64) {
	return Fallback(fv.R6h, fv.RSI14), Fallback(fv.R24h, fv.RSI14)
}

// ModelPredictor runs per-horizon models. A nil model, an error or a
// non-finite output falls back for that horizon only.
type ModelPredictor struct {
	Short HorizonModel
	Long  HorizonModel
}

func (m ModelPredictor) Predict(fv models.FeatureVector) (float64, float64) {
	x := fv.Vector()
	short := predictOr(m.Short, x, Fallback(fv.R6h, fv.RSI14))
	long := predictOr(m.Long, x, Fallback(fv.R24h, fv.RSI14))
	return short, long
}

func predictOr(model HorizonModel, x []float64, fallback float64) (out float64) {
	if model == nil {
		return fallback
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("signals: model panic: %v", r)
			out = fallback
		}
	}()
	v, err := model.Predict(x)
	if err != nil {
		logger.Warn("signals: model predict: %v", err)
		return fallback
	}
	if !helper.Finite(v) {
		return fallback
	}
	return v
}
