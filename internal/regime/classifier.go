package regime

import (
	"math"

	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/ta"
)

const (
	MinCandles = 200

	fastEMA     = 50
	slowEMA     = 200
	slopeLag    = 4 // ema50[-1] - ema50[-5]
	volWindow   = 96
	volHigh     = 0.8
	volMid      = 0.4
	breadthBars = 48
)

// ComputeMarketRegime classifies the market from the reference asset's slow
// candles. Short history yields DefaultRegime.
func ComputeMarketRegime(ref []models.Candle) models.RegimeInfo {
	if len(ref) < MinCandles {
		return models.DefaultRegime()
	}
	closes := models.Closes(ref)
	last := len(closes) - 1

	ema50 := ta.EMASeries(closes, fastEMA)
	ema200 := ta.EMASeries(closes, slowEMA)
	slope := ema50[last] - ema50[last-slopeLag]

	info := models.RegimeInfo{Regime: models.RegimeChop}
	switch {
	case ema50[last] > ema200[last] && slope > 0:
		info.Regime = models.RegimeTrend
	case ema50[last] < ema200[last] && slope < 0:
		info.Regime = models.RegimeDown
	}

	info.VolRegime = volBucket(closes[len(closes)-volWindow:])
	info.Breadth = breadth(closes)
	return info
}

func volBucket(window []float64) models.VolRegime {
	_, std := ta.MeanStd(ta.LogReturns(window))
	rv := std * math.Sqrt(float64(len(window)))
	switch {
	case !helper.Finite(rv):
		return models.VolMid
	case rv > volHigh:
		return models.VolHigh
	case rv > volMid:
		return models.VolMid
	default:
		return models.VolLow
	}
}

// breadth is a proxy from the reference asset's 48-bar momentum, not a
// cross-sectional count.
func breadth(closes []float64) float64 {
	base := closes[len(closes)-breadthBars]
	if base <= 0 {
		return 0.5
	}
	r := closes[len(closes)-1]/base - 1
	return 0.5 + helper.Clamp(2*r, -0.5, 0.5)
}
