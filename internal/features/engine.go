package features

import (
	"fmt"
	"sort"

	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/ta"
	"portfolio_bot/pkg/logger"
)

// Minimum history per asset; shorter series are dropped.
const (
	MinFastCandles = 288
	MinSlowCandles = 48
)

// Windows in bars.
const (
	bars1h  = 12
	bars3h  = 36
	bars6h  = 72
	bars24h = 288

	ema20Window = 96
	ema60Window = 288
	slowVolBars = 48
	atrPeriod   = 14
	bbPeriod    = 20
	bbStdDevs   = 2.0
	ddWindow    = 48
	defaultVol  = 0.05
)

// TierLookup resolves the configured tier of a pair.
type TierLookup interface {
	TierOf(pair string) int
}

// ComputeFeatures builds one vector per pair present in fast. Pairs with short
// history or a failing computation are left out of the result.
func ComputeFeatures(fast, slow map[string][]models.Candle, tiers TierLookup) map[string]models.FeatureVector {
	out := make(map[string]models.FeatureVector, len(fast))

	pairs := make([]string, 0, len(fast))
	for p := range fast {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	for _, pair := range pairs {
		c5, c30 := fast[pair], slow[pair]
		if len(c5) < MinFastCandles || len(c30) < MinSlowCandles {
			logger.Warn("features: insufficient data for %s (fast=%d slow=%d)", pair, len(c5), len(c30))
			continue
		}
		fv, err := computePair(pair, c5, c30, tiers)
		if err != nil {
			logger.Error("features: %s: %v", pair, err)
			continue
		}
		out[pair] = fv
	}
	return out
}

func computePair(pair string, c5, c30 []models.Candle, tiers TierLookup) (fv models.FeatureVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	closes5 := models.Closes(c5)
	closes30 := models.Closes(c30)
	rets5 := ta.LogReturns(closes5)
	rets30 := ta.LogReturns(closes30)

	fv = models.FeatureVector{
		R1h:        ta.CompoundReturn(rets5, bars1h),
		R3h:        ta.CompoundReturn(rets5, bars3h),
		R6h:        ta.CompoundReturn(rets5, bars6h),
		R24h:       ta.CompoundReturn(rets5, bars24h),
		EMA20Z:     ta.ResidualZ(closes5, 20, ema20Window),
		EMA60Z:     ta.ResidualZ(closes5, 60, ema60Window),
		RSI7:       ta.RSI(closes5, 7),
		RSI14:      ta.RSI(closes5, 14),
		BBPos:      ta.BollingerPosition(closes5, bbPeriod, bbStdDevs),
		RV6h:       volOrDefault(rets5, bars6h),
		RV24h:      volOrDefault(rets30, slowVolBars),
		ATR14_30m:  ta.ATR(c30, atrPeriod),
		DDFromPeak: ta.DrawdownFromPeak(closes30, ddWindow),
		Tier:       1,
	}
	if tiers != nil {
		fv.Tier = tiers.TierOf(pair)
	}

	for i, v := range fv.Vector() {
		if !helper.Finite(v) {
			return models.FeatureVector{}, fmt.Errorf("%s is not finite", models.FeatureOrder[i])
		}
	}
	return fv, nil
}

func volOrDefault(rets []float64, window int) float64 {
	v, ok := ta.RealizedVol(rets, window)
	if !ok {
		return defaultVol
	}
	return v
}

// ComputeATR returns the 14-bar ATR per pair from slow candles. Pairs with
// short history map to 0.
func ComputeATR(slow map[string][]models.Candle) map[string]float64 {
	out := make(map[string]float64, len(slow))
	for pair, cs := range slow {
		out[pair] = ta.ATR(cs, atrPeriod)
	}
	return out
}
