package helper

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// NormPair upper-cases a pair and normalises the separator to "/".
func NormPair(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")
	return s
}

// BaseAsset returns "BTC" for "BTC/USD".
func BaseAsset(pair string) string {
	if i := strings.IndexByte(pair, '/'); i > 0 {
		return pair[:i]
	}
	return pair
}

// tickRatioPlaces absorbs float noise in px/tick before flooring, so
// 100.04999999999999 on a 0.01 tick stays 100.05.
const tickRatioPlaces = 8

// RoundDownToTick floors px to a multiple of tick. tick <= 0 leaves px as is.
func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(px).Div(t).Round(tickRatioPlaces).Floor().Mul(t).InexactFloat64()
}

// RoundUpToTick ceils px to a multiple of tick.
func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	return decimal.NewFromFloat(px).Div(t).Round(tickRatioPlaces).Ceil().Mul(t).InexactFloat64()
}

// FloorToStep truncates qty toward zero to a multiple of step, keeping the sign.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(s).Round(tickRatioPlaces).Truncate(0).Mul(s).InexactFloat64()
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Finite reports whether v is neither NaN nor ±Inf.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
