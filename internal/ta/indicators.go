package ta

import (
	"math"

	"portfolio_bot/internal/models"
)

// MeanStd returns the mean and population standard deviation.
func MeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// EMASeries is seeded with the first value, alpha = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values))
	if period <= 1 {
		copy(out, values)
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// LogReturns returns ln(c[i]/c[i-1]). Non-positive prices yield NaN.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i] <= 0 || closes[i-1] <= 0 {
			out[i-1] = math.NaN()
			continue
		}
		out[i-1] = math.Log(closes[i] / closes[i-1])
	}
	return out
}

// CompoundReturn is exp(sum of the trailing window log-returns) - 1, or 0 when
// fewer than window returns exist.
func CompoundReturn(rets []float64, window int) float64 {
	if window <= 0 || len(rets) < window {
		return 0
	}
	var sum float64
	for _, r := range rets[len(rets)-window:] {
		sum += r
	}
	return math.Exp(sum) - 1
}

// RealizedVol is std of the trailing window returns scaled by sqrt(window).
// ok is false when there is not enough data.
func RealizedVol(rets []float64, window int) (float64, bool) {
	if window <= 1 || len(rets) < window {
		return 0, false
	}
	_, std := MeanStd(rets[len(rets)-window:])
	return std * math.Sqrt(float64(window)), true
}

// RSI uses the simple mean of the last period gains and losses.
// 50 when there is not enough data, 100 when there were no losses.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// BollingerPosition locates the last close inside the band, clamped to [0,1].
// 0.5 when the band is degenerate or history is short.
func BollingerPosition(closes []float64, period int, stdDevs float64) float64 {
	if period <= 0 || len(closes) < period {
		return 0.5
	}
	mean, std := MeanStd(closes[len(closes)-period:])
	if std == 0 {
		return 0.5
	}
	upper := mean + stdDevs*std
	lower := mean - stdDevs*std
	if upper == lower {
		return 0.5
	}
	pos := (closes[len(closes)-1] - lower) / (upper - lower)
	return math.Max(0, math.Min(1, pos))
}

// ResidualZ is (close - ema) of the last bar over the std of the trailing
// window of residuals. 0 when history is shorter than window.
func ResidualZ(closes []float64, period, window int) float64 {
	if window <= 0 || len(closes) < window {
		return 0
	}
	ema := EMASeries(closes, period)
	resid := make([]float64, window)
	off := len(closes) - window
	for i := 0; i < window; i++ {
		resid[i] = closes[off+i] - ema[off+i]
	}
	_, std := MeanStd(resid)
	last := len(closes) - 1
	return (closes[last] - ema[last]) / (std + 1e-8)
}

// ATR is the mean true range of the trailing period bars; 0 with fewer than period+1 candles.
func ATR(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}
	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		c, prev := candles[i], candles[i-1]
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
		sum += tr
	}
	return sum / float64(period)
}

// DrawdownFromPeak is last/max(trailing window) - 1; 0 when history is short.
func DrawdownFromPeak(closes []float64, window int) float64 {
	if window <= 0 || len(closes) < window {
		return 0
	}
	peak := 0.0
	for _, c := range closes[len(closes)-window:] {
		if c > peak {
			peak = c
		}
	}
	if peak <= 0 {
		return 0
	}
	return closes[len(closes)-1]/peak - 1
}
