package models

import "time"

// Candle is one OHLCV bar. Ts is the bar open time in epoch milliseconds.
type Candle struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (c Candle) Time() time.Time { return time.UnixMilli(c.Ts).UTC() }

// Closes extracts close prices in order.
func Closes(cs []Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = cs[i].Close
	}
	return out
}
