package models

// FeatureVector is the per-asset feature set for one evaluation instant.
type FeatureVector struct {
	R1h        float64 `json:"r_1h"`
	R3h        float64 `json:"r_3h"`
	R6h        float64 `json:"r_6h"`
	R24h       float64 `json:"r_24h"`
	EMA20Z     float64 `json:"ema20_z"`
	EMA60Z     float64 `json:"ema60_z"`
	RSI7       float64 `json:"rsi7"`
	RSI14      float64 `json:"rsi14"`
	BBPos      float64 `json:"bb_pos"`
	RV6h       float64 `json:"rv_6h"`
	RV24h      float64 `json:"rv_24h"`
	ATR14_30m  float64 `json:"atr_14_30m"`
	DDFromPeak float64 `json:"dd_from_peak"`
	Tier       int     `json:"tier"`
}

// FeatureOrder is the column order horizon models are trained on. Tier is not a model input.
var FeatureOrder = []string{
	"r_1h", "r_3h", "r_6h", "r_24h",
	"ema20_z", "ema60_z", "rsi7", "rsi14", "bb_pos",
	"rv_6h", "rv_24h", "atr_14_30m", "dd_from_peak",
}

// Vector returns the model inputs in FeatureOrder.
func (f FeatureVector) Vector() []float64 {
	return []float64{
		f.R1h, f.R3h, f.R6h, f.R24h,
		f.EMA20Z, f.EMA60Z, f.RSI7, f.RSI14, f.BBPos,
		f.RV6h, f.RV24h, f.ATR14_30m, f.DDFromPeak,
	}
}
