package models

type Regime string

const (
	RegimeTrend Regime = "trend"
	RegimeChop  Regime = "chop"
	RegimeDown  Regime = "down"
)

type VolRegime string

const (
	VolLow  VolRegime = "low"
	VolMid  VolRegime = "mid"
	VolHigh VolRegime = "high"
)

// RegimeInfo is derived from the reference asset once per tick.
// Breadth is a proxy built from the reference asset's own momentum, not a
// cross-sectional measure.
type RegimeInfo struct {
	Regime    Regime    `json:"regime"`
	VolRegime VolRegime `json:"vol_regime"`
	Breadth   float64   `json:"breadth"`
}

func DefaultRegime() RegimeInfo {
	return RegimeInfo{Regime: RegimeChop, VolRegime: VolMid, Breadth: 0.5}
}
