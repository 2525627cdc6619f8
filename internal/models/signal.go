package models

// Signal is the scored view of one asset for one tick.
type Signal struct {
	Pair      string  `json:"pair"`
	Score     float64 `json:"score"`
	ExpRetNet float64 `json:"exp_ret_net"`
	Vol       float64 `json:"vol"`
	Tier      int     `json:"tier"`
}

// TargetWeights maps pair to portfolio weight in [0,1].
type TargetWeights map[string]float64

func (w TargetWeights) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}
