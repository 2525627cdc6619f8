package metrics

import (
	"math"
	"sync"

	"portfolio_bot/internal/ta"
)

// periodsPerYear annualises 15-minute returns: 96 ticks a day, 252 days.
const periodsPerYear = 252 * 96

type Performance struct {
	Sharpe  float64 `json:"sharpe"`
	Sortino float64 `json:"sortino"`
	Calmar  float64 `json:"calmar"`
	MDD     float64 `json:"mdd"`
}

// ComputeIntradayMetrics derives risk-adjusted ratios from an equity curve.
// Fewer than two points yield zeros.
func ComputeIntradayMetrics(equity []float64) Performance {
	if len(equity) < 2 {
		return Performance{}
	}

	rets := make([]float64, len(equity)-1)
	var neg []float64
	for i := 1; i < len(equity); i++ {
		rets[i-1] = (equity[i] - equity[i-1]) / (equity[i-1] + 1e-8)
		if rets[i-1] < 0 {
			neg = append(neg, rets[i-1])
		}
	}
	mean, std := ta.MeanStd(rets)
	ann := math.Sqrt(periodsPerYear)

	var p Performance
	if std > 0 {
		p.Sharpe = mean / std * ann
	}
	downside := std
	if len(neg) > 0 {
		_, downside = ta.MeanStd(neg)
	}
	if downside > 0 {
		p.Sortino = mean / downside * ann
	}

	peak := equity[0]
	for _, v := range equity {
		peak = math.Max(peak, v)
		p.MDD = math.Min(p.MDD, (v-peak)/(peak+1e-8))
	}
	if p.MDD != 0 {
		p.Calmar = mean / math.Abs(p.MDD) * ann
	}
	return p
}

// EquityCurve is a bounded, concurrency-safe equity history.
type EquityCurve struct {
	mu     sync.Mutex
	max    int
	points []float64
}

func NewEquityCurve(max int) *EquityCurve {
	return &EquityCurve{max: max}
}

func (c *EquityCurve) Append(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append(c.points, v)
	if c.max > 0 && len(c.points) > c.max {
		c.points = append(c.points[:0], c.points[len(c.points)-c.max:]...)
	}
}

func (c *EquityCurve) Values() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.points...)
}
