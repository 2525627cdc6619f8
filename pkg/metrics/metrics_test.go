package metrics

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestComputeIntradayMetrics(t *testing.T) {
	if p := ComputeIntradayMetrics([]float64{100}); p != (Performance{}) {
		t.Fatalf("single point = %+v", p)
	}

	rising := ComputeIntradayMetrics([]float64{100, 101, 103, 104})
	if rising.MDD != 0 || rising.Calmar != 0 {
		t.Fatalf("rising curve has drawdown: %+v", rising)
	}
	if rising.Sharpe <= 0 || math.Abs(rising.Sharpe-rising.Sortino) > 1e-9 {
		t.Fatalf("without losses sortino falls back to sharpe: %+v", rising)
	}

	dd := ComputeIntradayMetrics([]float64{100, 120, 90, 100})
	if math.Abs(dd.MDD+0.25) > 1e-6 {
		t.Fatalf("mdd = %v", dd.MDD)
	}
	if dd.Calmar == 0 {
		t.Fatalf("calmar = %v", dd.Calmar)
	}

	flat := ComputeIntradayMetrics([]float64{100, 100, 100})
	if flat != (Performance{}) {
		t.Fatalf("flat = %+v", flat)
	}
}

func TestEquityCurveIsBounded(t *testing.T) {
	c := NewEquityCurve(3)
	for i := 1; i <= 5; i++ {
		c.Append(float64(i))
	}
	got := c.Values()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("values = %v", got)
	}
	got[0] = 99
	if c.Values()[0] != 3 {
		t.Fatal("Values must return a copy")
	}
}

func TestRecorder(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.ObserveFill("BTC/USD", "BUY", 250)
	r.ObserveFill("BTC/USD", "BUY", 50)
	r.IncStopExit("stop")
	r.SetPortfolio(1000, 400, -0.05, 0.6, 2)
	r.SetRegime("chop", "trend", "chop", "down")
	r.SetPerformance(Performance{Sharpe: 1.5, MDD: -0.1})

	if v := testutil.ToFloat64(r.fills.WithLabelValues("BTC/USD", "BUY")); v != 2 {
		t.Fatalf("fills = %v", v)
	}
	if v := testutil.ToFloat64(r.notional.WithLabelValues("BUY")); v != 300 {
		t.Fatalf("notional = %v", v)
	}
	if v := testutil.ToFloat64(r.equity); v != 1000 {
		t.Fatalf("equity = %v", v)
	}
	if v := testutil.ToFloat64(r.regime.WithLabelValues("chop")); v != 1 {
		t.Fatalf("chop = %v", v)
	}
	if v := testutil.ToFloat64(r.regime.WithLabelValues("trend")); v != 0 {
		t.Fatalf("trend = %v", v)
	}
	if v := testutil.ToFloat64(r.perf.WithLabelValues("mdd")); v != -0.1 {
		t.Fatalf("mdd = %v", v)
	}
}
