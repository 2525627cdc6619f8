package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "portfolio_bot"

// Recorder exports trading and pipeline metrics to Prometheus.
type Recorder struct {
	fills      *prometheus.CounterVec
	notional   *prometheus.CounterVec
	stopExits  *prometheus.CounterVec
	tickErrors *prometheus.CounterVec
	stage      *prometheus.HistogramVec

	equity    prometheus.Gauge
	cash      prometheus.Gauge
	drawdown  prometheus.Gauge
	exposure  prometheus.Gauge
	positions prometheus.Gauge
	scalar    prometheus.Gauge
	regime    *prometheus.GaugeVec
	perf      *prometheus.GaugeVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		fills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Booked fills by pair and side",
		}, []string{"pair", "side"}),
		notional: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_usd_total",
			Help:      "Traded notional in USD by side",
		}, []string{"side"}),
		stopExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stop_exits_total",
			Help:      "Positions liquidated by the risk manager",
		}, []string{"reason"}),
		tickErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Failed scheduler ticks by cadence",
		}, []string{"cadence"}),
		stage: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity_usd",
			Help:      "Marked-to-market equity",
		}),
		cash: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash_usd",
			Help:      "Free cash",
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drawdown_ratio",
			Help:      "Equity drawdown from peak, 0 or negative",
		}),
		exposure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gross_exposure_ratio",
			Help:      "Sum of position values over equity",
		}),
		positions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		scalar: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposure_scalar",
			Help:      "Drawdown exposure scalar applied to target weights",
		}),
		regime: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regime",
			Help:      "1 for the current market regime",
		}, []string{"regime"}),
		perf: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "performance",
			Help:      "Intraday performance over the recorded equity curve",
		}, []string{"metric"}),
	}
}

func (r *Recorder) ObserveFill(pair, side string, notional float64) {
	r.fills.WithLabelValues(pair, side).Inc()
	r.notional.WithLabelValues(side).Add(notional)
}

func (r *Recorder) IncStopExit(reason string) {
	r.stopExits.WithLabelValues(reason).Inc()
}

func (r *Recorder) IncTickError(cadence string) {
	r.tickErrors.WithLabelValues(cadence).Inc()
}

func (r *Recorder) ObserveStage(stage string, seconds float64) {
	r.stage.WithLabelValues(stage).Observe(seconds)
}

// SetPortfolio publishes the balance gauges.
func (r *Recorder) SetPortfolio(equity, cash, drawdown, exposure float64, positions int) {
	r.equity.Set(equity)
	r.cash.Set(cash)
	r.drawdown.Set(drawdown)
	r.exposure.Set(exposure)
	r.positions.Set(float64(positions))
}

func (r *Recorder) SetExposureScalar(v float64) {
	r.scalar.Set(v)
}

func (r *Recorder) SetRegime(current string, all ...string) {
	for _, name := range all {
		v := 0.0
		if name == current {
			v = 1
		}
		r.regime.WithLabelValues(name).Set(v)
	}
}

func (r *Recorder) SetPerformance(p Performance) {
	r.perf.WithLabelValues("sharpe").Set(p.Sharpe)
	r.perf.WithLabelValues("sortino").Set(p.Sortino)
	r.perf.WithLabelValues("calmar").Set(p.Calmar)
	r.perf.WithLabelValues("mdd").Set(p.MDD)
}
