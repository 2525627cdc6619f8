package service

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/execution"
	"portfolio_bot/internal/faststart"
	"portfolio_bot/internal/features"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
	statesvc "portfolio_bot/internal/modules/state/service"
	"portfolio_bot/internal/notify"
	"portfolio_bot/internal/portfolio"
	"portfolio_bot/internal/regime"
	"portfolio_bot/internal/risk"
	"portfolio_bot/internal/signals"
	"portfolio_bot/pkg/logger"
	"portfolio_bot/pkg/metrics"
	"portfolio_bot/pkg/tracing"
)

// ErrNoMarketData means no pair returned candles, so the tick did nothing useful.
var ErrNoMarketData = errors.New("no market data")

// Report summarises one tick for logs and tests.
type Report struct {
	Blocked    bool
	Regime     models.RegimeInfo
	Signals    int
	Target     models.TargetWeights
	Scalar     float64
	Orders     []string
	StopHits   []risk.StopHit
	Equity     float64
	Drawdown   float64
	SkipReason string
}

// Pipeline holds the per-tick decision flow. It owns no timers; the
// Scheduler decides when a tick runs.
type Pipeline struct {
	cfg       *config.Config
	gw        exchange.Gateway
	predictor signals.Predictor
	exec      *execution.Executor
	fastStart *faststart.Controller
	store     statesvc.Store
	notifier  notify.Notifier
	metrics   *metrics.Recorder
	curve     *metrics.EquityCurve

	pause      func(ctx context.Context, d time.Duration) error
	lastScalar float64
}

func NewPipeline(
	cfg *config.Config,
	gw exchange.Gateway,
	predictor signals.Predictor,
	store statesvc.Store,
	notifier notify.Notifier,
	rec *metrics.Recorder,
) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		gw:         gw,
		predictor:  predictor,
		store:      store,
		notifier:   notifier,
		metrics:    rec,
		curve:      metrics.NewEquityCurve(30 * 96),
		pause:      sleepCtx,
		lastScalar: 1,
	}
	hooks := []execution.FillHook{statesvc.PersistHook(store), p.onFill}
	p.exec = execution.NewExecutor(gw, cfg, hooks...)
	p.fastStart = faststart.NewController(cfg, hooks...)
	return p
}

func (p *Pipeline) onFill(_ context.Context, _ *models.PortfolioState, fill models.Fill, realised float64) {
	p.metrics.ObserveFill(fill.Pair, string(fill.Side), fill.Qty*fill.Price)
	if fill.Side == models.SideSell {
		p.notifier.Sendf("%s %.8f %s @ %.6f fee %.4f pnl %.2f", fill.Side, fill.Qty, fill.Pair, fill.Price, fill.Fee, realised)
		return
	}
	p.notifier.Sendf("%s %.8f %s @ %.6f fee %.4f", fill.Side, fill.Qty, fill.Pair, fill.Price, fill.Fee)
}

// RebalanceTick runs fast start first, then features, regime, scoring,
// weights, drawdown scaling and rebalancing in that order.
func (p *Pipeline) RebalanceTick(ctx context.Context, state *models.PortfolioState, now time.Time) (rep Report, err error) {
	span, ctx := tracing.StartSpan(ctx, "tick.rebalance")
	defer func() { tracing.Finish(span, err) }()

	if p.stepFastStart(ctx, state, now) == faststart.Blocked {
		rep.Blocked = true
		rep.SkipReason = "fast start active"
		return rep, nil
	}

	pairs := p.cfg.Pairs()
	fast, slow, err := p.fetchCandles(ctx, pairs)
	if err != nil {
		return rep, err
	}

	var feats map[string]models.FeatureVector
	p.stage(ctx, "features", func() {
		feats = features.ComputeFeatures(fast, slow, p.cfg)
	})
	p.stage(ctx, "regime", func() {
		rep.Regime = regime.ComputeMarketRegime(slow[p.cfg.Universe.Reference])
	})
	p.metrics.SetRegime(string(rep.Regime.Regime), string(models.RegimeTrend), string(models.RegimeChop), string(models.RegimeDown))

	var sigs map[string]models.Signal
	p.stage(ctx, "signals", func() {
		sigs = signals.ScoreSignals(p.predictor, feats, rep.Regime, signals.Costs{
			FeeRate:          p.cfg.FeeRate(),
			SlippageEstimate: p.cfg.Signals.SlippageEstimate,
		})
	})
	rep.Signals = len(sigs)

	var target models.TargetWeights
	p.stage(ctx, "weights", func() {
		target = portfolio.BuildTargetWeights(sigs, rep.Regime, state, p.cfg)
	})

	hold := false
	if len(target) == 0 {
		switch p.cfg.Signals.EmptyPolicy {
		case config.EmptyPolicyFlatten:
			for pair := range state.Positions {
				if !p.protectedByFastStart(state, pair) {
					target[pair] = 0
				}
			}
			rep.SkipReason = "no candidates, flattening"
		default:
			hold = true
			rep.SkipReason = "no candidates, holding"
		}
		logger.Info("scheduler: %s", rep.SkipReason)
	}

	snaps := p.snapshots(ctx, union(pairs, heldPairs(state)))
	portfolio.MarkToMarket(state, snaps)

	// scale on equity marked at this tick's prices
	rep.Scalar = risk.CheckDrawdownAndScale(state, p.cfg)
	target = portfolio.ScaleWeights(target, rep.Scalar)
	p.onScalar(state, rep.Scalar)
	rep.Target = target

	if !hold {
		p.stage(ctx, "rebalance", func() {
			rep.Orders = p.exec.RebalanceToWeights(ctx, target, state, snaps)
		})
	}
	state.LastRebalanceTs = now.UnixMilli()

	p.persist(ctx, state)
	p.publish(state)
	rep.Equity, rep.Drawdown = state.Equity, risk.Drawdown(state)
	logger.Info("scheduler: rebalance done regime=%s/%s signals=%d targets=%d scalar=%.2f orders=%d equity=%.2f",
		rep.Regime.Regime, rep.Regime.VolRegime, rep.Signals, len(target), rep.Scalar, len(rep.Orders), state.Equity)
	return rep, nil
}

// StopTick marks to market, trails stops and liquidates flagged positions.
// The fast-start seed position is managed by its controller, not by stops.
func (p *Pipeline) StopTick(ctx context.Context, state *models.PortfolioState, now time.Time) (rep Report, err error) {
	span, ctx := tracing.StartSpan(ctx, "tick.stops")
	defer func() { tracing.Finish(span, err) }()

	if faststart.Active(state) {
		p.stepFastStart(ctx, state, now)
	}

	held := heldPairs(state)
	snaps := p.snapshots(ctx, held)
	portfolio.MarkToMarket(state, snaps)

	guarded := make([]string, 0, len(held))
	for _, pair := range held {
		if !p.protectedByFastStart(state, pair) {
			guarded = append(guarded, pair)
		}
	}

	if len(guarded) > 0 {
		slow := make(map[string][]models.Candle, len(guarded))
		for i, pair := range guarded {
			if i > 0 {
				if err := p.pause(ctx, p.rateLimit()); err != nil {
					return rep, err
				}
			}
			cs, err := p.gw.GetCandles(ctx, pair, p.cfg.Features.SlowInterval, features.MinSlowCandles+2)
			if err != nil {
				logger.Warn("scheduler: atr candles %s: %v", pair, err)
				continue
			}
			slow[pair] = cs
		}
		atr := features.ComputeATR(slow)
		risk.UpdateStops(state, atr, snaps, p.cfg)

		for _, h := range risk.CheckStopLosses(state, snaps, p.cfg) {
			if p.protectedByFastStart(state, h.Pair) {
				continue
			}
			rep.StopHits = append(rep.StopHits, h)
		}
		if len(rep.StopHits) > 0 {
			rep.Orders = p.exec.ExecuteStops(ctx, rep.StopHits, state, snaps)
			for _, h := range rep.StopHits {
				p.metrics.IncStopExit(h.Reason)
				p.notifier.Sendf("%s exit %s: %.8f @ %.6f", h.Reason, h.Pair, h.Quantity, h.Price)
			}
		}
	}

	p.onScalar(state, risk.CheckDrawdownAndScale(state, p.cfg))
	p.persist(ctx, state)
	p.publish(state)
	p.curve.Append(state.Equity)
	p.metrics.SetPerformance(metrics.ComputeIntradayMetrics(p.curve.Values()))

	rep.Equity, rep.Drawdown = state.Equity, risk.Drawdown(state)
	logger.Info("scheduler: stop check equity=%.2f peak=%.2f dd=%.2f%% hits=%d",
		state.Equity, state.PeakEquity, rep.Drawdown*100, len(rep.StopHits))
	return rep, nil
}

func (p *Pipeline) stepFastStart(ctx context.Context, state *models.PortfolioState, now time.Time) faststart.Outcome {
	wasActive, wasDone := state.FastStartActive, state.FastStartCompleted
	out, changed, err := p.fastStart.Step(ctx, state, p.gw, now)
	if err != nil {
		logger.Warn("scheduler: fast start: %v", err)
	}
	if changed {
		p.persist(ctx, state)
	}
	switch {
	case !wasActive && state.FastStartActive:
		p.notifier.Sendf("fast start: entered %s, target %.6f", p.cfg.FastStart.Pair, deref(state.FastStartTargetPrice))
	case !wasDone && state.FastStartCompleted:
		p.notifier.Sendf("fast start: completed, equity %.2f", state.Equity)
	}
	return out
}

func (p *Pipeline) protectedByFastStart(state *models.PortfolioState, pair string) bool {
	return faststart.Active(state) && pair == p.cfg.FastStart.Pair
}

// fetchCandles loads fast and slow series per pair, pausing between pairs for
// the exchange rate limit. Failing pairs are skipped.
func (p *Pipeline) fetchCandles(ctx context.Context, pairs []string) (map[string][]models.Candle, map[string][]models.Candle, error) {
	span, ctx := tracing.StartSpan(ctx, "candles")
	defer span.Finish()
	start := time.Now()
	defer func() { p.metrics.ObserveStage("candles", time.Since(start).Seconds()) }()

	ref := p.cfg.Universe.Reference
	fetch := pairs
	if !contains(pairs, ref) {
		fetch = append(append([]string(nil), pairs...), ref)
	}

	fast := make(map[string][]models.Candle, len(fetch))
	slow := make(map[string][]models.Candle, len(fetch))
	for i, pair := range fetch {
		if i > 0 {
			if err := p.pause(ctx, p.rateLimit()); err != nil {
				return nil, nil, err
			}
		}
		cs, err := p.gw.GetCandles(ctx, pair, p.cfg.Features.SlowInterval, p.cfg.Features.SlowLimit)
		if err != nil {
			logger.Warn("scheduler: %s candles %s: %v", p.cfg.Features.SlowInterval, pair, err)
			continue
		}
		slow[pair] = cs
		if pair == ref && !contains(pairs, ref) {
			continue
		}
		cs, err = p.gw.GetCandles(ctx, pair, p.cfg.Features.FastInterval, p.cfg.Features.FastLimit)
		if err != nil {
			logger.Warn("scheduler: %s candles %s: %v", p.cfg.Features.FastInterval, pair, err)
			continue
		}
		fast[pair] = cs
	}
	if len(slow) == 0 {
		return nil, nil, errors.Wrapf(ErrNoMarketData, "%d pairs", len(fetch))
	}
	return fast, slow, nil
}

func (p *Pipeline) snapshots(ctx context.Context, pairs []string) map[string]models.MarketSnapshot {
	snaps, errs := exchange.Snapshots(ctx, p.gw, pairs)
	for _, err := range errs {
		logger.Warn("scheduler: %v", err)
	}
	return snaps
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func()) {
	span, _ := tracing.StartSpan(ctx, name)
	start := time.Now()
	fn()
	p.metrics.ObserveStage(name, time.Since(start).Seconds())
	span.Finish()
}

func (p *Pipeline) onScalar(state *models.PortfolioState, scalar float64) {
	p.metrics.SetExposureScalar(scalar)
	if scalar < p.lastScalar {
		p.notifier.Sendf("drawdown %.2f%%: exposure scaled to %.2f", risk.Drawdown(state)*100, scalar)
	}
	p.lastScalar = scalar
}

func (p *Pipeline) persist(ctx context.Context, state *models.PortfolioState) {
	if err := p.store.Save(ctx, state); err != nil {
		logger.Error("scheduler: persist state: %v", err)
	}
}

func (p *Pipeline) publish(state *models.PortfolioState) {
	var gross float64
	for _, pos := range state.Positions {
		gross += pos.USDValue
	}
	exposure := 0.0
	if state.Equity > 0 {
		exposure = gross / state.Equity
	}
	p.metrics.SetPortfolio(state.Equity, state.CashUSD, risk.Drawdown(state), exposure, len(state.Positions))
}

func (p *Pipeline) rateLimit() time.Duration {
	return time.Duration(p.cfg.Exchange.RateLimitMs) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func heldPairs(state *models.PortfolioState) []string {
	out := make([]string, 0, len(state.Positions))
	for pair := range state.Positions {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, s := range b {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
