package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
	statesvc "portfolio_bot/internal/modules/state/service"
	"portfolio_bot/internal/signals"
	"portfolio_bot/pkg/metrics"
)

// fakeExchange serves geometric price paths and accepts every order.
type fakeExchange struct {
	mu          sync.Mutex
	start       map[string]float64 // last close
	growth      map[string]float64 // per 5m bar
	prices      map[string]float64 // snapshot override
	orders      []models.OrderRequest
	candleCalls int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		start:  map[string]float64{},
		growth: map[string]float64{},
		prices: map[string]float64{},
	}
}

// path ends at the pair's base price, so every interval agrees on the last close.
func (f *fakeExchange) path(pair string, n int, stride int) []models.Candle {
	out := make([]models.Candle, n)
	base := f.start[pair]
	g := f.growth[pair]
	for i := range out {
		c := base * math.Pow(1+g, -float64((n-1-i)*stride))
		out[i] = models.Candle{
			Ts:    int64(i) * int64(stride) * 300_000,
			Open:  c,
			High:  c * 1.002,
			Low:   c * 0.998,
			Close: c,
		}
	}
	return out
}

func (f *fakeExchange) GetCandles(_ context.Context, pair, interval string, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCalls++
	if _, ok := f.start[pair]; !ok {
		return nil, exchange.ErrNoSnapshot
	}
	stride := 1
	if interval == "30m" {
		stride = 6
	}
	return f.path(pair, limit, stride), nil
}

func (f *fakeExchange) GetSnapshot(_ context.Context, pair string) (models.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, known := f.start[pair]; !known {
		return models.MarketSnapshot{}, exchange.ErrNoSnapshot
	}
	px, ok := f.prices[pair]
	if !ok {
		px = f.start[pair]
	}
	return models.MarketSnapshot{Pair: pair, Price: px, Bid: px * 0.9995, Ask: px * 1.0005}, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req models.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return "o-" + strconv.Itoa(len(f.orders)), nil
}

func (f *fakeExchange) GetPairFilters(context.Context, string) (models.PairFilters, error) {
	return models.DefaultPairFilters(), nil
}

func (f *fakeExchange) GetBalances(context.Context) (map[string]exchange.Balance, error) {
	return map[string]exchange.Balance{"USD": {Free: 10000}}, nil
}

type memStore struct {
	mu    sync.Mutex
	saved *models.PortfolioState
	saves int
}

func (m *memStore) Load(context.Context) (*models.PortfolioState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return nil, statesvc.ErrNotFound
	}
	return m.saved.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st *models.PortfolioState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = st.Clone()
	m.saves++
	return nil
}

type recordingNotifier struct{ msgs []string }

func (r *recordingNotifier) Send(msg string) { r.msgs = append(r.msgs, msg) }
func (r *recordingNotifier) Sendf(format string, args ...any) {
	r.Send(fmt.Sprintf(format, args...))
}

func pipelineConfig() *config.Config {
	cfg := config.Default()
	cfg.Universe.Tier1 = []string{"BTC/USD", "ETH/USD"}
	cfg.Universe.Tier2 = nil
	cfg.Universe.Tier3 = nil
	cfg.Universe.Reference = "BTC/USD"
	cfg.FastStart.Enabled = false
	cfg.Exchange.RateLimitMs = 1
	return cfg
}

func newTestPipeline(cfg *config.Config, gw exchange.Gateway) (*Pipeline, *memStore, *recordingNotifier) {
	store := &memStore{}
	n := &recordingNotifier{}
	p := NewPipeline(cfg, gw, signals.NullPredictor{}, store, n, metrics.New(prometheus.NewRegistry()))
	p.pause = func(context.Context, time.Duration) error { return nil }
	return p, store, n
}

func TestRebalanceTickBuysRisingMarket(t *testing.T) {
	gw := newFakeExchange()
	gw.start["BTC/USD"], gw.growth["BTC/USD"] = 100, 0.001
	gw.start["ETH/USD"], gw.growth["ETH/USD"] = 50, 0.001

	p, store, _ := newTestPipeline(pipelineConfig(), gw)
	state := models.NewPortfolioState(10000)
	now := time.Unix(1_700_000_000, 0)

	rep, err := p.RebalanceTick(context.Background(), state, now)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Blocked || rep.Signals != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Target["BTC/USD"] != 0.35 || rep.Target["ETH/USD"] != 0.35 {
		t.Fatalf("target = %v", rep.Target)
	}
	if len(gw.orders) != 2 {
		t.Fatalf("orders = %+v", gw.orders)
	}
	for _, o := range gw.orders {
		if o.Side != models.SideBuy {
			t.Fatalf("unexpected order %+v", o)
		}
	}
	for _, pair := range []string{"BTC/USD", "ETH/USD"} {
		pos := state.Positions[pair]
		if pos == nil {
			t.Fatalf("no %s position", pair)
		}
		if w := pos.USDValue / state.Equity; math.Abs(w-0.35) > 0.01 {
			t.Fatalf("%s weight = %v", pair, w)
		}
	}
	if state.LastRebalanceTs != now.UnixMilli() {
		t.Fatalf("last rebalance = %d", state.LastRebalanceTs)
	}
	// one save per fill plus the end-of-tick save
	if store.saves != 3 || store.saved.CashUSD != state.CashUSD {
		t.Fatalf("saves = %d", store.saves)
	}
	if math.Abs(state.Equity-(state.CashUSD+state.Positions["BTC/USD"].USDValue+state.Positions["ETH/USD"].USDValue)) > 1e-9 {
		t.Fatal("equity invariant broken")
	}
}

func TestRebalanceTickBlockedByFastStart(t *testing.T) {
	gw := newFakeExchange()
	gw.start["BTC/USD"], gw.growth["BTC/USD"] = 100, 0
	gw.start["ETH/USD"], gw.growth["ETH/USD"] = 50, 0

	cfg := pipelineConfig()
	cfg.FastStart.Enabled = true
	p, store, n := newTestPipeline(cfg, gw)
	state := models.NewPortfolioState(10000)

	rep, err := p.RebalanceTick(context.Background(), state, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Blocked || !state.FastStartActive {
		t.Fatalf("report = %+v state = %+v", rep, state)
	}
	if gw.candleCalls != 0 {
		t.Fatalf("pipeline ran while blocked: %d candle calls", gw.candleCalls)
	}
	if len(gw.orders) != 1 || gw.orders[0].Pair != "BTC/USD" {
		t.Fatalf("orders = %+v", gw.orders)
	}
	if store.saved == nil || !store.saved.FastStartActive {
		t.Fatal("fast start entry not persisted")
	}
	if len(n.msgs) == 0 {
		t.Fatal("no notification sent")
	}

	// still below target on the next tick
	rep, _ = p.RebalanceTick(context.Background(), state, time.Now())
	if !rep.Blocked || len(gw.orders) != 1 {
		t.Fatalf("second tick: %+v orders=%d", rep, len(gw.orders))
	}
}

func TestRebalanceTickEmptyPolicy(t *testing.T) {
	for _, tc := range []struct {
		policy     string
		wantOrders int
	}{
		{config.EmptyPolicyHold, 0},
		{config.EmptyPolicyFlatten, 1},
	} {
		gw := newFakeExchange()
		gw.start["BTC/USD"], gw.growth["BTC/USD"] = 100, -0.001
		gw.start["ETH/USD"], gw.growth["ETH/USD"] = 50, -0.001

		cfg := pipelineConfig()
		cfg.Signals.EmptyPolicy = tc.policy
		cfg.Execution.LiquidateUnselected = false
		p, _, _ := newTestPipeline(cfg, gw)

		state := models.NewPortfolioState(5000)
		state.Positions["ETH/USD"] = &models.Position{Pair: "ETH/USD", Quantity: 200, AvgPrice: 30, USDValue: 6000}
		state.Recompute()

		rep, err := p.RebalanceTick(context.Background(), state, time.Now())
		if err != nil {
			t.Fatalf("%s: %v", tc.policy, err)
		}
		if len(gw.orders) != tc.wantOrders {
			t.Fatalf("%s: orders = %+v (%s)", tc.policy, gw.orders, rep.SkipReason)
		}
		if tc.wantOrders == 1 {
			o := gw.orders[0]
			if o.Pair != "ETH/USD" || o.Side != models.SideSell || o.Qty != 200 {
				t.Fatalf("flatten order = %+v", o)
			}
			if _, held := state.Positions["ETH/USD"]; held {
				t.Fatal("ETH still held after flatten")
			}
		}
	}
}

func TestRebalanceTickFailsWithoutData(t *testing.T) {
	gw := newFakeExchange()
	p, _, _ := newTestPipeline(pipelineConfig(), gw)

	_, err := p.RebalanceTick(context.Background(), models.NewPortfolioState(100), time.Now())
	if errors.Cause(err) != ErrNoMarketData {
		t.Fatalf("err = %v", err)
	}
}

func TestStopTickSkipsFastStartPair(t *testing.T) {
	gw := newFakeExchange()
	gw.start["BTC/USD"], gw.growth["BTC/USD"] = 100, 0
	gw.start["SOL/USD"], gw.growth["SOL/USD"] = 100, 0
	gw.prices["BTC/USD"] = 80
	gw.prices["SOL/USD"] = 90

	cfg := pipelineConfig()
	cfg.FastStart.Enabled = true
	p, store, _ := newTestPipeline(cfg, gw)

	state := models.NewPortfolioState(1000)
	state.Positions["BTC/USD"] = &models.Position{Pair: "BTC/USD", Quantity: 1, AvgPrice: 100, USDValue: 100}
	state.Positions["SOL/USD"] = &models.Position{Pair: "SOL/USD", Quantity: 10, AvgPrice: 100, USDValue: 1000}
	state.FastStartActive = true
	state.FastStartEntryPrice = models.Float(100)
	state.FastStartTargetPrice = models.Float(101.2)
	state.Recompute()

	rep, err := p.StopTick(context.Background(), state, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.StopHits) != 1 || rep.StopHits[0].Pair != "SOL/USD" || rep.StopHits[0].Reason != "max_loss" {
		t.Fatalf("hits = %+v", rep.StopHits)
	}
	if len(gw.orders) != 1 || gw.orders[0].Pair != "SOL/USD" || gw.orders[0].Price != 0 {
		t.Fatalf("orders = %+v", gw.orders)
	}
	if _, ok := state.Positions["SOL/USD"]; ok {
		t.Fatal("SOL not liquidated")
	}
	btc := state.Positions["BTC/USD"]
	if btc == nil || btc.USDValue != 80 {
		t.Fatalf("fast start position = %+v", btc)
	}
	if btc.StopPrice != nil {
		t.Fatal("stops must not be set on the fast start pair while active")
	}
	if !state.FastStartActive {
		t.Fatal("fast start must stay active below target")
	}
	if store.saved == nil {
		t.Fatal("state not persisted")
	}
}

func TestStopTickTrailsStops(t *testing.T) {
	gw := newFakeExchange()
	gw.start["ETH/USD"], gw.growth["ETH/USD"] = 100, 0
	gw.prices["ETH/USD"] = 100

	p, _, _ := newTestPipeline(pipelineConfig(), gw)
	state := models.NewPortfolioState(0)
	state.Positions["ETH/USD"] = &models.Position{Pair: "ETH/USD", Quantity: 1, AvgPrice: 100, USDValue: 100}
	state.Recompute()

	if _, err := p.StopTick(context.Background(), state, time.Now()); err != nil {
		t.Fatal(err)
	}
	pos := state.Positions["ETH/USD"]
	if pos.StopPrice == nil || *pos.StopPrice >= 100 {
		t.Fatalf("initial stop = %v", pos.StopPrice)
	}
	if len(gw.orders) != 0 {
		t.Fatalf("orders = %+v", gw.orders)
	}
}

func TestRebalanceTickScalesOnFreshEquity(t *testing.T) {
	gw := newFakeExchange()
	gw.start["BTC/USD"], gw.growth["BTC/USD"] = 100, -0.001
	gw.start["ETH/USD"], gw.growth["ETH/USD"] = 100, -0.001

	p, _, _ := newTestPipeline(pipelineConfig(), gw)
	// cached value says 30% down, the market has recovered to the peak
	state := models.NewPortfolioState(0)
	state.Positions["ETH/USD"] = &models.Position{Pair: "ETH/USD", Quantity: 100, AvgPrice: 100, USDValue: 7000}
	state.PeakEquity = 10000
	state.Recompute()

	rep, err := p.RebalanceTick(context.Background(), state, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scalar != 1 || state.Equity != 10000 {
		t.Fatalf("scalar = %v equity = %v", rep.Scalar, state.Equity)
	}
}
