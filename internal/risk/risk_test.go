package risk

import (
	"math"
	"testing"

	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
)

func stopsConfig() *config.Config {
	cfg := config.Default()
	cfg.Stops.ATRInit = 2
	cfg.Stops.ATRTrail = 2.5
	cfg.Stops.TrailArmATR = 0.8
	cfg.Stops.MaxPosLossPortion = 0.1
	return cfg
}

func snap(pair string, price float64) map[string]models.MarketSnapshot {
	return map[string]models.MarketSnapshot{pair: {Pair: pair, Price: price, Bid: price, Ask: price}}
}

func TestUpdateStopsLifecycle(t *testing.T) {
	cfg := stopsConfig()
	state := models.NewPortfolioState(0)
	pos := &models.Position{Pair: "BTC/USD", Quantity: 1, AvgPrice: 100}
	state.Positions["BTC/USD"] = pos
	atr := map[string]float64{"BTC/USD": 5}

	UpdateStops(state, atr, snap("BTC/USD", 102), cfg)
	if pos.StopPrice == nil || *pos.StopPrice != 90 {
		t.Fatalf("initial stop = %v", pos.StopPrice)
	}
	if pos.TrailAnchor != nil {
		t.Fatal("trail must not arm below avg + 0.8 ATR")
	}

	UpdateStops(state, atr, snap("BTC/USD", 104), cfg)
	if pos.TrailAnchor == nil || *pos.TrailAnchor != 104 {
		t.Fatalf("anchor = %v", pos.TrailAnchor)
	}
	if *pos.StopPrice != 91.5 {
		t.Fatalf("stop after arming = %v", *pos.StopPrice)
	}

	UpdateStops(state, atr, snap("BTC/USD", 120), cfg)
	if *pos.TrailAnchor != 120 || *pos.StopPrice != 107.5 {
		t.Fatalf("after ratchet anchor=%v stop=%v", *pos.TrailAnchor, *pos.StopPrice)
	}

	UpdateStops(state, atr, snap("BTC/USD", 110), cfg)
	if *pos.TrailAnchor != 120 || *pos.StopPrice != 107.5 {
		t.Fatalf("anchor must not fall: anchor=%v stop=%v", *pos.TrailAnchor, *pos.StopPrice)
	}
}

func TestUpdateStopsArmsAtThreshold(t *testing.T) {
	cfg := stopsConfig()
	cfg.Stops.ATRInit = 1.5
	cfg.Stops.ATRTrail = 1.2
	state := models.NewPortfolioState(0)
	pos := &models.Position{Pair: "ETH/USD", Quantity: 1, AvgPrice: 100}
	state.Positions["ETH/USD"] = pos
	atr := map[string]float64{"ETH/USD": 5}

	UpdateStops(state, atr, snap("ETH/USD", 101), cfg)
	if pos.StopPrice == nil || math.Abs(*pos.StopPrice-92.5) > 1e-9 || pos.TrailAnchor != nil {
		t.Fatalf("initial stop = %v anchor = %v", pos.StopPrice, pos.TrailAnchor)
	}

	UpdateStops(state, atr, snap("ETH/USD", 104), cfg)
	if pos.TrailAnchor == nil || *pos.TrailAnchor != 104 {
		t.Fatalf("anchor = %v", pos.TrailAnchor)
	}
	if math.Abs(*pos.StopPrice-98) > 1e-9 {
		t.Fatalf("stop after arming = %v", *pos.StopPrice)
	}
}

func TestUpdateStopsZeroATRAndMissingSnapshot(t *testing.T) {
	cfg := stopsConfig()
	state := models.NewPortfolioState(0)
	state.Positions["ETH/USD"] = &models.Position{Pair: "ETH/USD", Quantity: 1, AvgPrice: 100}
	state.Positions["SOL/USD"] = &models.Position{Pair: "SOL/USD", Quantity: 1, AvgPrice: 50}

	UpdateStops(state, map[string]float64{"SOL/USD": 1}, nil, cfg)
	if state.Positions["ETH/USD"].StopPrice != nil {
		t.Fatal("zero ATR must leave the position untouched")
	}
	sol := state.Positions["SOL/USD"]
	if sol.StopPrice == nil || *sol.StopPrice != 48 || sol.TrailAnchor != nil {
		t.Fatalf("missing snapshot should use avg price: stop=%v anchor=%v", sol.StopPrice, sol.TrailAnchor)
	}
}

func TestCheckStopLosses(t *testing.T) {
	cfg := stopsConfig()
	state := models.NewPortfolioState(0)
	state.Positions["BTC/USD"] = &models.Position{Pair: "BTC/USD", Quantity: 0.5, AvgPrice: 100, StopPrice: models.Float(95)}
	state.Positions["ETH/USD"] = &models.Position{Pair: "ETH/USD", Quantity: 2, AvgPrice: 100}
	state.Positions["SOL/USD"] = &models.Position{Pair: "SOL/USD", Quantity: 3, AvgPrice: 100, StopPrice: models.Float(80)}
	state.Positions["XRP/USD"] = &models.Position{Pair: "XRP/USD", Quantity: 3, AvgPrice: 1, StopPrice: models.Float(2)}

	snaps := map[string]models.MarketSnapshot{
		"BTC/USD": {Price: 95},
		"ETH/USD": {Price: 89},
		"SOL/USD": {Price: 95},
	}
	hits := CheckStopLosses(state, snaps, cfg)
	got := ToSell(hits)
	if len(got) != 2 || got["BTC/USD"] != 0.5 || got["ETH/USD"] != 2 {
		t.Fatalf("to sell = %v", got)
	}
	if hits[0].Reason != ReasonStop || hits[1].Reason != ReasonMaxLoss {
		t.Fatalf("reasons = %+v", hits)
	}
}

func TestCheckDrawdownAndScale(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.SoftDD = 0.1
	cfg.Risk.HardDD = 0.2
	cfg.Risk.ReduceAfterSoft = 0.5
	cfg.Risk.HardScalar = 0.2

	cases := []struct {
		equity, peak, want float64
	}{
		{100, 0, 1},
		{100, 100, 1},
		{91, 100, 1},
		{89, 100, 0.5},
		{80, 100, 0.5},
		{79, 100, 0.2},
	}
	for _, tc := range cases {
		state := &models.PortfolioState{Equity: tc.equity, PeakEquity: tc.peak}
		got := CheckDrawdownAndScale(state, cfg)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Fatalf("equity=%v peak=%v: got %v want %v", tc.equity, tc.peak, got, tc.want)
		}
		if got <= 0 || got > 1 {
			t.Fatalf("scalar out of range: %v", got)
		}
	}
}
