package execution

import (
	"context"
	"math"
	"sort"
	"time"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
	"portfolio_bot/internal/risk"
	"portfolio_bot/pkg/logger"
)

// FillHook runs after every booked fill, e.g. to persist state.
type FillHook func(ctx context.Context, state *models.PortfolioState, fill models.Fill, realised float64)

type Executor struct {
	gw    exchange.Gateway
	cfg   *config.Config
	hooks []FillHook
	now   func() time.Time
}

func NewExecutor(gw exchange.Gateway, cfg *config.Config, hooks ...FillHook) *Executor {
	return &Executor{gw: gw, cfg: cfg, hooks: hooks, now: time.Now}
}

// RebalanceToWeights is a one-shot executor without hooks.
func RebalanceToWeights(ctx context.Context, target models.TargetWeights, state *models.PortfolioState, snapshots map[string]models.MarketSnapshot, gw exchange.Gateway, cfg *config.Config) []string {
	return NewExecutor(gw, cfg).RebalanceToWeights(ctx, target, state, snapshots)
}

type leg struct {
	pair    string
	side    models.Side
	qty     float64
	price   float64
	filters models.PairFilters
}

// RebalanceToWeights moves holdings toward target. Sells go first so freed
// cash funds buys. A failing leg is logged and skipped.
func (e *Executor) RebalanceToWeights(ctx context.Context, target models.TargetWeights, state *models.PortfolioState, snapshots map[string]models.MarketSnapshot) []string {
	equity := state.Equity
	if equity <= 0 {
		logger.Warn("execution: non-positive equity %.2f, skipping rebalance", equity)
		return nil
	}

	pairs := make(map[string]float64, len(target)+len(state.Positions))
	for pair, w := range target {
		pairs[pair] = w
	}
	if e.cfg.Execution.LiquidateUnselected {
		for pair := range state.Positions {
			if _, ok := pairs[pair]; !ok {
				pairs[pair] = 0
			}
		}
	}

	var sells, buys []leg
	for pair, tw := range pairs {
		l, ok := e.planLeg(ctx, pair, tw, equity, state, snapshots)
		if !ok {
			continue
		}
		if l.side == models.SideSell {
			sells = append(sells, l)
		} else {
			buys = append(buys, l)
		}
	}
	sort.Slice(sells, func(i, j int) bool { return sells[i].pair < sells[j].pair })
	sort.Slice(buys, func(i, j int) bool { return buys[i].pair < buys[j].pair })

	var ids []string
	for _, l := range append(sells, buys...) {
		if l.side == models.SideBuy && !e.fitToCash(&l, state) {
			continue
		}
		if id, ok := e.place(ctx, state, l, l.price); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Executor) planLeg(ctx context.Context, pair string, tw, equity float64, state *models.PortfolioState, snapshots map[string]models.MarketSnapshot) (leg, bool) {
	snap, ok := snapshots[pair]
	if !ok || snap.Price <= 0 {
		logger.Warn("execution: no snapshot for %s, leg skipped", pair)
		return leg{}, false
	}

	var curQty float64
	if pos := state.Positions[pair]; pos != nil {
		curQty = pos.Quantity
	}
	curVal := curQty * snap.Price
	curW := curVal / math.Max(equity, 1e-6)
	if math.Abs(tw-curW) < e.cfg.Signals.HysteresisWeightChange {
		return leg{}, false
	}

	delta := tw*equity - curVal
	if math.Abs(delta) < e.cfg.Exchange.MinOrderUSD {
		return leg{}, false
	}

	filters := e.filters(ctx, pair)
	qty := helper.FloorToStep(delta/snap.Price, filters.QtyStep)
	if tw == 0 && delta < 0 {
		qty = -helper.FloorToStep(curQty, filters.QtyStep)
	}
	if qty == 0 {
		return leg{}, false
	}

	l := leg{pair: pair, side: models.SideBuy, qty: qty, filters: filters}
	if qty < 0 {
		l.side = models.SideSell
		l.qty = math.Min(-qty, curQty)
	}
	l.price = LimitPrice(snap, l.side, e.cfg.Execution.SpreadFraction, filters.PriceStep)
	if !meetsMinimums(l.qty, l.price, filters) {
		logger.Debug("execution: %s %s %.8f below exchange minimums", l.side, pair, l.qty)
		return leg{}, false
	}
	return l, true
}

// fitToCash shrinks a buy to what cash covers including fee.
func (e *Executor) fitToCash(l *leg, state *models.PortfolioState) bool {
	feeRate := e.cfg.FeeRate()
	if l.qty*l.price*(1+feeRate) <= state.CashUSD {
		return true
	}
	l.qty = helper.FloorToStep(state.CashUSD/(l.price*(1+feeRate)), l.filters.QtyStep)
	if l.qty <= 0 || !meetsMinimums(l.qty, l.price, l.filters) || l.qty*l.price < e.cfg.Exchange.MinOrderUSD {
		logger.Warn("execution: not enough cash for %s (cash %.2f)", l.pair, state.CashUSD)
		return false
	}
	return true
}

func (e *Executor) filters(ctx context.Context, pair string) models.PairFilters {
	f, err := e.gw.GetPairFilters(ctx, pair)
	if err != nil {
		logger.Warn("execution: filters for %s: %v, using defaults", pair, err)
		return models.DefaultPairFilters()
	}
	return f
}

// place sends the order with orderPrice (0 = market) and books the fill at fillPrice.
func (e *Executor) place(ctx context.Context, state *models.PortfolioState, l leg, fillPrice float64) (string, bool) {
	orderPrice := l.price
	id, err := e.gw.PlaceOrder(ctx, models.OrderRequest{Pair: l.pair, Side: l.side, Qty: l.qty, Price: orderPrice})
	if err != nil {
		logger.Error("execution: %s %.8f %s @ %.8f failed: %v", l.side, l.qty, l.pair, orderPrice, err)
		return "", false
	}

	fill, realised := ApplyFill(state, models.Fill{
		OrderID: id,
		Pair:    l.pair,
		Side:    l.side,
		Qty:     l.qty,
		Price:   fillPrice,
		At:      e.now(),
	}, e.cfg.FeeRate())
	logger.Info("execution: %s %.8f %s @ %.8f id=%s", l.side, l.qty, l.pair, fillPrice, id)

	for _, h := range e.hooks {
		h(ctx, state, fill, realised)
	}
	return id, true
}

// ExecuteStops liquidates flagged positions with market orders booked at the bid.
func (e *Executor) ExecuteStops(ctx context.Context, hits []risk.StopHit, state *models.PortfolioState, snapshots map[string]models.MarketSnapshot) []string {
	var ids []string
	for _, h := range hits {
		snap, ok := snapshots[h.Pair]
		if !ok {
			continue
		}
		pos := state.Positions[h.Pair]
		if pos == nil {
			continue
		}
		filters := e.filters(ctx, h.Pair)
		qty := helper.FloorToStep(math.Min(h.Quantity, pos.Quantity), filters.QtyStep)
		if qty <= 0 {
			continue
		}
		bid := snap.Bid
		if bid <= 0 {
			bid = snap.Price
		}
		l := leg{pair: h.Pair, side: models.SideSell, qty: qty, filters: filters}
		if id, ok := e.place(ctx, state, l, bid); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// LimitPrice quotes inside the spread: buys at min(ask, mid + f*spread),
// sells at max(bid, mid - f*spread), rounded to the passive side.
func LimitPrice(s models.MarketSnapshot, side models.Side, f, priceStep float64) float64 {
	bid, ask := s.Bid, s.Ask
	if bid <= 0 || ask <= 0 || ask < bid {
		bid, ask = s.Price, s.Price
	}
	mid := (bid + ask) / 2
	spread := ask - bid

	if side == models.SideBuy {
		return helper.RoundDownToTick(math.Min(ask, mid+f*spread), priceStep)
	}
	return helper.RoundUpToTick(math.Max(bid, mid-f*spread), priceStep)
}

func meetsMinimums(qty, price float64, f models.PairFilters) bool {
	if qty <= 0 {
		return false
	}
	if f.MinQty > 0 && qty < f.MinQty {
		return false
	}
	if f.MinNotional > 0 && qty*price < f.MinNotional {
		return false
	}
	return true
}
