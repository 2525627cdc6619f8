package faststart

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/execution"
	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/modules/config"
	"portfolio_bot/pkg/logger"
)

// Outcome tells the caller whether the regular pipeline may run this tick.
type Outcome int

const (
	Proceed Outcome = iota
	Blocked
)

func (o Outcome) String() string {
	if o == Blocked {
		return "blocked"
	}
	return "proceed"
}

// Controller runs the one-shot seed trade: buy the configured pair with the
// usable cash, then sell it once the take-profit target is reached.
// States: INACTIVE -> ACTIVE -> COMPLETED, or INACTIVE -> COMPLETED when
// the entry cannot be placed.
type Controller struct {
	cfg   *config.Config
	hooks []execution.FillHook

	mu       sync.Mutex
	attempts int
}

func NewController(cfg *config.Config, hooks ...execution.FillHook) *Controller {
	return &Controller{cfg: cfg, hooks: hooks}
}

// Active reports whether state holds an open seed trade.
func Active(state *models.PortfolioState) bool {
	return state.FastStartActive && !state.FastStartCompleted
}

// Step advances the state machine by one tick. changed is true when state
// was mutated and should be persisted.
func (c *Controller) Step(ctx context.Context, state *models.PortfolioState, gw exchange.Gateway, now time.Time) (Outcome, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state.FastStartCompleted || !c.cfg.FastStart.Enabled {
		return Proceed, false, nil
	}
	if state.FastStartActive {
		return c.stepActive(ctx, state, gw, now)
	}
	return c.stepInactive(ctx, state, gw, now)
}

func (c *Controller) stepInactive(ctx context.Context, state *models.PortfolioState, gw exchange.Gateway, now time.Time) (Outcome, bool, error) {
	fs := c.cfg.FastStart
	usable := state.CashUSD - fs.MinCashReserve
	if usable < c.cfg.Exchange.MinOrderUSD {
		logger.Info("faststart: usable cash %.2f below min order, skipping seed trade", usable)
		state.MarkCompleted()
		return Proceed, true, nil
	}

	snap, err := gw.GetSnapshot(ctx, fs.Pair)
	if err != nil {
		return c.entryFailed(state, errors.Wrapf(err, "faststart snapshot %s", fs.Pair))
	}
	filters, err := gw.GetPairFilters(ctx, fs.Pair)
	if err != nil {
		filters = models.DefaultPairFilters()
	}

	feeRate := c.cfg.FeeRate()
	limit := helper.RoundUpToTick(snap.Price*(1+fs.SlippageAllowance), filters.PriceStep)
	if limit <= 0 {
		return c.entryFailed(state, errors.Wrapf(exchange.ErrNoSnapshot, "faststart price %s", fs.Pair))
	}
	qty := helper.FloorToStep(usable/(limit*(1+feeRate)), filters.QtyStep)
	if qty <= 0 || qty*limit < c.cfg.Exchange.MinOrderUSD || (filters.MinQty > 0 && qty < filters.MinQty) ||
		(filters.MinNotional > 0 && qty*limit < filters.MinNotional) {
		logger.Info("faststart: entry size %.8f %s below exchange minimums, skipping", qty, fs.Pair)
		state.MarkCompleted()
		return Proceed, true, nil
	}

	req := models.OrderRequest{Pair: fs.Pair, Side: models.SideBuy, Qty: qty, Price: limit}
	id, err := gw.PlaceOrder(ctx, req)
	if err != nil {
		return c.entryFailed(state, errors.Wrapf(err, "faststart entry %s", fs.Pair))
	}
	c.attempts = 0

	// flags first so the persist hook never sees a seed fill without ACTIVE
	target := limit * (1 + fs.TakeProfitPct + 2*feeRate)
	state.FastStartActive = true
	state.FastStartEntryPrice = models.Float(limit)
	state.FastStartTargetPrice = models.Float(target)
	c.book(ctx, state, models.Fill{OrderID: id, Pair: fs.Pair, Side: models.SideBuy, Qty: qty, Price: limit, At: now})
	logger.Info("faststart: entered %.8f %s @ %.8f, target %.8f", qty, fs.Pair, limit, target)
	return Blocked, true, nil
}

// entryFailed counts a failed entry. Past max_entry_attempts the routine is aborted.
func (c *Controller) entryFailed(state *models.PortfolioState, err error) (Outcome, bool, error) {
	c.attempts++
	if c.attempts >= c.cfg.FastStart.MaxEntryAttempts {
		logger.Warn("faststart: aborted after %d entry attempts: %v", c.attempts, err)
		c.attempts = 0
		state.MarkCompleted()
		return Proceed, true, err
	}
	logger.Warn("faststart: entry attempt %d failed: %v", c.attempts, err)
	return Blocked, false, err
}

func (c *Controller) stepActive(ctx context.Context, state *models.PortfolioState, gw exchange.Gateway, now time.Time) (Outcome, bool, error) {
	pair := c.cfg.FastStart.Pair
	pos := state.Positions[pair]
	if pos == nil || pos.Quantity <= 0 || state.FastStartTargetPrice == nil {
		// position closed elsewhere (stop exit or manual), nothing left to manage
		logger.Warn("faststart: no open %s position, completing", pair)
		state.MarkCompleted()
		return Proceed, true, nil
	}

	snap, err := gw.GetSnapshot(ctx, pair)
	if err != nil {
		return Blocked, false, errors.Wrapf(err, "faststart snapshot %s", pair)
	}
	target := *state.FastStartTargetPrice
	if snap.Price < target {
		logger.Debug("faststart: %s %.8f below target %.8f", pair, snap.Price, target)
		return Blocked, false, nil
	}

	filters, err := gw.GetPairFilters(ctx, pair)
	if err != nil {
		filters = models.DefaultPairFilters()
	}
	qty := helper.FloorToStep(pos.Quantity, filters.QtyStep)
	if qty <= 0 {
		state.MarkCompleted()
		return Proceed, true, nil
	}

	id, err := gw.PlaceOrder(ctx, models.OrderRequest{Pair: pair, Side: models.SideSell, Qty: qty})
	if err != nil {
		logger.Error("faststart: take-profit sell %s failed, retrying next tick: %v", pair, err)
		return Blocked, false, errors.Wrapf(err, "faststart exit %s", pair)
	}

	px := snap.Bid
	if px <= 0 {
		px = snap.Price
	}
	state.MarkCompleted()
	c.book(ctx, state, models.Fill{OrderID: id, Pair: pair, Side: models.SideSell, Qty: qty, Price: px, At: now})
	logger.Info("faststart: took profit on %.8f %s @ %.8f", qty, pair, px)
	return Proceed, true, nil
}

func (c *Controller) book(ctx context.Context, state *models.PortfolioState, f models.Fill) {
	fill, realised := execution.ApplyFill(state, f, c.cfg.FeeRate())
	for _, h := range c.hooks {
		h(ctx, state, fill, realised)
	}
}
