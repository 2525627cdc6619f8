package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/execution"
	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
	"portfolio_bot/internal/portfolio"
	"portfolio_bot/pkg/logger"
)

const quoteCoin = "USD"

// LoadOrBootstrap returns the persisted state, or a fresh one built from
// exchange balances when nothing is stored or the stored copy is corrupt.
func LoadOrBootstrap(ctx context.Context, store Store, gw exchange.Gateway, pairs []string) (*models.PortfolioState, error) {
	st, err := store.Load(ctx)
	switch {
	case err == nil:
		logger.Info("state: loaded, cash %.2f, %d positions, equity %.2f", st.CashUSD, len(st.Positions), st.Equity)
		return st, nil
	case errors.Is(err, ErrNotFound):
		logger.Info("state: nothing persisted, bootstrapping from exchange")
	case errors.Is(err, ErrStateCorrupt):
		logger.Error("state: %v, bootstrapping from exchange", err)
	default:
		return nil, err
	}

	st, err = Bootstrap(ctx, gw, pairs)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, st); err != nil {
		return nil, errors.Wrap(err, "save bootstrapped state")
	}
	return st, nil
}

// Bootstrap builds a state from wallet balances. Holdings of universe coins
// become positions entered at the current price; other coins are ignored.
func Bootstrap(ctx context.Context, gw exchange.Gateway, pairs []string) (*models.PortfolioState, error) {
	balances, err := gw.GetBalances(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap balances")
	}

	st := models.NewPortfolioState(balances[quoteCoin].Total())
	st.LastRebalanceTs = time.Now().UnixMilli()

	held := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if balances[helper.BaseAsset(pair)].Total() > 0 {
			held = append(held, pair)
		}
	}
	snaps, errs := exchange.Snapshots(ctx, gw, held)
	for _, e := range errs {
		logger.Warn("state: bootstrap %v", e)
	}

	for _, pair := range held {
		snap, ok := snaps[pair]
		if !ok || snap.Price <= 0 {
			continue
		}
		qty := balances[helper.BaseAsset(pair)].Total()
		st.Positions[pair] = &models.Position{
			Pair:     pair,
			Quantity: qty,
			AvgPrice: snap.Price,
			USDValue: qty * snap.Price,
		}
	}
	portfolio.MarkToMarket(st, snaps)
	st.PeakEquity = st.Equity
	logger.Info("state: bootstrapped cash %.2f, %d positions, equity %.2f", st.CashUSD, len(st.Positions), st.Equity)
	return st, nil
}

// PersistHook saves state after every fill.
func PersistHook(store Store) execution.FillHook {
	return func(ctx context.Context, state *models.PortfolioState, fill models.Fill, _ float64) {
		if err := store.Save(ctx, state); err != nil {
			logger.Error("state: persist after fill %s failed: %v", fill.OrderID, err)
		}
	}
}
