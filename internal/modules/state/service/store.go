package service

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
)

var (
	// ErrNotFound means nothing was persisted yet.
	ErrNotFound = errors.New("state not found")
	// ErrStateCorrupt means persisted state exists but cannot be trusted.
	ErrStateCorrupt = errors.New("state corrupt")
)

// Store persists the single PortfolioState aggregate.
type Store interface {
	Load(ctx context.Context) (*models.PortfolioState, error)
	Save(ctx context.Context, state *models.PortfolioState) error
}

func encode(state *models.PortfolioState) ([]byte, error) {
	b, err := sonic.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "encode state")
	}
	return b, nil
}

// decode parses and sanity checks a persisted state.
func decode(b []byte) (*models.PortfolioState, error) {
	var st models.PortfolioState
	if err := sonic.Unmarshal(b, &st); err != nil {
		return nil, errors.Wrapf(ErrStateCorrupt, "decode: %v", err)
	}
	if st.Positions == nil {
		st.Positions = make(map[string]*models.Position)
	}
	if err := check(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

func check(st *models.PortfolioState) error {
	for _, v := range []float64{st.CashUSD, st.Equity, st.PeakEquity} {
		if !helper.Finite(v) {
			return errors.Wrap(ErrStateCorrupt, "non-finite balance")
		}
	}
	if st.CashUSD < 0 {
		return errors.Wrapf(ErrStateCorrupt, "negative cash %.2f", st.CashUSD)
	}
	for pair, p := range st.Positions {
		if p == nil || !helper.Finite(p.Quantity) || !helper.Finite(p.AvgPrice) || p.Quantity < 0 {
			return errors.Wrapf(ErrStateCorrupt, "position %s", pair)
		}
		if p.Pair == "" {
			p.Pair = pair
		}
	}
	if st.FastStartActive && st.FastStartCompleted {
		return errors.Wrap(ErrStateCorrupt, "fast start both active and completed")
	}
	return nil
}
