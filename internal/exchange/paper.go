package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"portfolio_bot/internal/helper"
	"portfolio_bot/internal/models"
)

const quoteCoin = "USD"

// Paper simulates fills at the limit price (or the last price for market
// orders) against a local wallet. Market data comes from the wrapped source.
type Paper struct {
	market      MarketData
	quotes      QuoteSource
	feeRate     float64
	quoteMaxAge time.Duration

	mu      sync.Mutex
	wallet  map[string]float64
	filters map[string]models.PairFilters
	fills   []models.Fill
}

func NewPaper(market MarketData, quotes QuoteSource, cash, feeRate float64) *Paper {
	return &Paper{
		market:      market,
		quotes:      quotes,
		feeRate:     feeRate,
		quoteMaxAge: 30 * time.Second,
		wallet:      map[string]float64{quoteCoin: cash},
		filters:     make(map[string]models.PairFilters),
	}
}

// SetFilters overrides the default filters of a pair.
func (p *Paper) SetFilters(pair string, f models.PairFilters) {
	p.mu.Lock()
	p.filters[pair] = f
	p.mu.Unlock()
}

func (p *Paper) GetCandles(ctx context.Context, pair, interval string, limit int) ([]models.Candle, error) {
	return p.market.GetCandles(ctx, pair, interval, limit)
}

func (p *Paper) GetSnapshot(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	if p.quotes != nil {
		if s, ok := p.quotes.Quote(pair, p.quoteMaxAge); ok {
			return s, nil
		}
	}
	return p.market.GetSnapshot(ctx, pair)
}

func (p *Paper) GetPairFilters(_ context.Context, pair string) (models.PairFilters, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f, ok := p.filters[pair]; ok {
		return f, nil
	}
	return models.DefaultPairFilters(), nil
}

func (p *Paper) GetBalances(_ context.Context) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Balance, len(p.wallet))
	for coin, qty := range p.wallet {
		out[coin] = Balance{Free: qty}
	}
	return out, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if req.Qty <= 0 {
		return "", errors.Wrap(ErrOrderRejected, "non-positive quantity")
	}
	price := req.Price
	if price <= 0 {
		s, err := p.GetSnapshot(ctx, req.Pair)
		if err != nil {
			return "", err
		}
		price = s.Price
	}

	base := helper.BaseAsset(req.Pair)
	notional := req.Qty * price
	fee := notional * p.feeRate

	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Side {
	case models.SideBuy:
		if p.wallet[quoteCoin] < notional+fee {
			return "", errors.Wrapf(ErrOrderRejected, "insufficient %s for %s", quoteCoin, req.Pair)
		}
		p.wallet[quoteCoin] -= notional + fee
		p.wallet[base] += req.Qty
	case models.SideSell:
		if p.wallet[base] < req.Qty-1e-12 {
			return "", errors.Wrapf(ErrOrderRejected, "insufficient %s", base)
		}
		p.wallet[base] -= req.Qty
		p.wallet[quoteCoin] += notional - fee
	default:
		return "", errors.Wrapf(ErrOrderRejected, "unknown side %q", req.Side)
	}

	id := uuid.NewString()
	p.fills = append(p.fills, models.Fill{
		OrderID: id,
		Pair:    req.Pair,
		Side:    req.Side,
		Qty:     req.Qty,
		Price:   price,
		Fee:     fee,
		At:      time.Now(),
	})
	return id, nil
}

// Fills returns a copy of the simulated fill history.
func (p *Paper) Fills() []models.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Fill(nil), p.fills...)
}
