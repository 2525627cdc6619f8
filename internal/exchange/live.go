package exchange

import (
	"context"
	"time"

	"portfolio_bot/internal/models"
)

// Live trades on Roostoo, takes candles from Binance and prefers streamed
// quotes younger than QuoteMaxAge over a REST ticker call.
type Live struct {
	Candles     MarketData
	Roostoo     *Roostoo
	Quotes      QuoteSource
	QuoteMaxAge time.Duration
}

func NewLive(candles MarketData, roostoo *Roostoo, quotes QuoteSource) *Live {
	return &Live{Candles: candles, Roostoo: roostoo, Quotes: quotes, QuoteMaxAge: 30 * time.Second}
}

func (l *Live) GetCandles(ctx context.Context, pair, interval string, limit int) ([]models.Candle, error) {
	return l.Candles.GetCandles(ctx, pair, interval, limit)
}

func (l *Live) GetSnapshot(ctx context.Context, pair string) (models.MarketSnapshot, error) {
	if l.Quotes != nil {
		if s, ok := l.Quotes.Quote(pair, l.QuoteMaxAge); ok {
			return s, nil
		}
	}
	return l.Roostoo.GetSnapshot(ctx, pair)
}

func (l *Live) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	return l.Roostoo.PlaceOrder(ctx, req)
}

func (l *Live) GetPairFilters(ctx context.Context, pair string) (models.PairFilters, error) {
	return l.Roostoo.GetPairFilters(ctx, pair)
}

func (l *Live) GetBalances(ctx context.Context) (map[string]Balance, error) {
	return l.Roostoo.GetBalances(ctx)
}
