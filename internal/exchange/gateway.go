package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"portfolio_bot/internal/models"
)

var (
	ErrNoSnapshot    = errors.New("no snapshot")
	ErrOrderRejected = errors.New("order rejected")
)

// MarketData is the read-only half of a gateway.
type MarketData interface {
	GetCandles(ctx context.Context, pair, interval string, limit int) ([]models.Candle, error)
	GetSnapshot(ctx context.Context, pair string) (models.MarketSnapshot, error)
}

// Gateway is everything the bot needs from an exchange.
type Gateway interface {
	MarketData
	PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error)
	GetPairFilters(ctx context.Context, pair string) (models.PairFilters, error)
	GetBalances(ctx context.Context) (map[string]Balance, error)
}

// Balance of one coin. USD is the quote currency.
type Balance struct {
	Free float64 `json:"Free"`
	Lock float64 `json:"Lock"`
}

func (b Balance) Total() float64 { return b.Free + b.Lock }

// QuoteSource serves streamed best bid/ask, typically fresher than REST.
type QuoteSource interface {
	Quote(pair string, maxAge time.Duration) (models.MarketSnapshot, bool)
}

// Snapshots fetches a snapshot per pair, skipping pairs that fail.
func Snapshots(ctx context.Context, md MarketData, pairs []string) (map[string]models.MarketSnapshot, []error) {
	out := make(map[string]models.MarketSnapshot, len(pairs))
	var errs []error
	for _, p := range pairs {
		s, err := md.GetSnapshot(ctx, p)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "snapshot %s", p))
			continue
		}
		out[p] = s
	}
	return out, errs
}
