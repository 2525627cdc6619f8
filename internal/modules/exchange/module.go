package exchange

import (
	"context"

	"go.uber.org/fx"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/modules/config"
	"portfolio_bot/pkg/logger"
)

// Module provides the exchange.Gateway: a paper wallet in dry-run mode,
// Roostoo trading with Binance candles otherwise.
func Module() fx.Option {
	return fx.Module("exchange",
		fx.Provide(
			NewRoostoo,
			NewBinance,
			NewGateway,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, r *exchange.Roostoo, gw exchange.Gateway) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return loadFilters(ctx, cfg, r, gw)
				},
			})
		}),
	)
}

func NewRoostoo(cfg *config.Config) *exchange.Roostoo {
	return exchange.NewRoostoo(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Timeout)
}

func NewBinance(cfg *config.Config) *exchange.Binance {
	return exchange.NewBinance(cfg.Binance.BaseURL, cfg.Binance.SymbolMap, cfg.Exchange.Timeout)
}

func NewGateway(cfg *config.Config, r *exchange.Roostoo, b *exchange.Binance, quotes exchange.QuoteSource) exchange.Gateway {
	if cfg.Exchange.DryRun {
		logger.Info("exchange: dry run, paper wallet with %.2f USD", cfg.Exchange.PaperCash)
		return exchange.NewPaper(b, quotes, cfg.Exchange.PaperCash, cfg.FeeRate())
	}
	logger.Info("exchange: live trading on %s", cfg.Exchange.BaseURL)
	return exchange.NewLive(b, r, quotes)
}

// loadFilters fetches exchangeInfo once. Live mode cannot trade without it;
// the paper wallet copies it when reachable and keeps defaults otherwise.
func loadFilters(ctx context.Context, cfg *config.Config, r *exchange.Roostoo, gw exchange.Gateway) error {
	err := r.LoadFilters(ctx)
	paper, isPaper := gw.(*exchange.Paper)
	if !isPaper {
		return err
	}
	if err != nil {
		logger.Warn("exchange: exchangeInfo unavailable, paper wallet uses default filters: %v", err)
		return nil
	}
	for _, pair := range cfg.Pairs() {
		if f, ferr := r.GetPairFilters(ctx, pair); ferr == nil {
			paper.SetFilters(pair, f)
		}
	}
	return nil
}
