package ticker_ws

import (
	"context"

	"go.uber.org/fx"

	"portfolio_bot/internal/exchange"
	"portfolio_bot/internal/modules/config"
	healthsvc "portfolio_bot/internal/modules/health/service"
	"portfolio_bot/internal/modules/ticker_ws/service"
)

// Module streams Binance book tickers into a quote cache.
func Module() fx.Option {
	return fx.Module("ticker_ws",
		fx.Provide(
			service.NewCache,
			func(c *service.Cache) exchange.QuoteSource { return c },
			NewStream,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s *service.Stream) {
			if !cfg.Binance.StreamEnabled {
				return
			}
			ctx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go s.Run(ctx)
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}

func NewStream(cfg *config.Config, cache *service.Cache, health *healthsvc.State) *service.Stream {
	symbols := exchange.NewBinance(cfg.Binance.BaseURL, cfg.Binance.SymbolMap, cfg.Exchange.Timeout)
	return service.NewStream(cfg.Binance.WSURL, cfg.Pairs(), symbols.Symbol, cache, health)
}
