package main

import (
	"context"

	"go.uber.org/fx"

	"portfolio_bot/internal/modules/config"
	"portfolio_bot/internal/modules/exchange"
	"portfolio_bot/internal/modules/health"
	"portfolio_bot/internal/modules/notify"
	"portfolio_bot/internal/modules/scheduler"
	"portfolio_bot/internal/modules/state"
	tickerws "portfolio_bot/internal/modules/ticker_ws"
	"portfolio_bot/pkg/logger"
	"portfolio_bot/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.NopLogger,
		config.Module(),
		fx.Invoke(setupObservability),
		health.Module(),
		tickerws.Module(),
		exchange.Module(),
		state.Module(),
		notify.Module(),
		scheduler.Module(),
	)
	app.Run()
}

// setupObservability runs before any other invoke so every module logs and
// traces through the configured backends.
func setupObservability(lc fx.Lifecycle, cfg *config.Config) error {
	if err := logger.Init(cfg.LogLevel); err != nil {
		return err
	}
	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)

	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}

	logger.Info("starting %s, dry_run=%v, universe=%d pairs", cfg.Service.Name, cfg.Exchange.DryRun, len(cfg.Pairs()))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			logger.Sync()
			return nil
		},
	})
	return nil
}
