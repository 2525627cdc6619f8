package notify

import (
	"context"

	"go.uber.org/fx"

	"portfolio_bot/internal/modules/config"
	"portfolio_bot/internal/notify"
	"portfolio_bot/pkg/logger"
)

// Module provides notify.Notifier: Telegram when a token is configured,
// the service log otherwise.
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(NewNotifier),
	)
}

func NewNotifier(lc fx.Lifecycle, cfg *config.Config) notify.Notifier {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		logger.Info("notify: telegram not configured, notifications go to the log")
		return notify.NewLog()
	}

	t, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		logger.Error("notify: %v, falling back to the log", err)
		return notify.NewLog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			t.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			t.Stop()
			return nil
		},
	})
	return t
}
