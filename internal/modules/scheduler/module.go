package scheduler

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"portfolio_bot/internal/modules/config"
	"portfolio_bot/internal/modules/scheduler/service"
	"portfolio_bot/internal/notify"
	"portfolio_bot/internal/signals"
	"portfolio_bot/pkg/metrics"
)

// Module wires the decision pipeline and runs it on its cadences.
func Module() fx.Option {
	return fx.Module("scheduler",
		fx.Provide(
			func(cfg *config.Config) signals.Predictor {
				return signals.LoadPredictor(cfg.Signals.ModelDir)
			},
			func() *metrics.Recorder {
				return metrics.New(prometheus.DefaultRegisterer)
			},
			service.NewPipeline,
			service.NewScheduler,
		),
		fx.Invoke(Run),
	)
}

func Run(lc fx.Lifecycle, s *service.Scheduler, n notify.Notifier) {
	if tg, ok := n.(*notify.Telegram); ok {
		tg.SetStatusSource(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := s.Start(startCtx); err != nil {
				return err
			}
			go func() {
				defer close(done)
				s.Run(ctx)
			}()
			n.Send("portfolio bot started")
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
