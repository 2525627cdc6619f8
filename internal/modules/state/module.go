package state

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"portfolio_bot/internal/modules/config"
	"portfolio_bot/internal/modules/state/service"
	"portfolio_bot/pkg/db"
	"portfolio_bot/pkg/logger"
)

// Module provides the service.Store selected by state.backend.
func Module() fx.Option {
	return fx.Module("state",
		fx.Provide(NewStore),
	)
}

func NewStore(lc fx.Lifecycle, cfg *config.Config) (service.Store, error) {
	switch cfg.State.Backend {
	case config.StateBackendPostgres:
		return newPgStore(lc, cfg)
	case config.StateBackendRedis:
		return newRedisStore(lc, cfg)
	default:
		logger.Info("state: file store at %s", cfg.State.Path)
		return service.NewFileStore(cfg.State.Path), nil
	}
}

func newPgStore(lc fx.Lifecycle, cfg *config.Config) (service.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Exchange.Timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.State.DSN})
	if err != nil {
		return nil, errors.Wrap(err, "state postgres")
	}
	tx := db.NewPgTxManager(pool)
	store := service.NewPgStore(tx, cfg.State.Key)
	if err := store.Migrate(ctx); err != nil {
		tx.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tx.Close()
			return nil
		},
	})
	logger.Info("state: postgres store, key %s", cfg.State.Key)
	return store, nil
}

func newRedisStore(lc fx.Lifecycle, cfg *config.Config) (service.Store, error) {
	opts, err := service.RedisOptions(cfg.State.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Exchange.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "state redis ping")
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	logger.Info("state: redis store at %s, key %s", opts.Addr, cfg.State.Key)
	return service.NewRedisStore(client, cfg.State.Key), nil
}
