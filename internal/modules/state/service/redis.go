package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"portfolio_bot/internal/models"
)

// RedisStore keeps state as one JSON string value.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// RedisOptions accepts either host:port or a redis:// URL.
func RedisOptions(addr string) (*redis.Options, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

func (s *RedisStore) Load(ctx context.Context) (*models.PortfolioState, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", s.key)
	}
	return decode(b)
}

func (s *RedisStore) Save(ctx context.Context, state *models.PortfolioState) error {
	b, err := encode(state)
	if err != nil {
		return err
	}
	return errors.Wrapf(s.client.Set(ctx, s.key, b, 0).Err(), "redis set %s", s.key)
}
