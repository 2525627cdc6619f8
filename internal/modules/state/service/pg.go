package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"portfolio_bot/internal/models"
	"portfolio_bot/pkg/db"
)

const (
	createStateTable = `CREATE TABLE IF NOT EXISTS portfolio_state (
	key        TEXT PRIMARY KEY,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectState = `SELECT body FROM portfolio_state WHERE key = $1`
	upsertState = `INSERT INTO portfolio_state (key, body, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`
)

// PgStore keeps state as a JSONB row keyed by bot name.
type PgStore struct {
	tx  db.TxManager
	key string
}

func NewPgStore(tx db.TxManager, key string) *PgStore {
	return &PgStore{tx: tx, key: key}
}

// Migrate creates the state table if needed.
func (s *PgStore) Migrate(ctx context.Context) error {
	_, err := s.tx.Conn().Exec(ctx, createStateTable)
	return errors.Wrap(err, "migrate portfolio_state")
}

func (s *PgStore) Load(ctx context.Context) (*models.PortfolioState, error) {
	var body []byte
	err := s.tx.RunRepeatableRead(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		return tx.QueryRow(ctxTx, selectState, s.key).Scan(&body)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load state")
	}
	return decode(body)
}

func (s *PgStore) Save(ctx context.Context, state *models.PortfolioState) error {
	body, err := encode(state)
	if err != nil {
		return err
	}
	return s.tx.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, upsertState, s.key, body)
		return err
	})
}
