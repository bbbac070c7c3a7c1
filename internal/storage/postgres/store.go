package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
)

var (
	_ app.Repository   = (*Store)(nil)
	_ app.MarginSource = (*Store)(nil)
)

var errNoTx = errors.New("pair locks need a transaction")

// Store implements app.Repository over one pool.
type Store struct {
	*ZoneRepository
	*PalletRepository
	*ReservationRepository
	*CatalogRepository
	*TransitionRepository

	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		ZoneRepository:        NewZoneRepository(pool),
		PalletRepository:      NewPalletRepository(pool),
		ReservationRepository: NewReservationRepository(pool),
		CatalogRepository:     NewCatalogRepository(pool),
		TransitionRepository:  NewTransitionRepository(pool),
		pool:                  pool,
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

// LockPairs takes a transaction-scoped advisory lock per key, in the order
// given. Other instances locking the same key wait until this transaction
// ends.
func (s *Store) LockPairs(ctx context.Context, keys []string) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return errNoTx
	}
	for _, k := range keys {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			return fmt.Errorf("lock pair %s: %w", k, err)
		}
	}
	return nil
}
