package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type TransitionRepository struct {
	db
}

func NewTransitionRepository(pool *pgxpool.Pool) *TransitionRepository {
	return &TransitionRepository{db{pool: pool}}
}

func (r *TransitionRepository) RecordTransition(ctx context.Context, t domain.PalletTransition) error {
	const stmt = `
INSERT INTO pallet_transitions (id, pallet_id, from_status, to_status, reason, actor, before_state, after_state, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.exec(ctx, stmt, t.ID, t.PalletID, t.From, t.To, t.Reason, t.Actor, []byte(t.Before), []byte(t.After), t.At)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrPalletNotFound
		}
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

func (r *TransitionRepository) ListTransitions(ctx context.Context, palletID string) ([]domain.PalletTransition, error) {
	const query = `
SELECT id, pallet_id, from_status, to_status, reason, actor, before_state, after_state, at
FROM pallet_transitions
WHERE pallet_id = $1
ORDER BY at ASC, id ASC`
	rows, err := r.query(ctx, query, palletID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	out := []domain.PalletTransition{}
	for rows.Next() {
		var (
			t             domain.PalletTransition
			before, after []byte
		)
		if err := rows.Scan(&t.ID, &t.PalletID, &t.From, &t.To, &t.Reason, &t.Actor, &before, &after, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Before = before
		t.After = after
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate transitions: %w", rows.Err())
	}
	return out, nil
}
