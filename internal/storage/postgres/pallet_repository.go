package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

const activePairIndex = "pallets_active_pair_idx"

type PalletRepository struct {
	db
}

func NewPalletRepository(pool *pgxpool.Pool) *PalletRepository {
	return &PalletRepository{db{pool: pool}}
}

const palletColumns = `id, name, pickup_zone_id, delivery_zone_id, bottle_capacity, cost_cents, status,
	is_complete, completed_at, payment_deadline, completion_rules, created_at, updated_at`

func scanPallet(row pgx.Row) (domain.Pallet, error) {
	var (
		p     domain.Pallet
		rules []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.PickupZoneID, &p.DeliveryZoneID, &p.BottleCapacity, &p.CostCents, &p.Status,
		&p.IsComplete, &p.CompletedAt, &p.PaymentDeadline, &rules, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Pallet{}, err
	}
	if err := json.Unmarshal(rules, &p.CompletionRules); err != nil {
		return domain.Pallet{}, fmt.Errorf("decode completion rules of pallet %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *PalletRepository) CreatePallet(ctx context.Context, pallet domain.Pallet) error {
	rules, err := pallet.CompletionRules.Marshal()
	if err != nil {
		return err
	}
	const stmt = `
INSERT INTO pallets (id, name, pickup_zone_id, delivery_zone_id, bottle_capacity, cost_cents, status,
	is_complete, completed_at, payment_deadline, completion_rules, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.exec(ctx, stmt, pallet.ID, pallet.Name, pallet.PickupZoneID, pallet.DeliveryZoneID, pallet.BottleCapacity,
		pallet.CostCents, pallet.Status, pallet.IsComplete, pallet.CompletedAt, pallet.PaymentDeadline, rules,
		pallet.CreatedAt, pallet.UpdatedAt)
	if err != nil {
		return mapPalletWriteError("create pallet", err)
	}
	return nil
}

func (r *PalletRepository) GetPallet(ctx context.Context, id string) (domain.Pallet, error) {
	return r.getPallet(ctx, `SELECT `+palletColumns+` FROM pallets WHERE id = $1`, id)
}

// GetPalletForUpdate row-locks the pallet for the rest of the transaction.
func (r *PalletRepository) GetPalletForUpdate(ctx context.Context, id string) (domain.Pallet, error) {
	return r.getPallet(ctx, `SELECT `+palletColumns+` FROM pallets WHERE id = $1 FOR UPDATE`, id)
}

func (r *PalletRepository) getPallet(ctx context.Context, query, id string) (domain.Pallet, error) {
	p, err := scanPallet(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Pallet{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pallet{}, domain.ErrPalletNotFound
		}
		return domain.Pallet{}, fmt.Errorf("get pallet: %w", err)
	}
	return p, nil
}

func (r *PalletRepository) ActivePalletForPair(ctx context.Context, pair domain.ZonePair) (*domain.Pallet, error) {
	const query = `
SELECT ` + palletColumns + `
FROM pallets
WHERE pickup_zone_id = $1 AND delivery_zone_id = $2 AND status <> 'CONFIRMED'
ORDER BY created_at ASC, id ASC
LIMIT 1`
	p, err := scanPallet(r.queryRow(ctx, query, pair.PickupZoneID, pair.DeliveryZoneID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("active pallet for %s: %w", pair, err)
	}
	return &p, nil
}

func (r *PalletRepository) ListPallets(ctx context.Context, filter app.PalletFilter) ([]domain.Pallet, error) {
	query := `SELECT ` + palletColumns + ` FROM pallets`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pallets: %w", err)
	}
	defer rows.Close()

	pallets := []domain.Pallet{}
	for rows.Next() {
		p, err := scanPallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pallet: %w", err)
		}
		pallets = append(pallets, p)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate pallets: %w", rows.Err())
	}
	return pallets, nil
}

func (r *PalletRepository) UpdatePallet(ctx context.Context, pallet domain.Pallet) error {
	rules, err := pallet.CompletionRules.Marshal()
	if err != nil {
		return err
	}
	const stmt = `
UPDATE pallets
SET name = $2, pickup_zone_id = $3, delivery_zone_id = $4, bottle_capacity = $5, cost_cents = $6, status = $7,
	is_complete = $8, completed_at = $9, payment_deadline = $10, completion_rules = $11, updated_at = $12
WHERE id = $1`
	tag, err := r.exec(ctx, stmt, pallet.ID, pallet.Name, pallet.PickupZoneID, pallet.DeliveryZoneID, pallet.BottleCapacity,
		pallet.CostCents, pallet.Status, pallet.IsComplete, pallet.CompletedAt, pallet.PaymentDeadline, rules, pallet.UpdatedAt)
	if err != nil {
		return mapPalletWriteError("update pallet", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPalletNotFound
	}
	return nil
}

func (r *PalletRepository) PairCollisions(ctx context.Context) ([]app.PairCollision, error) {
	const query = `
SELECT pickup_zone_id, delivery_zone_id, array_agg(id::text ORDER BY id::text)
FROM pallets
WHERE status <> 'CONFIRMED'
GROUP BY pickup_zone_id, delivery_zone_id
HAVING COUNT(*) > 1
ORDER BY pickup_zone_id, delivery_zone_id`
	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pair collisions: %w", err)
	}
	defer rows.Close()

	out := []app.PairCollision{}
	for rows.Next() {
		var c app.PairCollision
		if err := rows.Scan(&c.Pair.PickupZoneID, &c.Pair.DeliveryZoneID, &c.PalletIDs); err != nil {
			return nil, fmt.Errorf("scan collision: %w", err)
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate collisions: %w", rows.Err())
	}
	return out, nil
}

func mapPalletWriteError(op string, err error) error {
	switch {
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	case isUniqueViolation(err) && violatesConstraint(err, activePairIndex):
		return domain.ErrZonePairConflict
	case isForeignKeyViolation(err):
		return domain.ErrZoneNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
