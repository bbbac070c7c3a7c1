package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

// CatalogRepository reads producers, wines and margins. The catalog is owned
// elsewhere; nothing here writes it.
type CatalogRepository struct {
	db
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db{pool: pool}}
}

func (r *CatalogRepository) ProducersForWines(ctx context.Context, wineIDs []string) (map[string]domain.Producer, error) {
	const query = `
SELECT w.id, p.id, p.name, COALESCE(p.pickup_zone_id::text, ''), p.moq_min_bottles
FROM wines w
JOIN producers p ON p.id = w.producer_id
WHERE w.id = ANY($1::uuid[])`
	rows, err := r.query(ctx, query, wineIDs)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrWineNotFound
		}
		return nil, fmt.Errorf("producers for wines: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Producer, len(wineIDs))
	for rows.Next() {
		var (
			wineID string
			p      domain.Producer
		)
		if err := rows.Scan(&wineID, &p.ID, &p.Name, &p.PickupZoneID, &p.MOQMinBottles); err != nil {
			return nil, fmt.Errorf("scan producer: %w", err)
		}
		out[wineID] = p
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate producers: %w", rows.Err())
	}

	for _, id := range wineIDs {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("wine %s: %w", id, domain.ErrWineNotFound)
		}
	}
	return out, nil
}

func (r *CatalogRepository) GetProducers(ctx context.Context, ids []string) (map[string]domain.Producer, error) {
	out := make(map[string]domain.Producer, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const query = `
SELECT id, name, COALESCE(pickup_zone_id::text, ''), moq_min_bottles
FROM producers
WHERE id = ANY($1::uuid[])`
	rows, err := r.query(ctx, query, ids)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("get producers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Producer
		if err := rows.Scan(&p.ID, &p.Name, &p.PickupZoneID, &p.MOQMinBottles); err != nil {
			return nil, fmt.Errorf("scan producer: %w", err)
		}
		out[p.ID] = p
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate producers: %w", rows.Err())
	}
	return out, nil
}

// ProfitPerBottle returns the margin tier for quantity in SEK. Wines without
// a tier contribute no profit.
func (r *CatalogRepository) ProfitPerBottle(ctx context.Context, wineID string, quantity int) (decimal.Decimal, error) {
	const query = `
SELECT profit_per_bottle_ore
FROM wine_margins
WHERE wine_id = $1 AND min_quantity <= GREATEST($2, 1)
ORDER BY min_quantity DESC
LIMIT 1`
	var ore int64
	if err := r.queryRow(ctx, query, wineID, quantity).Scan(&ore); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		if isInvalidUUID(err) {
			return decimal.Zero, domain.ErrInvalidID
		}
		return decimal.Zero, fmt.Errorf("profit per bottle: %w", err)
	}
	return decimal.New(ore, -2), nil
}
