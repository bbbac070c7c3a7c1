package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type ZoneRepository struct {
	db
}

func NewZoneRepository(pool *pgxpool.Pool) *ZoneRepository {
	return &ZoneRepository{db{pool: pool}}
}

const zoneColumns = `id, name, zone_type, center_lat, center_lon, radius_km, country_code, created_at`

func scanZone(row pgx.Row) (domain.Zone, error) {
	var z domain.Zone
	err := row.Scan(&z.ID, &z.Name, &z.Type, &z.CenterLat, &z.CenterLon, &z.RadiusKm, &z.CountryCode, &z.CreatedAt)
	return z, err
}

func (r *ZoneRepository) CreateZone(ctx context.Context, zone domain.Zone) error {
	const stmt = `
INSERT INTO zones (id, name, zone_type, center_lat, center_lon, radius_km, country_code, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.exec(ctx, stmt, zone.ID, zone.Name, zone.Type, zone.CenterLat, zone.CenterLon, zone.RadiusKm, zone.CountryCode, zone.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create zone: %w", err)
	}
	return nil
}

func (r *ZoneRepository) GetZone(ctx context.Context, id string) (domain.Zone, error) {
	z, err := scanZone(r.queryRow(ctx, `SELECT `+zoneColumns+` FROM zones WHERE id = $1`, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Zone{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Zone{}, domain.ErrZoneNotFound
		}
		return domain.Zone{}, fmt.Errorf("get zone: %w", err)
	}
	return z, nil
}

func (r *ZoneRepository) ListZones(ctx context.Context, zoneType domain.ZoneType) ([]domain.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones`
	var args []any
	if zoneType != "" {
		query += ` WHERE zone_type = $1`
		args = append(args, zoneType)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	defer rows.Close()

	zones := []domain.Zone{}
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zone: %w", err)
		}
		zones = append(zones, z)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate zones: %w", rows.Err())
	}
	return zones, nil
}

func (r *ZoneRepository) UpdateZone(ctx context.Context, zone domain.Zone) error {
	const stmt = `
UPDATE zones
SET name = $2, zone_type = $3, center_lat = $4, center_lon = $5, radius_km = $6, country_code = $7
WHERE id = $1`
	tag, err := r.exec(ctx, stmt, zone.ID, zone.Name, zone.Type, zone.CenterLat, zone.CenterLon, zone.RadiusKm, zone.CountryCode)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("update zone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrZoneNotFound
	}
	return nil
}

func (r *ZoneRepository) DeleteZone(ctx context.Context, id string) error {
	tag, err := r.exec(ctx, `DELETE FROM zones WHERE id = $1`, id)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		if isForeignKeyViolation(err) {
			return domain.ErrZoneReferenced
		}
		return fmt.Errorf("delete zone: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrZoneNotFound
	}
	return nil
}

// ZoneReferenced reports whether any pallet, producer or uncancelled
// reservation points at the zone.
func (r *ZoneRepository) ZoneReferenced(ctx context.Context, id string) (bool, error) {
	const query = `
SELECT
	EXISTS (SELECT 1 FROM pallets WHERE pickup_zone_id = $1 OR delivery_zone_id = $1)
	OR EXISTS (SELECT 1 FROM producers WHERE pickup_zone_id = $1)
	OR EXISTS (
		SELECT 1 FROM reservations
		WHERE (pickup_zone_id = $1 OR delivery_zone_id = $1) AND status <> 'cancelled'
	)`
	var referenced bool
	if err := r.queryRow(ctx, query, id).Scan(&referenced); err != nil {
		if isInvalidUUID(err) {
			return false, domain.ErrInvalidID
		}
		return false, fmt.Errorf("check zone references: %w", err)
	}
	return referenced, nil
}
