package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type ReservationRepository struct {
	db
}

func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{db{pool: pool}}
}

const reservationColumns = `id, user_id, COALESCE(pallet_id::text, ''), COALESCE(pickup_zone_id::text, ''),
	COALESCE(delivery_zone_id::text, ''), status, total_cost_cents, COALESCE(payment_handle, ''), payment_status,
	shipping_address, country_code, created_at, updated_at`

func scanReservation(row pgx.Row) (domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.PalletID, &r.PickupZoneID, &r.DeliveryZoneID, &r.Status, &r.TotalCostCents,
		&r.PaymentHandle, &r.PaymentStatus, &r.ShippingAddress, &r.CountryCode, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *ReservationRepository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	const stmt = `
INSERT INTO reservations (id, user_id, pallet_id, pickup_zone_id, delivery_zone_id, status, total_cost_cents,
	payment_handle, payment_status, shipping_address, country_code, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	paymentStatus := res.PaymentStatus
	if paymentStatus == "" {
		paymentStatus = domain.PaymentNone
	}
	_, err := r.exec(ctx, stmt, res.ID, res.UserID, nullable(res.PalletID), nullable(res.PickupZoneID),
		nullable(res.DeliveryZoneID), res.Status, res.TotalCostCents, nullable(res.PaymentHandle), paymentStatus,
		res.ShippingAddress, res.CountryCode, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return mapReservationWriteError("create reservation", err)
	}

	const itemStmt = `
INSERT INTO reservation_items (reservation_id, wine_id, producer_id, quantity, price_cents)
VALUES ($1, $2, $3, $4, $5)`
	for _, it := range res.Items {
		if _, err := r.exec(ctx, itemStmt, res.ID, it.WineID, it.ProducerID, it.Quantity, it.PriceCents); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("item %s: %w", it.WineID, domain.ErrWineNotFound)
			}
			return mapReservationWriteError("create reservation item", err)
		}
	}
	return nil
}

func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (domain.Reservation, error) {
	res, err := scanReservation(r.queryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Reservation{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrReservationNotFound
		}
		return domain.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	withItems, err := r.attachItems(ctx, []domain.Reservation{res})
	if err != nil {
		return domain.Reservation{}, err
	}
	return withItems[0], nil
}

func (r *ReservationRepository) ListReservationsByPair(ctx context.Context, pair domain.ZonePair) ([]domain.Reservation, error) {
	if !pair.Complete() {
		return []domain.Reservation{}, nil
	}
	return r.list(ctx, "list reservations by pair",
		`WHERE pickup_zone_id = $1 AND delivery_zone_id = $2`, pair.PickupZoneID, pair.DeliveryZoneID)
}

func (r *ReservationRepository) ListReservationsByPallet(ctx context.Context, palletID string) ([]domain.Reservation, error) {
	return r.list(ctx, "list reservations by pallet", `WHERE pallet_id = $1`, palletID)
}

func (r *ReservationRepository) ListUnfrozenReservations(ctx context.Context) ([]domain.Reservation, error) {
	return r.list(ctx, "list unfrozen reservations", `WHERE status NOT IN ('confirmed', 'cancelled')`)
}

func (r *ReservationRepository) FindReservationByPaymentHandle(ctx context.Context, handle string) (domain.Reservation, error) {
	res, err := scanReservation(r.queryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE payment_handle = $1`, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Reservation{}, domain.ErrPaymentHandleNotFound
		}
		return domain.Reservation{}, fmt.Errorf("find reservation by payment handle: %w", err)
	}
	withItems, err := r.attachItems(ctx, []domain.Reservation{res})
	if err != nil {
		return domain.Reservation{}, err
	}
	return withItems[0], nil
}

func (r *ReservationRepository) SetReservationPallet(ctx context.Context, id, palletID string) error {
	return r.update(ctx, "set reservation pallet",
		`UPDATE reservations SET pallet_id = $2, updated_at = NOW() WHERE id = $1`, id, nullable(palletID))
}

func (r *ReservationRepository) UpdateReservationStatus(ctx context.Context, id string, status domain.ReservationStatus) error {
	return r.update(ctx, "update reservation status",
		`UPDATE reservations SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (r *ReservationRepository) SetPaymentState(ctx context.Context, id, handle string, status domain.PaymentStatus) error {
	return r.update(ctx, "set payment state",
		`UPDATE reservations SET payment_handle = $2, payment_status = $3, updated_at = NOW() WHERE id = $1`,
		id, nullable(handle), status)
}

func (r *ReservationRepository) update(ctx context.Context, op, stmt string, args ...any) error {
	tag, err := r.exec(ctx, stmt, args...)
	if err != nil {
		return mapReservationWriteError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepository) list(ctx context.Context, op, where string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.query(ctx, `SELECT `+reservationColumns+` FROM reservations `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, res)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}
	return r.attachItems(ctx, out)
}

func (r *ReservationRepository) attachItems(ctx context.Context, rs []domain.Reservation) ([]domain.Reservation, error) {
	if len(rs) == 0 {
		return rs, nil
	}
	ids := make([]string, len(rs))
	index := make(map[string]int, len(rs))
	for i, res := range rs {
		ids[i] = res.ID
		index[res.ID] = i
	}

	const query = `
SELECT reservation_id, wine_id, producer_id, quantity, price_cents
FROM reservation_items
WHERE reservation_id = ANY($1::uuid[])
ORDER BY reservation_id, wine_id`
	rows, err := r.query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list reservation items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it domain.ReservationItem
		if err := rows.Scan(&it.ReservationID, &it.WineID, &it.ProducerID, &it.Quantity, &it.PriceCents); err != nil {
			return nil, fmt.Errorf("scan reservation item: %w", err)
		}
		i := index[it.ReservationID]
		rs[i].Items = append(rs[i].Items, it)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate reservation items: %w", rows.Err())
	}
	return rs, nil
}

func mapReservationWriteError(op string, err error) error {
	switch {
	case isInvalidUUID(err):
		return domain.ErrInvalidID
	case isForeignKeyViolation(err):
		if violatesConstraint(err, "reservations_pallet_id_fkey") {
			return domain.ErrPalletNotFound
		}
		return domain.ErrZoneNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
