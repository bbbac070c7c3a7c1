package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type ZoneRepository interface {
	CreateZone(ctx context.Context, zone domain.Zone) error
	GetZone(ctx context.Context, id string) (domain.Zone, error)
	// ListZones returns every zone when zoneType is empty.
	ListZones(ctx context.Context, zoneType domain.ZoneType) ([]domain.Zone, error)
	UpdateZone(ctx context.Context, zone domain.Zone) error
	DeleteZone(ctx context.Context, id string) error
	ZoneReferenced(ctx context.Context, id string) (bool, error)
}

type PalletFilter struct {
	Status domain.PalletStatus
}

type PalletRepository interface {
	CreatePallet(ctx context.Context, pallet domain.Pallet) error
	GetPallet(ctx context.Context, id string) (domain.Pallet, error)
	GetPalletForUpdate(ctx context.Context, id string) (domain.Pallet, error)
	// ActivePalletForPair returns the oldest non-terminal pallet of the pair,
	// or nil.
	ActivePalletForPair(ctx context.Context, pair domain.ZonePair) (*domain.Pallet, error)
	ListPallets(ctx context.Context, filter PalletFilter) ([]domain.Pallet, error)
	UpdatePallet(ctx context.Context, pallet domain.Pallet) error
	// PairCollisions lists pairs claimed by more than one non-terminal pallet.
	PairCollisions(ctx context.Context) ([]PairCollision, error)
}

// ReservationRepository reads always return reservations with their items.
type ReservationRepository interface {
	// CreateReservation inserts the reservation and its items.
	CreateReservation(ctx context.Context, r domain.Reservation) error
	GetReservation(ctx context.Context, id string) (domain.Reservation, error)
	ListReservationsByPair(ctx context.Context, pair domain.ZonePair) ([]domain.Reservation, error)
	ListReservationsByPallet(ctx context.Context, palletID string) ([]domain.Reservation, error)
	// ListUnfrozenReservations returns every reservation that is neither
	// confirmed nor cancelled.
	ListUnfrozenReservations(ctx context.Context) ([]domain.Reservation, error)
	FindReservationByPaymentHandle(ctx context.Context, handle string) (domain.Reservation, error)
	// SetReservationPallet writes the cached pallet id; empty clears it.
	SetReservationPallet(ctx context.Context, id, palletID string) error
	UpdateReservationStatus(ctx context.Context, id string, status domain.ReservationStatus) error
	SetPaymentState(ctx context.Context, id, handle string, status domain.PaymentStatus) error
}

type CatalogRepository interface {
	// ProducersForWines maps each wine id to its producer. Unknown wines fail
	// with domain.ErrWineNotFound.
	ProducersForWines(ctx context.Context, wineIDs []string) (map[string]domain.Producer, error)
	GetProducers(ctx context.Context, ids []string) (map[string]domain.Producer, error)
}

type TransitionRepository interface {
	RecordTransition(ctx context.Context, t domain.PalletTransition) error
	ListTransitions(ctx context.Context, palletID string) ([]domain.PalletTransition, error)
}

// Repository is the storage the engine runs on. WithTx nests: a call inside a
// transaction reuses it. LockPairs takes transaction-scoped locks so several
// processes sharing a database serialise on the same keys.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockPairs(ctx context.Context, keys []string) error
	ZoneRepository
	PalletRepository
	ReservationRepository
	CatalogRepository
	TransitionRepository
}

// MarginSource supplies the profit contribution of one bottle of a wine when
// quantity bottles are ordered.
type MarginSource interface {
	ProfitPerBottle(ctx context.Context, wineID string, quantity int) (decimal.Decimal, error)
}
