package domain

import "time"

type ReservationStatus string

const (
	ReservationPendingProducerApproval ReservationStatus = "pending_producer_approval"
	ReservationPlaced                  ReservationStatus = "placed"
	ReservationApproved                ReservationStatus = "approved"
	ReservationPendingPayment          ReservationStatus = "pending_payment"
	ReservationConfirmed               ReservationStatus = "confirmed"
	ReservationCancelled               ReservationStatus = "cancelled"
)

// CountsTowardFill reports whether the reservation's bottles are part of its
// pallet's fill.
func (s ReservationStatus) CountsTowardFill() bool {
	switch s {
	case ReservationPendingProducerApproval, ReservationPlaced, ReservationApproved,
		ReservationPendingPayment, ReservationConfirmed:
		return true
	default:
		return false
	}
}

// Billable reports whether completing the pallet moves the reservation to
// pending_payment.
func (s ReservationStatus) Billable() bool {
	return s == ReservationPlaced || s == ReservationApproved
}

// Frozen reservations keep their historical pallet id and are never
// reassigned.
func (s ReservationStatus) Frozen() bool {
	return s == ReservationConfirmed || s == ReservationCancelled
}

type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "none"
	PaymentRequested PaymentStatus = "requested"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// AllocationState tells whether a reservation has a pallet yet.
type AllocationState string

const (
	Allocated      AllocationState = "allocated"
	AwaitingPallet AllocationState = "awaiting_pallet"
)

// Reservation is a customer's order. PalletID is a cache derived from the
// zone pair and may be recomputed at any time.
type Reservation struct {
	ID              string
	UserID          string
	PalletID        string
	PickupZoneID    string
	DeliveryZoneID  string
	Status          ReservationStatus
	TotalCostCents  int64
	PaymentHandle   string
	PaymentStatus   PaymentStatus
	ShippingAddress string
	CountryCode     string
	Items           []ReservationItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r Reservation) Pair() ZonePair {
	return ZonePair{PickupZoneID: r.PickupZoneID, DeliveryZoneID: r.DeliveryZoneID}
}

func (r Reservation) Allocation() AllocationState {
	if r.PalletID == "" {
		return AwaitingPallet
	}
	return Allocated
}

// Bottles is the total quantity across all items.
func (r Reservation) Bottles() int {
	n := 0
	for _, it := range r.Items {
		n += it.Quantity
	}
	return n
}

type ReservationItem struct {
	ReservationID string
	WineID        string
	ProducerID    string
	Quantity      int
	PriceCents    int64
}
