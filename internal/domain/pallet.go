package domain

import (
	"time"

	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

type PalletStatus string

const (
	PalletStatusOpen           PalletStatus = "OPEN"
	PalletStatusCompleting     PalletStatus = "COMPLETING"
	PalletStatusPaymentPending PalletStatus = "PAYMENT_PENDING"
	PalletStatusConfirmed      PalletStatus = "CONFIRMED"
)

// Terminal reports whether the pallet no longer claims its zone pair.
func (s PalletStatus) Terminal() bool {
	return s == PalletStatusConfirmed
}

// Pallet is a bounded shipment serving one pickup/delivery zone pair.
type Pallet struct {
	ID              string
	Name            string
	PickupZoneID    string
	DeliveryZoneID  string
	BottleCapacity  int
	CostCents       int64
	Status          PalletStatus
	IsComplete      bool
	CompletedAt     *time.Time
	PaymentDeadline *time.Time
	CompletionRules rules.RuleSet
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (p Pallet) Pair() ZonePair {
	return ZonePair{PickupZoneID: p.PickupZoneID, DeliveryZoneID: p.DeliveryZoneID}
}
