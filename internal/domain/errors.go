package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

var (
	ErrInvalidID                 = errors.New("invalid id")
	ErrInvalidQuantity           = errors.New("invalid quantity")
	ErrInvalidCapacity           = errors.New("invalid capacity")
	ErrInvalidZone               = errors.New("invalid zone")
	ErrZoneNameRequired          = errors.New("zone name required")
	ErrZoneNotFound              = errors.New("zone not found")
	ErrZoneTypeMismatch          = errors.New("zone has the wrong type")
	ErrZoneReferenced            = errors.New("zone is referenced by a pallet or reservation")
	ErrNoZoneMatch               = errors.New("address is not inside any zone")
	ErrAmbiguousZoneMatch        = errors.New("address matches more than one zone")
	ErrGeocodeFailed             = errors.New("geocoding failed")
	ErrPalletNameRequired        = errors.New("pallet name required")
	ErrPalletNotFound            = errors.New("pallet not found")
	ErrPalletConfirmed           = errors.New("pallet is confirmed")
	ErrPalletNotComplete         = errors.New("pallet is not complete")
	ErrPalletNotOpen             = errors.New("pallet is no longer open")
	ErrZonePairConflict          = errors.New("zone pair already has an active pallet")
	ErrReservationNotFound       = errors.New("reservation not found")
	ErrReservationFrozen         = errors.New("reservation can no longer change")
	ErrNotAwaitingApproval       = errors.New("reservation is not awaiting producer approval")
	ErrItemsRequired             = errors.New("reservation has no items")
	ErrWineNotFound              = errors.New("wine not found")
	ErrMixedPickupZone           = errors.New("reservation spans producers with different pickup zones")
	ErrProducerPickupZoneMissing = errors.New("producer has no pickup zone")
	ErrReversalNotConfirmed      = errors.New(`reversal requires confirm="RESET"`)
	ErrPaymentHandleNotFound     = errors.New("payment handle not found")
	ErrInvalidRuleSet            = rules.ErrInvalidRuleSet
)

// ReversalConfirmation is the literal an operator must send to reverse a
// completed pallet.
const ReversalConfirmation = "RESET"

// GeocodeError is a recoverable failure to turn an address into coordinates.
// The caller may retry with a more specific address or pick a zone manually.
type GeocodeError struct {
	Address string
	Err     error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("geocode %q: %v", e.Address, e.Err)
}

func (e *GeocodeError) Unwrap() []error {
	return []error{ErrGeocodeFailed, e.Err}
}

// AmbiguousZoneMatchError lists every zone an address matched. The engine never
// picks one of them; an operator or the customer has to disambiguate.
type AmbiguousZoneMatchError struct {
	ZoneType ZoneType
	ZoneIDs  []string
}

func (e *AmbiguousZoneMatchError) Error() string {
	return fmt.Sprintf("address matches %d %s zones: %s", len(e.ZoneIDs), e.ZoneType, strings.Join(e.ZoneIDs, ", "))
}

func (e *AmbiguousZoneMatchError) Unwrap() error {
	return ErrAmbiguousZoneMatch
}

// MixedPickupZoneError is returned when the wines of one reservation are
// picked up in different zones, so no single pallet can carry the order.
type MixedPickupZoneError struct {
	ZoneIDs []string
}

func (e *MixedPickupZoneError) Error() string {
	return fmt.Sprintf("reservation spans pickup zones %s", strings.Join(e.ZoneIDs, ", "))
}

func (e *MixedPickupZoneError) Unwrap() error {
	return ErrMixedPickupZone
}

// ZonePairConflictError is a data-integrity error: the pair is already claimed
// by another non-terminal pallet.
type ZonePairConflictError struct {
	Pair             ZonePair
	ExistingPalletID string
}

func (e *ZonePairConflictError) Error() string {
	if e.ExistingPalletID == "" {
		return fmt.Sprintf("zone pair %s already has an active pallet", e.Pair)
	}
	return fmt.Sprintf("zone pair %s already has active pallet %s", e.Pair, e.ExistingPalletID)
}

func (e *ZonePairConflictError) Unwrap() error {
	return ErrZonePairConflict
}
