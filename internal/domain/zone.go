package domain

import "time"

type ZoneType string

const (
	ZoneTypePickup   ZoneType = "pickup"
	ZoneTypeDelivery ZoneType = "delivery"
)

// Valid reports whether t is one of the known zone types.
func (t ZoneType) Valid() bool {
	return t == ZoneTypePickup || t == ZoneTypeDelivery
}

// Zone is a circular geographic area used for pickup or delivery matching.
type Zone struct {
	ID          string
	Name        string
	Type        ZoneType
	CenterLat   float64
	CenterLon   float64
	RadiusKm    float64
	CountryCode string
	CreatedAt   time.Time
}

// ZonePair identifies the route a pallet serves.
type ZonePair struct {
	PickupZoneID   string
	DeliveryZoneID string
}

// Complete reports whether both sides of the pair are set.
func (p ZonePair) Complete() bool {
	return p.PickupZoneID != "" && p.DeliveryZoneID != ""
}

// Key is the serialisation key for the pair. Operations holding the same key
// are mutually exclusive.
func (p ZonePair) Key() string {
	return p.PickupZoneID + "|" + p.DeliveryZoneID
}

func (p ZonePair) String() string {
	return p.Key()
}
