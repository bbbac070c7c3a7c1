package domain

// Producer supplies wines from a single pickup zone. PickupZoneID is empty
// when the producer has not been placed in a zone yet.
type Producer struct {
	ID            string
	Name          string
	PickupZoneID  string
	MOQMinBottles int
}

type Wine struct {
	ID         string
	ProducerID string
	Name       string
}
