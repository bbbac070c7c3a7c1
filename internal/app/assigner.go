package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

type AssignmentRepository interface {
	ActivePalletForPair(ctx context.Context, pair domain.ZonePair) (*domain.Pallet, error)
	SetReservationPallet(ctx context.Context, id, palletID string) error
}

// Assignment is the outcome of resolving one reservation's pallet id.
type Assignment struct {
	ReservationID string                 `json:"reservation_id"`
	PalletID      string                 `json:"pallet_id,omitempty"`
	Previous      string                 `json:"previous_pallet_id,omitempty"`
	State         domain.AllocationState `json:"state"`
	Changed       bool                   `json:"changed"`
}

// Assigner keeps a reservation's cached pallet id equal to the active pallet
// of its zone pair. Callers hold the pair lock.
type Assigner struct {
	repo AssignmentRepository
	log  logrus.FieldLogger
}

func NewAssigner(repo AssignmentRepository, log logrus.FieldLogger) *Assigner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Assigner{repo: repo, log: log}
}

// Assign writes the reservation's pallet id only when it differs from the
// registry's answer, so repeated calls with unchanged zone data write nothing.
// Confirmed and cancelled reservations are returned untouched.
func (a *Assigner) Assign(ctx context.Context, r domain.Reservation) (Assignment, error) {
	out := Assignment{
		ReservationID: r.ID,
		PalletID:      r.PalletID,
		Previous:      r.PalletID,
		State:         r.Allocation(),
	}
	if r.Status.Frozen() {
		return out, nil
	}

	target := ""
	if r.Pair().Complete() {
		p, err := a.repo.ActivePalletForPair(ctx, r.Pair())
		if err != nil {
			return Assignment{}, err
		}
		if p != nil {
			target = p.ID
		}
	}

	out.PalletID = target
	out.State = domain.Allocated
	if target == "" {
		out.State = domain.AwaitingPallet
	}
	if target == r.PalletID {
		return out, nil
	}

	if err := a.repo.SetReservationPallet(ctx, r.ID, target); err != nil {
		return Assignment{}, err
	}
	out.Changed = true
	a.log.WithFields(logrus.Fields{
		"reservation_id": r.ID,
		"pair":           r.Pair().Key(),
		"from":           r.PalletID,
		"to":             target,
	}).Info("reservation pallet updated")
	return out, nil
}
