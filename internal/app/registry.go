package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

// PairCollision is a zone pair claimed by more than one non-terminal pallet.
// New writes cannot create one; they can only come from legacy data.
type PairCollision struct {
	Pair      domain.ZonePair `json:"pair"`
	PalletIDs []string        `json:"pallet_ids"`
}

// Registry maps zone pairs to their active pallet.
type Registry struct {
	repo         Repository
	ser          serializer
	assigner     *Assigner
	clock        clock.Clock
	log          logrus.FieldLogger
	defaultRules rules.RuleSet
}

type RegistryOption func(*Registry)

// WithDefaultRules sets the rules given to pallets registered without any.
func WithDefaultRules(rs rules.RuleSet) RegistryOption {
	return func(r *Registry) {
		r.defaultRules = rs
	}
}

func NewRegistry(repo Repository, locks *PairLocks, assigner *Assigner, clk clock.Clock, log logrus.FieldLogger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Registry{
		repo:     repo,
		ser:      serializer{locks: locks, repo: repo},
		assigner: assigner,
		clock:    clk,
		log:      log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the active pallet for pair, or nil.
func (r *Registry) Lookup(ctx context.Context, pair domain.ZonePair) (*domain.Pallet, error) {
	if !pair.Complete() {
		return nil, nil
	}
	return r.repo.ActivePalletForPair(ctx, pair)
}

type CreatePalletInput struct {
	Name            string
	PickupZoneID    string
	DeliveryZoneID  string
	BottleCapacity  int
	CostCents       int64
	CompletionRules *rules.RuleSet
}

// Register creates a pallet for a zone pair and assigns the reservations
// waiting on that pair. It fails with *domain.ZonePairConflictError when the
// pair already has a non-terminal pallet.
func (r *Registry) Register(ctx context.Context, in CreatePalletInput) (domain.Pallet, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Pallet{}, domain.ErrPalletNameRequired
	}
	if in.BottleCapacity <= 0 {
		return domain.Pallet{}, domain.ErrInvalidCapacity
	}
	if in.CostCents < 0 {
		return domain.Pallet{}, domain.ErrInvalidQuantity
	}
	rs := r.defaultRules
	if in.CompletionRules != nil {
		rs = *in.CompletionRules
	}
	if err := rs.Validate(); err != nil {
		return domain.Pallet{}, err
	}

	pair := domain.ZonePair{PickupZoneID: in.PickupZoneID, DeliveryZoneID: in.DeliveryZoneID}
	if err := r.checkZones(ctx, pair); err != nil {
		return domain.Pallet{}, err
	}

	now := r.clock.Now()
	pallet := domain.Pallet{
		ID:              newUUID(),
		Name:            name,
		PickupZoneID:    pair.PickupZoneID,
		DeliveryZoneID:  pair.DeliveryZoneID,
		BottleCapacity:  in.BottleCapacity,
		CostCents:       in.CostCents,
		Status:          domain.PalletStatusOpen,
		CompletionRules: rs.Normalized(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var assigned []Assignment
	err := r.ser.withPairs(ctx, []domain.ZonePair{pair}, func(txCtx context.Context) error {
		if err := r.claim(txCtx, pair, ""); err != nil {
			return err
		}
		if err := r.repo.CreatePallet(txCtx, pallet); err != nil {
			if errors.Is(err, domain.ErrZonePairConflict) {
				return &domain.ZonePairConflictError{Pair: pair}
			}
			return err
		}
		var err error
		assigned, err = r.assignPair(txCtx, pair)
		return err
	})
	if err != nil {
		return domain.Pallet{}, err
	}

	r.log.WithFields(logrus.Fields{
		"pallet_id": pallet.ID,
		"pair":      pair.Key(),
		"assigned":  countChanged(assigned),
	}).Info("pallet registered")
	return pallet, nil
}

// Rezone moves an OPEN pallet to another zone pair. Reservations of both pairs
// are reassigned in the same transaction.
func (r *Registry) Rezone(ctx context.Context, palletID string, pair domain.ZonePair) (domain.Pallet, error) {
	if err := r.checkZones(ctx, pair); err != nil {
		return domain.Pallet{}, err
	}
	current, err := r.repo.GetPallet(ctx, palletID)
	if err != nil {
		return domain.Pallet{}, err
	}

	var result domain.Pallet
	err = r.ser.withPairs(ctx, []domain.ZonePair{current.Pair(), pair}, func(txCtx context.Context) error {
		p, err := r.repo.GetPalletForUpdate(txCtx, palletID)
		if err != nil {
			return err
		}
		if p.Pair() != current.Pair() {
			return fmt.Errorf("rezone pallet %s: zone pair changed concurrently", palletID)
		}
		if p.Status.Terminal() {
			return domain.ErrPalletConfirmed
		}
		// A completed pallet is billing its reservations on the current pair.
		if p.Status != domain.PalletStatusOpen || p.IsComplete {
			return domain.ErrPalletNotOpen
		}
		if p.Pair() == pair {
			result = p
			return nil
		}
		if err := r.claim(txCtx, pair, p.ID); err != nil {
			return err
		}

		old := p.Pair()
		p.PickupZoneID = pair.PickupZoneID
		p.DeliveryZoneID = pair.DeliveryZoneID
		p.UpdatedAt = r.clock.Now()
		if err := r.repo.UpdatePallet(txCtx, p); err != nil {
			if errors.Is(err, domain.ErrZonePairConflict) {
				return &domain.ZonePairConflictError{Pair: pair}
			}
			return err
		}
		if _, err := r.assignPair(txCtx, old); err != nil {
			return err
		}
		if _, err := r.assignPair(txCtx, pair); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return domain.Pallet{}, err
	}

	r.log.WithFields(logrus.Fields{
		"pallet_id": palletID,
		"from":      current.Pair().Key(),
		"to":        pair.Key(),
	}).Info("pallet rezoned")
	return result, nil
}

// Collisions reports pairs with more than one non-terminal pallet. They are
// never merged automatically.
func (r *Registry) Collisions(ctx context.Context) ([]PairCollision, error) {
	return r.repo.PairCollisions(ctx)
}

// DerivePickupZone returns the single pickup zone shared by the producers of
// every wine. Producers in different zones yield *domain.MixedPickupZoneError.
func (r *Registry) DerivePickupZone(ctx context.Context, wineIDs []string) (string, error) {
	if len(wineIDs) == 0 {
		return "", domain.ErrItemsRequired
	}
	producers, err := r.repo.ProducersForWines(ctx, wineIDs)
	if err != nil {
		return "", err
	}

	zones := make(map[string]struct{})
	for _, wineID := range wineIDs {
		p, ok := producers[wineID]
		if !ok {
			return "", fmt.Errorf("wine %s: %w", wineID, domain.ErrWineNotFound)
		}
		if p.PickupZoneID == "" {
			return "", fmt.Errorf("producer %s: %w", p.ID, domain.ErrProducerPickupZoneMissing)
		}
		zones[p.PickupZoneID] = struct{}{}
	}
	if len(zones) > 1 {
		ids := make([]string, 0, len(zones))
		for id := range zones {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return "", &domain.MixedPickupZoneError{ZoneIDs: ids}
	}
	for id := range zones {
		return id, nil
	}
	return "", domain.ErrProducerPickupZoneMissing
}

func (r *Registry) checkZones(ctx context.Context, pair domain.ZonePair) error {
	if !pair.Complete() {
		return domain.ErrInvalidZone
	}
	for _, side := range []struct {
		id  string
		typ domain.ZoneType
	}{
		{pair.PickupZoneID, domain.ZoneTypePickup},
		{pair.DeliveryZoneID, domain.ZoneTypeDelivery},
	} {
		z, err := r.repo.GetZone(ctx, side.id)
		if err != nil {
			return err
		}
		if z.Type != side.typ {
			return fmt.Errorf("zone %s is %s, want %s: %w", z.ID, z.Type, side.typ, domain.ErrZoneTypeMismatch)
		}
	}
	return nil
}

// claim fails when pair already has a non-terminal pallet other than self.
func (r *Registry) claim(ctx context.Context, pair domain.ZonePair, self string) error {
	existing, err := r.repo.ActivePalletForPair(ctx, pair)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return &domain.ZonePairConflictError{Pair: pair, ExistingPalletID: existing.ID}
	}
	return nil
}

func (r *Registry) assignPair(ctx context.Context, pair domain.ZonePair) ([]Assignment, error) {
	reservations, err := r.repo.ListReservationsByPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	out := make([]Assignment, 0, len(reservations))
	for _, res := range reservations {
		a, err := r.assigner.Assign(ctx, res)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func countChanged(as []Assignment) int {
	n := 0
	for _, a := range as {
		if a.Changed {
			n++
		}
	}
	return n
}
