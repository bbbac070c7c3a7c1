package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

const (
	DiscrepancyPickupZoneMismatch = "pickup_zone_mismatch"
	DiscrepancyMixedPickupZone    = "mixed_pickup_zone"
	DiscrepancyPickupZoneMissing  = "pickup_zone_missing"
	DiscrepancyWineNotFound       = "wine_not_found"
)

type Correction struct {
	ReservationID string `json:"reservation_id"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
}

// Discrepancy is a mismatch between stored and derived data that
// reconciliation reports but does not fix.
type Discrepancy struct {
	ReservationID string `json:"reservation_id"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail"`
}

type ReconciliationReport struct {
	PalletID      string          `json:"pallet_id,omitempty"`
	Scanned       int             `json:"scanned"`
	Corrections   []Correction    `json:"corrections"`
	Awaiting      []string        `json:"awaiting"`
	Discrepancies []Discrepancy   `json:"discrepancies"`
	Collisions    []PairCollision `json:"collisions"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Reconciler recomputes cached pallet ids from zone data. Only the cache is
// written; everything else it finds is reported.
type Reconciler struct {
	repo     Repository
	ser      serializer
	registry *Registry
	assigner *Assigner
	clock    clock.Clock
	log      logrus.FieldLogger
}

func NewReconciler(repo Repository, locks *PairLocks, registry *Registry, assigner *Assigner, clk clock.Clock, log logrus.FieldLogger) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{
		repo:     repo,
		ser:      serializer{locks: locks, repo: repo},
		registry: registry,
		assigner: assigner,
		clock:    clk,
		log:      log,
	}
}

// Reconcile repairs every unfrozen reservation, or with palletID only those
// on that pallet's pair or caching its id. Each pair is repaired in its own
// transaction under the pair lock, so live checkouts are never raced. A second
// run without intervening writes makes no corrections.
func (r *Reconciler) Reconcile(ctx context.Context, palletID *string) (ReconciliationReport, error) {
	rep := ReconciliationReport{
		Corrections:   []Correction{},
		Awaiting:      []string{},
		Discrepancies: []Discrepancy{},
		StartedAt:     r.clock.Now(),
	}

	candidates, err := r.candidates(ctx, palletID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	if palletID != nil {
		rep.PalletID = *palletID
	}
	rep.Scanned = len(candidates)

	groups := make(map[domain.ZonePair][]domain.Reservation)
	for _, res := range candidates {
		groups[res.Pair()] = append(groups[res.Pair()], res)
	}
	pairs := make([]domain.ZonePair, 0, len(groups))
	for pair := range groups {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key() < pairs[j].Key() })

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return ReconciliationReport{}, err
		}
		corrections, awaiting, err := r.reconcilePair(ctx, pair, groups[pair])
		if err != nil {
			return ReconciliationReport{}, fmt.Errorf("reconcile pair %s: %w", pair, err)
		}
		rep.Corrections = append(rep.Corrections, corrections...)
		rep.Awaiting = append(rep.Awaiting, awaiting...)
	}

	for _, res := range candidates {
		d, err := r.discrepancy(ctx, res)
		if err != nil {
			return ReconciliationReport{}, err
		}
		if d != nil {
			rep.Discrepancies = append(rep.Discrepancies, *d)
		}
	}

	collisions, err := r.registry.Collisions(ctx)
	if err != nil {
		return ReconciliationReport{}, err
	}
	rep.Collisions = collisions
	if rep.Collisions == nil {
		rep.Collisions = []PairCollision{}
	}
	rep.FinishedAt = r.clock.Now()

	fields := logrus.Fields{
		"scanned":       rep.Scanned,
		"corrections":   len(rep.Corrections),
		"awaiting":      len(rep.Awaiting),
		"discrepancies": len(rep.Discrepancies),
		"collisions":    len(rep.Collisions),
	}
	if rep.PalletID != "" {
		fields["pallet_id"] = rep.PalletID
	}
	r.log.WithFields(fields).Info("reconciliation finished")
	return rep, nil
}

func (r *Reconciler) candidates(ctx context.Context, palletID *string) ([]domain.Reservation, error) {
	if palletID == nil {
		return r.repo.ListUnfrozenReservations(ctx)
	}
	p, err := r.repo.GetPallet(ctx, *palletID)
	if err != nil {
		return nil, err
	}
	byPair, err := r.repo.ListReservationsByPair(ctx, p.Pair())
	if err != nil {
		return nil, err
	}
	cached, err := r.repo.ListReservationsByPallet(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	var out []domain.Reservation
	seen := make(map[string]bool)
	for _, res := range append(byPair, cached...) {
		if res.Status.Frozen() || seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// reconcilePair re-reads every reservation under the lock of its own pair and
// of every pallet it currently caches.
func (r *Reconciler) reconcilePair(ctx context.Context, pair domain.ZonePair, group []domain.Reservation) ([]Correction, []string, error) {
	lockPairs := []domain.ZonePair{pair}
	seenPallets := make(map[string]bool)
	for _, res := range group {
		if res.PalletID == "" || seenPallets[res.PalletID] {
			continue
		}
		seenPallets[res.PalletID] = true
		p, err := r.repo.GetPallet(ctx, res.PalletID)
		if errors.Is(err, domain.ErrPalletNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		lockPairs = append(lockPairs, p.Pair())
	}

	var corrections []Correction
	var awaiting []string
	err := r.ser.withPairs(ctx, lockPairs, func(txCtx context.Context) error {
		for _, res := range group {
			cur, err := r.repo.GetReservation(txCtx, res.ID)
			if err != nil {
				return err
			}
			a, err := r.assigner.Assign(txCtx, cur)
			if err != nil {
				return err
			}
			if a.Changed {
				corrections = append(corrections, Correction{ReservationID: a.ReservationID, From: a.Previous, To: a.PalletID})
			}
			if !cur.Status.Frozen() && a.State == domain.AwaitingPallet {
				awaiting = append(awaiting, a.ReservationID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return corrections, awaiting, nil
}

func (r *Reconciler) discrepancy(ctx context.Context, res domain.Reservation) (*Discrepancy, error) {
	if len(res.Items) == 0 {
		return nil, nil
	}
	wineIDs := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		wineIDs = append(wineIDs, it.WineID)
	}

	derived, err := r.registry.DerivePickupZone(ctx, wineIDs)
	var mixed *domain.MixedPickupZoneError
	switch {
	case errors.As(err, &mixed):
		return &Discrepancy{ReservationID: res.ID, Kind: DiscrepancyMixedPickupZone, Detail: mixed.Error()}, nil
	case errors.Is(err, domain.ErrProducerPickupZoneMissing):
		return &Discrepancy{ReservationID: res.ID, Kind: DiscrepancyPickupZoneMissing, Detail: err.Error()}, nil
	case errors.Is(err, domain.ErrWineNotFound):
		return &Discrepancy{ReservationID: res.ID, Kind: DiscrepancyWineNotFound, Detail: err.Error()}, nil
	case err != nil:
		return nil, err
	}
	if derived != res.PickupZoneID {
		return &Discrepancy{
			ReservationID: res.ID,
			Kind:          DiscrepancyPickupZoneMismatch,
			Detail:        fmt.Sprintf("stored pickup zone %q, producers are in %q", res.PickupZoneID, derived),
		}, nil
	}
	return nil, nil
}
