package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

// fakeStore is an in-memory Repository. Transactions are not isolated; the
// pair locks held by the services provide the serialisation under test.
type fakeStore struct {
	mu           sync.Mutex
	zones        map[string]domain.Zone
	pallets      map[string]domain.Pallet
	reservations map[string]domain.Reservation
	producers    map[string]domain.Producer
	wines        map[string]domain.Wine
	transitions  []domain.PalletTransition

	palletWrites      int
	reservationWrites int
	lockedKeys        [][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		zones:        make(map[string]domain.Zone),
		pallets:      make(map[string]domain.Pallet),
		reservations: make(map[string]domain.Reservation),
		producers:    make(map[string]domain.Producer),
		wines:        make(map[string]domain.Wine),
	}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeStore) LockPairs(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockedKeys = append(f.lockedKeys, append([]string(nil), keys...))
	return nil
}

func (f *fakeStore) CreateZone(_ context.Context, zone domain.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zones[zone.ID] = zone
	return nil
}

func (f *fakeStore) GetZone(_ context.Context, id string) (domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zones[id]
	if !ok {
		return domain.Zone{}, domain.ErrZoneNotFound
	}
	return z, nil
}

func (f *fakeStore) ListZones(_ context.Context, zoneType domain.ZoneType) ([]domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Zone{}
	for _, z := range f.zones {
		if zoneType == "" || z.Type == zoneType {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateZone(_ context.Context, zone domain.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[zone.ID]; !ok {
		return domain.ErrZoneNotFound
	}
	f.zones[zone.ID] = zone
	return nil
}

func (f *fakeStore) DeleteZone(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[id]; !ok {
		return domain.ErrZoneNotFound
	}
	delete(f.zones, id)
	return nil
}

func (f *fakeStore) ZoneReferenced(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pallets {
		if p.PickupZoneID == id || p.DeliveryZoneID == id {
			return true, nil
		}
	}
	for _, r := range f.reservations {
		if r.Status != domain.ReservationCancelled && (r.PickupZoneID == id || r.DeliveryZoneID == id) {
			return true, nil
		}
	}
	for _, p := range f.producers {
		if p.PickupZoneID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreatePallet(_ context.Context, pallet domain.Pallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pallets {
		if !p.Status.Terminal() && p.Pair() == pallet.Pair() {
			return domain.ErrZonePairConflict
		}
	}
	f.pallets[pallet.ID] = pallet
	f.palletWrites++
	return nil
}

// seedPallet inserts without the pair check, the way legacy rows exist.
func (f *fakeStore) seedPallet(p domain.Pallet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pallets[p.ID] = p
}

func (f *fakeStore) GetPallet(_ context.Context, id string) (domain.Pallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pallets[id]
	if !ok {
		return domain.Pallet{}, domain.ErrPalletNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPalletForUpdate(ctx context.Context, id string) (domain.Pallet, error) {
	return f.GetPallet(ctx, id)
}

func (f *fakeStore) ActivePalletForPair(_ context.Context, pair domain.ZonePair) (*domain.Pallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Pallet
	for _, p := range f.pallets {
		if p.Status.Terminal() || p.Pair() != pair {
			continue
		}
		p := p
		if best == nil || p.CreatedAt.Before(best.CreatedAt) || (p.CreatedAt.Equal(best.CreatedAt) && p.ID < best.ID) {
			best = &p
		}
	}
	return best, nil
}

func (f *fakeStore) ListPallets(_ context.Context, filter PalletFilter) ([]domain.Pallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Pallet{}
	for _, p := range f.pallets {
		if filter.Status == "" || p.Status == filter.Status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdatePallet(_ context.Context, pallet domain.Pallet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pallets[pallet.ID]; !ok {
		return domain.ErrPalletNotFound
	}
	for _, p := range f.pallets {
		if p.ID != pallet.ID && !p.Status.Terminal() && !pallet.Status.Terminal() && p.Pair() == pallet.Pair() {
			return domain.ErrZonePairConflict
		}
	}
	f.pallets[pallet.ID] = pallet
	f.palletWrites++
	return nil
}

func (f *fakeStore) PairCollisions(_ context.Context) ([]PairCollision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byPair := make(map[domain.ZonePair][]string)
	for _, p := range f.pallets {
		if !p.Status.Terminal() {
			byPair[p.Pair()] = append(byPair[p.Pair()], p.ID)
		}
	}
	out := []PairCollision{}
	for pair, ids := range byPair {
		if len(ids) > 1 {
			sort.Strings(ids)
			out = append(out, PairCollision{Pair: pair, PalletIDs: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.Key() < out[j].Pair.Key() })
	return out, nil
}

func (f *fakeStore) CreateReservation(_ context.Context, r domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reservations[r.ID] = r
	f.reservationWrites++
	return nil
}

func (f *fakeStore) GetReservation(_ context.Context, id string) (domain.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrReservationNotFound
	}
	return r, nil
}

func (f *fakeStore) listWhere(keep func(domain.Reservation) bool) []domain.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Reservation{}
	for _, r := range f.reservations {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ListReservationsByPair(_ context.Context, pair domain.ZonePair) ([]domain.Reservation, error) {
	return f.listWhere(func(r domain.Reservation) bool { return r.Pair() == pair }), nil
}

func (f *fakeStore) ListReservationsByPallet(_ context.Context, palletID string) ([]domain.Reservation, error) {
	return f.listWhere(func(r domain.Reservation) bool { return r.PalletID == palletID }), nil
}

func (f *fakeStore) ListUnfrozenReservations(_ context.Context) ([]domain.Reservation, error) {
	return f.listWhere(func(r domain.Reservation) bool { return !r.Status.Frozen() }), nil
}

func (f *fakeStore) FindReservationByPaymentHandle(_ context.Context, handle string) (domain.Reservation, error) {
	found := f.listWhere(func(r domain.Reservation) bool { return r.PaymentHandle == handle })
	if len(found) == 0 {
		return domain.Reservation{}, domain.ErrPaymentHandleNotFound
	}
	return found[0], nil
}

func (f *fakeStore) update(id string, fn func(*domain.Reservation)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	fn(&r)
	f.reservations[id] = r
	f.reservationWrites++
	return nil
}

func (f *fakeStore) SetReservationPallet(_ context.Context, id, palletID string) error {
	return f.update(id, func(r *domain.Reservation) { r.PalletID = palletID })
}

func (f *fakeStore) UpdateReservationStatus(_ context.Context, id string, status domain.ReservationStatus) error {
	return f.update(id, func(r *domain.Reservation) { r.Status = status })
}

func (f *fakeStore) SetPaymentState(_ context.Context, id, handle string, status domain.PaymentStatus) error {
	return f.update(id, func(r *domain.Reservation) {
		r.PaymentHandle = handle
		r.PaymentStatus = status
	})
}

func (f *fakeStore) ProducersForWines(_ context.Context, wineIDs []string) (map[string]domain.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Producer, len(wineIDs))
	for _, id := range wineIDs {
		w, ok := f.wines[id]
		if !ok {
			return nil, domain.ErrWineNotFound
		}
		out[id] = f.producers[w.ProducerID]
	}
	return out, nil
}

func (f *fakeStore) GetProducers(_ context.Context, ids []string) (map[string]domain.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Producer, len(ids))
	for _, id := range ids {
		if p, ok := f.producers[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeStore) RecordTransition(_ context.Context, t domain.PalletTransition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeStore) ListTransitions(_ context.Context, palletID string) ([]domain.PalletTransition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.PalletTransition{}
	for _, t := range f.transitions {
		if t.PalletID == palletID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) transitionsTo(status domain.PalletStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.transitions {
		if t.To == status {
			n++
		}
	}
	return n
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.palletWrites + f.reservationWrites
}

func (f *fakeStore) reservation(id string) domain.Reservation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reservations[id]
}

func (f *fakeStore) pallet(id string) domain.Pallet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pallets[id]
}

// fixedMargins returns the same per-bottle profit for every wine.
type fixedMargins map[string]decimal.Decimal

func (m fixedMargins) ProfitPerBottle(_ context.Context, wineID string, _ int) (decimal.Decimal, error) {
	return m[wineID], nil
}

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
