package app

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

type FillRepository interface {
	ActivePalletForPair(ctx context.Context, pair domain.ZonePair) (*domain.Pallet, error)
	ListReservationsByPair(ctx context.Context, pair domain.ZonePair) ([]domain.Reservation, error)
	ListReservationsByPallet(ctx context.Context, palletID string) ([]domain.Reservation, error)
	GetProducers(ctx context.Context, ids []string) (map[string]domain.Producer, error)
}

// Metrics is a pallet's fill. Bottles and ProfitSEK exclude producers below
// their minimum order quantity; PerProducer does not.
type Metrics struct {
	PalletID       string         `json:"pallet_id"`
	Bottles        int            `json:"bottles"`
	ProfitSEK      float64        `json:"profit_sek"`
	PerProducer    map[string]int `json:"per_producer"`
	GatedProducers []string       `json:"gated_producers"`
	Capacity       int            `json:"capacity"`
	FillPercent    float64        `json:"fill_percent"`
	Reservations   int            `json:"reservations"`
}

// Values returns the metrics the completion rules are evaluated against.
func (m Metrics) Values() rules.Values {
	return rules.Values{Bottles: m.Bottles, ProfitSEK: m.ProfitSEK}
}

type FillCalculator struct {
	repo    FillRepository
	margins MarginSource
}

// NewFillCalculator returns a calculator. A nil margin source reports zero
// profit.
func NewFillCalculator(repo FillRepository, margins MarginSource) *FillCalculator {
	return &FillCalculator{repo: repo, margins: margins}
}

// Compute aggregates the reservations that resolve to pallet through its zone
// pair, plus confirmed reservations whose historical pallet id is the pallet.
func (f *FillCalculator) Compute(ctx context.Context, pallet domain.Pallet) (Metrics, error) {
	reservations, err := f.counted(ctx, pallet)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		PalletID:       pallet.ID,
		PerProducer:    make(map[string]int),
		GatedProducers: []string{},
		Capacity:       pallet.BottleCapacity,
		Reservations:   len(reservations),
	}
	for _, r := range reservations {
		for _, it := range r.Items {
			m.PerProducer[it.ProducerID] += it.Quantity
		}
	}

	ids := make([]string, 0, len(m.PerProducer))
	for id := range m.PerProducer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	producers, err := f.repo.GetProducers(ctx, ids)
	if err != nil {
		return Metrics{}, err
	}

	gated := make(map[string]bool)
	for _, id := range ids {
		if m.PerProducer[id] < producers[id].MOQMinBottles {
			gated[id] = true
			m.GatedProducers = append(m.GatedProducers, id)
			continue
		}
		m.Bottles += m.PerProducer[id]
	}

	profit := decimal.Zero
	for _, r := range reservations {
		for _, it := range r.Items {
			if gated[it.ProducerID] || f.margins == nil {
				continue
			}
			perBottle, err := f.margins.ProfitPerBottle(ctx, it.WineID, it.Quantity)
			if err != nil {
				return Metrics{}, err
			}
			profit = profit.Add(perBottle.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	m.ProfitSEK = profit.Round(2).InexactFloat64()

	if pallet.BottleCapacity > 0 {
		m.FillPercent = decimal.NewFromInt(int64(m.Bottles) * 100).
			Div(decimal.NewFromInt(int64(pallet.BottleCapacity))).
			Round(1).InexactFloat64()
	}
	return m, nil
}

// counted returns the reservations that count toward pallet's fill.
func (f *FillCalculator) counted(ctx context.Context, pallet domain.Pallet) ([]domain.Reservation, error) {
	var out []domain.Reservation
	seen := make(map[string]bool)

	if !pallet.Status.Terminal() && pallet.Pair().Complete() {
		active, err := f.repo.ActivePalletForPair(ctx, pallet.Pair())
		if err != nil {
			return nil, err
		}
		if active != nil && active.ID == pallet.ID {
			byPair, err := f.repo.ListReservationsByPair(ctx, pallet.Pair())
			if err != nil {
				return nil, err
			}
			for _, r := range byPair {
				if !r.Status.Frozen() && r.Status.CountsTowardFill() {
					out = append(out, r)
					seen[r.ID] = true
				}
			}
		}
	}

	cached, err := f.repo.ListReservationsByPallet(ctx, pallet.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range cached {
		if r.Status == domain.ReservationConfirmed && !seen[r.ID] {
			out = append(out, r)
			seen[r.ID] = true
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
