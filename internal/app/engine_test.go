package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/geo"
	"github.com/axelsamuelson/crowdvine-sub005/internal/payment"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

const (
	pickupNorth   = "pz-north"
	pickupSouth   = "pz-south"
	deliveryCity  = "dz-city"
	deliveryCoast = "dz-coast"
)

var cityPair = domain.ZonePair{PickupZoneID: pickupNorth, DeliveryZoneID: deliveryCity}

// testEngine wires every service over one fake store, the way cmd/api does
// over Postgres.
type testEngine struct {
	store     *fakeStore
	locks     *PairLocks
	clock     *clock.Manual
	payments  *payment.Sandbox
	logs      *test.Hook
	assigner  *Assigner
	registry  *Registry
	fill      *FillCalculator
	lifecycle *Lifecycle
	reconcile *Reconciler
	checkout  *CheckoutService
	admin     *AdminService
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	store := newFakeStore()
	seedCatalog(store)

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	e := &testEngine{
		store:    store,
		locks:    NewPairLocks(),
		clock:    clock.NewManual(testNow),
		payments: payment.NewSandbox(),
		logs:     hook,
	}
	margins := fixedMargins{
		"wine-red":   decimal.RequireFromString("12.50"),
		"wine-white": decimal.RequireFromString("10"),
		"wine-rose":  decimal.RequireFromString("8"),
	}
	geocoder := geo.NewStaticGeocoder(map[string]geo.Point{
		"Sveavägen 10, Stockholm": {Lat: 59.3366, Lon: 18.0630},
		"Strandvägen 1, Ystad":    {Lat: 55.4295, Lon: 13.8200},
	})

	e.assigner = NewAssigner(store, log)
	e.registry = NewRegistry(store, e.locks, e.assigner, e.clock, log)
	e.fill = NewFillCalculator(store, margins)
	e.lifecycle = NewLifecycle(store, e.locks, e.fill, e.payments, e.clock, log)
	e.reconcile = NewReconciler(store, e.locks, e.registry, e.assigner, e.clock, log)
	e.checkout = NewCheckoutService(store, e.locks, geo.NewMatcher(store, geocoder, log), e.registry, e.assigner, e.lifecycle, e.clock, log)
	e.admin = NewAdminService(store, e.lifecycle, e.clock)
	return e
}

func seedCatalog(s *fakeStore) {
	for _, z := range []domain.Zone{
		{ID: pickupNorth, Name: "North cellars", Type: domain.ZoneTypePickup, CenterLat: 45.0, CenterLon: 7.0, RadiusKm: 80},
		{ID: pickupSouth, Name: "South cellars", Type: domain.ZoneTypePickup, CenterLat: 43.0, CenterLon: 3.0, RadiusKm: 80},
		{ID: deliveryCity, Name: "Stockholm", Type: domain.ZoneTypeDelivery, CenterLat: 59.3293, CenterLon: 18.0686, RadiusKm: 40, CountryCode: "SE"},
		{ID: deliveryCoast, Name: "Skåne coast", Type: domain.ZoneTypeDelivery, CenterLat: 55.6, CenterLon: 13.0, RadiusKm: 90, CountryCode: "SE"},
	} {
		s.zones[z.ID] = z
	}
	s.producers["prod-big"] = domain.Producer{ID: "prod-big", Name: "Big estate", PickupZoneID: pickupNorth}
	s.producers["prod-small"] = domain.Producer{ID: "prod-small", Name: "Small grower", PickupZoneID: pickupNorth, MOQMinBottles: 30}
	s.producers["prod-south"] = domain.Producer{ID: "prod-south", Name: "Southern co-op", PickupZoneID: pickupSouth}
	s.producers["prod-nowhere"] = domain.Producer{ID: "prod-nowhere", Name: "Unplaced"}
	s.wines["wine-red"] = domain.Wine{ID: "wine-red", ProducerID: "prod-big"}
	s.wines["wine-white"] = domain.Wine{ID: "wine-white", ProducerID: "prod-small"}
	s.wines["wine-rose"] = domain.Wine{ID: "wine-rose", ProducerID: "prod-south"}
	s.wines["wine-orange"] = domain.Wine{ID: "wine-orange", ProducerID: "prod-nowhere"}
}

func bottlesAtLeast(n float64) rules.RuleSet {
	return rules.RuleSet{
		Mode:   rules.Sequential,
		Groups: []rules.Group{{Operator: rules.And, Conditions: []rules.Condition{{Metric: rules.MetricBottles, Op: rules.OpGTE, Value: n}}}},
	}
}

func (e *testEngine) registerPallet(t *testing.T, pair domain.ZonePair, capacity int, rs rules.RuleSet) domain.Pallet {
	t.Helper()
	p, err := e.registry.Register(context.Background(), CreatePalletInput{
		Name:            "Pallet " + pair.Key(),
		PickupZoneID:    pair.PickupZoneID,
		DeliveryZoneID:  pair.DeliveryZoneID,
		BottleCapacity:  capacity,
		CostCents:       450000,
		CompletionRules: &rs,
	})
	require.NoError(t, err)
	return p
}

func (e *testEngine) place(t *testing.T, user, wine string, qty int) PlaceReservationResult {
	t.Helper()
	res, err := e.checkout.PlaceReservation(context.Background(), PlaceReservationInput{
		UserID:         user,
		Items:          []ItemInput{{WineID: wine, Quantity: qty, PriceCents: 19900}},
		DeliveryZoneID: deliveryCity,
	})
	require.NoError(t, err)
	return res
}
