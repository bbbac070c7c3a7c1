package http

import (
	"context"
	"time"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

var fixedTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeServices implements every service interface. err, when set, is
// returned by every call.
type fakeServices struct {
	err error

	zoneIn      app.ZoneInput
	palletIn    app.CreatePalletInput
	rezonePair  domain.ZonePair
	placeIn     app.PlaceReservationInput
	reconcileID *string
	confirm     string
	actor       string
	handle      string
	succeeded   bool
	deleted     string
}

func (f *fakeServices) services() Services {
	return Services{Zones: f, Pallets: f, Registry: f, Completion: f, Reconciler: f, Checkout: f}
}

func (f *fakeServices) CreateZone(_ context.Context, in app.ZoneInput) (domain.Zone, error) {
	f.zoneIn = in
	if f.err != nil {
		return domain.Zone{}, f.err
	}
	return domain.Zone{ID: "z-1", Name: in.Name, Type: in.Type, CenterLat: in.CenterLat, CenterLon: in.CenterLon, RadiusKm: in.RadiusKm, CreatedAt: fixedTime}, nil
}

func (f *fakeServices) ListZones(_ context.Context, zoneType domain.ZoneType) ([]domain.Zone, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Zone{{ID: "z-1", Name: "Stockholm", Type: domain.ZoneTypeDelivery}}, nil
}

func (f *fakeServices) UpdateZone(_ context.Context, id string, in app.ZoneInput) (domain.Zone, error) {
	f.zoneIn = in
	if f.err != nil {
		return domain.Zone{}, f.err
	}
	return domain.Zone{ID: id, Name: in.Name, Type: in.Type}, nil
}

func (f *fakeServices) DeleteZone(_ context.Context, id string) error {
	f.deleted = id
	return f.err
}

func (f *fakeServices) GetPallet(_ context.Context, id string) (app.PalletView, error) {
	if f.err != nil {
		return app.PalletView{}, f.err
	}
	return app.PalletView{
		Pallet:  domain.Pallet{ID: id, Status: domain.PalletStatusOpen, BottleCapacity: 600},
		Metrics: app.Metrics{PalletID: id, Bottles: 120, Capacity: 600, FillPercent: 20},
	}, nil
}

func (f *fakeServices) ListPallets(_ context.Context, filter app.PalletFilter) ([]domain.Pallet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Pallet{{ID: "p-1", Status: filter.Status}}, nil
}

func (f *fakeServices) ListTransitions(_ context.Context, palletID string) ([]domain.PalletTransition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.PalletTransition{{ID: "t-1", PalletID: palletID, From: domain.PalletStatusOpen, To: domain.PalletStatusCompleting}}, nil
}

func (f *fakeServices) GetReservation(_ context.Context, id string) (domain.Reservation, error) {
	if f.err != nil {
		return domain.Reservation{}, f.err
	}
	return domain.Reservation{ID: id, Status: domain.ReservationPlaced}, nil
}

func (f *fakeServices) Register(_ context.Context, in app.CreatePalletInput) (domain.Pallet, error) {
	f.palletIn = in
	if f.err != nil {
		return domain.Pallet{}, f.err
	}
	return domain.Pallet{ID: "p-1", Name: in.Name, PickupZoneID: in.PickupZoneID, DeliveryZoneID: in.DeliveryZoneID, Status: domain.PalletStatusOpen}, nil
}

func (f *fakeServices) Rezone(_ context.Context, id string, pair domain.ZonePair) (domain.Pallet, error) {
	f.rezonePair = pair
	if f.err != nil {
		return domain.Pallet{}, f.err
	}
	return domain.Pallet{ID: id, PickupZoneID: pair.PickupZoneID, DeliveryZoneID: pair.DeliveryZoneID}, nil
}

func (f *fakeServices) Collisions(context.Context) ([]app.PairCollision, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []app.PairCollision{{Pair: domain.ZonePair{PickupZoneID: "pz", DeliveryZoneID: "dz"}, PalletIDs: []string{"p-1", "p-2"}}}, nil
}

func (f *fakeServices) Evaluate(_ context.Context, id string) (app.CompletionReport, error) {
	if f.err != nil {
		return app.CompletionReport{}, f.err
	}
	return app.CompletionReport{PalletID: id, Status: domain.PalletStatusCompleting, IsComplete: true, Inconsistent: true}, nil
}

func (f *fakeServices) ReverseCompletion(_ context.Context, id, confirm, actor string) (app.ReversalResult, error) {
	f.confirm = confirm
	f.actor = actor
	if f.err != nil {
		return app.ReversalResult{}, f.err
	}
	return app.ReversalResult{Pallet: domain.Pallet{ID: id, Status: domain.PalletStatusOpen}, Reverted: []string{"r-1"}}, nil
}

func (f *fakeServices) DetectInconsistent(context.Context) ([]app.CompletionReport, error) {
	return nil, f.err
}

func (f *fakeServices) HandlePaymentResult(_ context.Context, handle string, succeeded bool) (domain.Reservation, error) {
	f.handle = handle
	f.succeeded = succeeded
	if f.err != nil {
		return domain.Reservation{}, f.err
	}
	return domain.Reservation{ID: "r-1", PaymentHandle: handle, PaymentStatus: domain.PaymentSucceeded}, nil
}

func (f *fakeServices) Reconcile(_ context.Context, palletID *string) (app.ReconciliationReport, error) {
	f.reconcileID = palletID
	if f.err != nil {
		return app.ReconciliationReport{}, f.err
	}
	return app.ReconciliationReport{Scanned: 3, Corrections: []app.Correction{{ReservationID: "r-1", To: "p-1"}}}, nil
}

func (f *fakeServices) PlaceReservation(_ context.Context, in app.PlaceReservationInput) (app.PlaceReservationResult, error) {
	f.placeIn = in
	if f.err != nil {
		return app.PlaceReservationResult{}, f.err
	}
	return app.PlaceReservationResult{
		Reservation: domain.Reservation{ID: "r-1", UserID: in.UserID, PalletID: "p-1", Status: domain.ReservationPlaced},
		Assignment:  app.Assignment{ReservationID: "r-1", PalletID: "p-1", State: domain.Allocated, Changed: true},
	}, nil
}

func (f *fakeServices) CancelReservation(_ context.Context, id string) (app.CancelResult, error) {
	if f.err != nil {
		return app.CancelResult{}, f.err
	}
	return app.CancelResult{Reservation: domain.Reservation{ID: id, Status: domain.ReservationCancelled}}, nil
}

func (f *fakeServices) ApproveReservation(_ context.Context, id string) (app.ApprovalResult, error) {
	if f.err != nil {
		return app.ApprovalResult{}, f.err
	}
	return app.ApprovalResult{Reservation: domain.Reservation{ID: id, PalletID: "p-1", Status: domain.ReservationApproved}}, nil
}
