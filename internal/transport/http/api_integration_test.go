package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/clock"
	"github.com/axelsamuelson/crowdvine-sub005/internal/geo"
	"github.com/axelsamuelson/crowdvine-sub005/internal/payment"
	"github.com/axelsamuelson/crowdvine-sub005/internal/storage/postgres"
	"github.com/axelsamuelson/crowdvine-sub005/internal/testutil"
)

type apiErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func newIntegrationRouter(t *testing.T, store *postgres.Store, gateway payment.Gateway) http.Handler {
	t.Helper()
	log, _ := test.NewNullLogger()
	clk := clock.NewSystem()
	locks := app.NewPairLocks()

	assigner := app.NewAssigner(store, log)
	registry := app.NewRegistry(store, locks, assigner, clk, log)
	lifecycle := app.NewLifecycle(store, locks, app.NewFillCalculator(store, store), gateway, clk, log)
	matcher := geo.NewMatcher(store, geo.NewStaticGeocoder(map[string]geo.Point{
		"Sveavägen 10, Stockholm": {Lat: 59.3366, Lon: 18.0630},
	}), log)

	return NewRouter(Services{
		Zones:      app.NewAdminService(store, lifecycle, clk),
		Pallets:    app.NewAdminService(store, lifecycle, clk),
		Registry:   registry,
		Completion: lifecycle,
		Reconciler: app.NewReconciler(store, locks, registry, assigner, clk, log),
		Checkout:   app.NewCheckoutService(store, locks, matcher, registry, assigner, lifecycle, clk, log),
	}, Options{Log: log})
}

func postJSON(t *testing.T, h http.Handler, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec.Code
}

func TestPalletLifecycle_HTTPIntegration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	gateway := payment.NewSandbox()
	h := newIntegrationRouter(t, postgres.NewStore(pool), gateway)

	var pickup, delivery zoneResponse
	if code := postJSON(t, h, http.MethodPost, "/admin/zones", `{"name":"Piemonte","zone_type":"pickup","center_lat":45.0,"center_lon":7.9,"radius_km":80}`, &pickup); code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", code)
	}
	if code := postJSON(t, h, http.MethodPost, "/admin/zones", `{"name":"Stockholm","zone_type":"delivery","center_lat":59.33,"center_lon":18.07,"radius_km":40,"country_code":"se"}`, &delivery); code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", code)
	}
	if delivery.CountryCode != "SE" {
		t.Fatalf("expected normalised country code, got %q", delivery.CountryCode)
	}

	_, wineID := testutil.InsertProducer(t, ctx, pool, "Cascina", pickup.ID, 0)
	testutil.InsertMargin(t, ctx, pool, wineID, 1, 1250)

	// A reservation placed before any pallet exists waits for one.
	var early placeReservationResponse
	body := `{"user_id":"u-1","items":[{"wine_id":"` + wineID + `","quantity":100,"price_cents":19900}],"shipping_address":"Sveavägen 10, Stockholm"}`
	if code := postJSON(t, h, http.MethodPost, "/reservations", body, &early); code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", code)
	}
	if early.Reservation.Allocation != "awaiting_pallet" || early.Reservation.DeliveryZoneID != delivery.ID {
		t.Fatalf("expected awaiting reservation in %s, got %+v", delivery.ID, early.Reservation)
	}

	var pallet palletResponse
	palletBody := `{"name":"Piemonte to Stockholm","pickup_zone_id":"` + pickup.ID + `","delivery_zone_id":"` + delivery.ID + `","bottle_capacity":600,"cost_cents":450000,
		"completion_rules":{"mode":"SEQUENTIAL","groups":[{"operator":"AND","conditions":[{"metric":"bottles","op":">=","value":600}]}]}}`
	if code := postJSON(t, h, http.MethodPost, "/admin/pallets", palletBody, &pallet); code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", code)
	}

	var dup apiErrorResponse
	if code := postJSON(t, h, http.MethodPost, "/admin/pallets", palletBody, &dup); code != http.StatusConflict || dup.Code != codeZonePairConflict {
		t.Fatalf("expected zone pair conflict, got %d %s", code, dup.Code)
	}

	var assigned reservationResponse
	postJSON(t, h, http.MethodGet, "/admin/reservations/"+early.Reservation.ID, "", &assigned)
	if assigned.PalletID != pallet.ID {
		t.Fatalf("expected early reservation on pallet %s, got %q", pallet.ID, assigned.PalletID)
	}

	var last placeReservationResponse
	body = `{"user_id":"u-2","items":[{"wine_id":"` + wineID + `","quantity":500,"price_cents":19900}],"delivery_zone_id":"` + delivery.ID + `"}`
	if code := postJSON(t, h, http.MethodPost, "/reservations", body, &last); code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", code)
	}
	if !last.Completed {
		t.Fatalf("expected the 600th bottle to complete the pallet")
	}

	charges := gateway.Charges()
	if len(charges) != 2 {
		t.Fatalf("expected 2 charges, got %d", len(charges))
	}

	var detail palletDetailResponse
	postJSON(t, h, http.MethodGet, "/admin/pallets/"+pallet.ID, "", &detail)
	if detail.Status != "PAYMENT_PENDING" || detail.Metrics.Bottles != 600 {
		t.Fatalf("expected PAYMENT_PENDING with 600 bottles, got %s %d", detail.Status, detail.Metrics.Bottles)
	}

	var notOpen apiErrorResponse
	rezoneBody := `{"pickup_zone_id":"` + pickup.ID + `","delivery_zone_id":"` + delivery.ID + `"}`
	if code := postJSON(t, h, http.MethodPut, "/admin/pallets/"+pallet.ID+"/zones", rezoneBody, &notOpen); code != http.StatusConflict || notOpen.Code != codePalletNotOpen {
		t.Fatalf("expected pallet_not_open, got %d %s", code, notOpen.Code)
	}

	for _, c := range charges {
		if code := postJSON(t, h, http.MethodPost, "/payments/callback", `{"handle":"`+c.Handle+`","succeeded":true}`, nil); code != http.StatusOK {
			t.Fatalf("expected status 200 for callback, got %d", code)
		}
	}

	postJSON(t, h, http.MethodGet, "/admin/pallets/"+pallet.ID, "", &detail)
	if detail.Status != "CONFIRMED" {
		t.Fatalf("expected CONFIRMED, got %s", detail.Status)
	}

	var transitions []transitionResponse
	postJSON(t, h, http.MethodGet, "/admin/pallets/"+pallet.ID+"/transitions", "", &transitions)
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}

	var refErr apiErrorResponse
	if code := postJSON(t, h, http.MethodDelete, "/admin/zones/"+delivery.ID, "", &refErr); code != http.StatusConflict || refErr.Code != codeZoneReferenced {
		t.Fatalf("expected referenced zone, got %d %s", code, refErr.Code)
	}

	var reversal apiErrorResponse
	if code := postJSON(t, h, http.MethodPost, "/admin/pallets/"+pallet.ID+"/reverse-completion", `{"confirm":"RESET"}`, &reversal); code != http.StatusConflict || reversal.Code != codePalletConfirmed {
		t.Fatalf("expected confirmed pallet to refuse reversal, got %d %s", code, reversal.Code)
	}
}

func TestAdminErrors_HTTPIntegration(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	h := newIntegrationRouter(t, postgres.NewStore(pool), payment.NewSandbox())

	var errResp apiErrorResponse
	if code := postJSON(t, h, http.MethodGet, "/admin/pallets/not-a-uuid", "", &errResp); code != http.StatusBadRequest || errResp.Code != codeInvalidID {
		t.Fatalf("expected invalid id, got %d %s", code, errResp.Code)
	}
	if code := postJSON(t, h, http.MethodGet, "/admin/pallets/7a3a3c36-3c5d-4a39-8f4e-6f0f1f4f5a10", "", &errResp); code != http.StatusNotFound || errResp.Code != codePalletNotFound {
		t.Fatalf("expected pallet not found, got %d %s", code, errResp.Code)
	}

	var report reconcileResponse
	if code := postJSON(t, h, http.MethodPost, "/admin/reconcile", "", &report); code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if report.Scanned != 0 || len(report.Corrections) != 0 {
		t.Fatalf("expected empty reconcile on empty db, got %+v", report)
	}
}
