package http

import (
	"encoding/json"
	"time"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

type zoneRequest struct {
	Name        string   `json:"name" validate:"required,max=200"`
	ZoneType    string   `json:"zone_type" validate:"required,oneof=pickup delivery"`
	CenterLat   *float64 `json:"center_lat" validate:"required,gte=-90,lte=90"`
	CenterLon   *float64 `json:"center_lon" validate:"required,gte=-180,lte=180"`
	RadiusKm    float64  `json:"radius_km" validate:"gt=0"`
	CountryCode string   `json:"country_code,omitempty" validate:"omitempty,len=2,alpha"`
}

func (r zoneRequest) input() app.ZoneInput {
	return app.ZoneInput{
		Name:        r.Name,
		Type:        domain.ZoneType(r.ZoneType),
		CenterLat:   *r.CenterLat,
		CenterLon:   *r.CenterLon,
		RadiusKm:    r.RadiusKm,
		CountryCode: r.CountryCode,
	}
}

type zoneResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ZoneType    string    `json:"zone_type"`
	CenterLat   float64   `json:"center_lat"`
	CenterLon   float64   `json:"center_lon"`
	RadiusKm    float64   `json:"radius_km"`
	CountryCode string    `json:"country_code,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newZoneResponse(z domain.Zone) zoneResponse {
	return zoneResponse{
		ID:          z.ID,
		Name:        z.Name,
		ZoneType:    string(z.Type),
		CenterLat:   z.CenterLat,
		CenterLon:   z.CenterLon,
		RadiusKm:    z.RadiusKm,
		CountryCode: z.CountryCode,
		CreatedAt:   z.CreatedAt,
	}
}

type createPalletRequest struct {
	Name            string          `json:"name" validate:"required,max=200"`
	PickupZoneID    string          `json:"pickup_zone_id" validate:"required"`
	DeliveryZoneID  string          `json:"delivery_zone_id" validate:"required"`
	BottleCapacity  int             `json:"bottle_capacity" validate:"gt=0"`
	CostCents       int64           `json:"cost_cents" validate:"gte=0"`
	CompletionRules json.RawMessage `json:"completion_rules,omitempty"`
}

type rezoneRequest struct {
	PickupZoneID   string `json:"pickup_zone_id" validate:"required"`
	DeliveryZoneID string `json:"delivery_zone_id" validate:"required"`
}

type palletResponse struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	PickupZoneID    string        `json:"pickup_zone_id"`
	DeliveryZoneID  string        `json:"delivery_zone_id"`
	BottleCapacity  int           `json:"bottle_capacity"`
	CostCents       int64         `json:"cost_cents"`
	Status          string        `json:"status"`
	IsComplete      bool          `json:"is_complete"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	PaymentDeadline *time.Time    `json:"payment_deadline,omitempty"`
	CompletionRules rules.RuleSet `json:"completion_rules"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func newPalletResponse(p domain.Pallet) palletResponse {
	return palletResponse{
		ID:              p.ID,
		Name:            p.Name,
		PickupZoneID:    p.PickupZoneID,
		DeliveryZoneID:  p.DeliveryZoneID,
		BottleCapacity:  p.BottleCapacity,
		CostCents:       p.CostCents,
		Status:          string(p.Status),
		IsComplete:      p.IsComplete,
		CompletedAt:     p.CompletedAt,
		PaymentDeadline: p.PaymentDeadline,
		CompletionRules: p.CompletionRules,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type palletDetailResponse struct {
	palletResponse
	Metrics app.Metrics `json:"metrics"`
	Rules   string      `json:"rules_text"`
}

type transitionResponse struct {
	ID     string          `json:"id"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Reason string          `json:"reason"`
	Actor  string          `json:"actor"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
	At     time.Time       `json:"at"`
}

func newTransitionResponse(t domain.PalletTransition) transitionResponse {
	return transitionResponse{
		ID:     t.ID,
		From:   string(t.From),
		To:     string(t.To),
		Reason: t.Reason,
		Actor:  t.Actor,
		Before: t.Before,
		After:  t.After,
		At:     t.At,
	}
}

type pairResponse struct {
	PickupZoneID   string `json:"pickup_zone_id"`
	DeliveryZoneID string `json:"delivery_zone_id"`
}

type collisionResponse struct {
	Pair      pairResponse `json:"pair"`
	PalletIDs []string     `json:"pallet_ids"`
}

func newCollisionResponses(cs []app.PairCollision) []collisionResponse {
	out := make([]collisionResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, collisionResponse{
			Pair:      pairResponse{PickupZoneID: c.Pair.PickupZoneID, DeliveryZoneID: c.Pair.DeliveryZoneID},
			PalletIDs: c.PalletIDs,
		})
	}
	return out
}

type reconcileRequest struct {
	PalletID string `json:"pallet_id,omitempty" validate:"omitempty,uuid"`
}

type reconcileResponse struct {
	PalletID      string              `json:"pallet_id,omitempty"`
	Scanned       int                 `json:"scanned"`
	Corrections   []app.Correction    `json:"corrections"`
	Awaiting      []string            `json:"awaiting"`
	Discrepancies []app.Discrepancy   `json:"discrepancies"`
	Collisions    []collisionResponse `json:"collisions"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    time.Time           `json:"finished_at"`
}

func newReconcileResponse(r app.ReconciliationReport) reconcileResponse {
	return reconcileResponse{
		PalletID:      r.PalletID,
		Scanned:       r.Scanned,
		Corrections:   nonNil(r.Corrections),
		Awaiting:      nonNil(r.Awaiting),
		Discrepancies: nonNil(r.Discrepancies),
		Collisions:    newCollisionResponses(r.Collisions),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

type reverseRequest struct {
	Confirm string `json:"confirm"`
}

type reversalResponse struct {
	Pallet   palletResponse `json:"pallet"`
	Reverted []string       `json:"reverted"`
	Voided   []string       `json:"voided"`
}

type itemRequest struct {
	WineID     string `json:"wine_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	PriceCents int64  `json:"price_cents" validate:"gte=0"`
}

type placeReservationRequest struct {
	UserID                  string        `json:"user_id" validate:"required"`
	Items                   []itemRequest `json:"items" validate:"required,min=1,dive"`
	DeliveryZoneID          string        `json:"delivery_zone_id,omitempty"`
	ShippingAddress         string        `json:"shipping_address,omitempty" validate:"required_without=DeliveryZoneID"`
	CountryCode             string        `json:"country_code,omitempty" validate:"omitempty,len=2,alpha"`
	RequireProducerApproval bool          `json:"require_producer_approval,omitempty"`
}

func (r placeReservationRequest) input() app.PlaceReservationInput {
	items := make([]app.ItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, app.ItemInput{WineID: it.WineID, Quantity: it.Quantity, PriceCents: it.PriceCents})
	}
	return app.PlaceReservationInput{
		UserID:                  r.UserID,
		Items:                   items,
		DeliveryZoneID:          r.DeliveryZoneID,
		ShippingAddress:         r.ShippingAddress,
		CountryCode:             r.CountryCode,
		RequireProducerApproval: r.RequireProducerApproval,
	}
}

type itemResponse struct {
	WineID     string `json:"wine_id"`
	ProducerID string `json:"producer_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type reservationResponse struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	PalletID        string         `json:"pallet_id,omitempty"`
	Allocation      string         `json:"allocation"`
	PickupZoneID    string         `json:"pickup_zone_id"`
	DeliveryZoneID  string         `json:"delivery_zone_id"`
	Status          string         `json:"status"`
	TotalCostCents  int64          `json:"total_cost_cents"`
	PaymentStatus   string         `json:"payment_status"`
	PaymentHandle   string         `json:"payment_handle,omitempty"`
	ShippingAddress string         `json:"shipping_address,omitempty"`
	CountryCode     string         `json:"country_code,omitempty"`
	Items           []itemResponse `json:"items"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func newReservationResponse(r domain.Reservation) reservationResponse {
	items := make([]itemResponse, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, itemResponse{
			WineID:     it.WineID,
			ProducerID: it.ProducerID,
			Quantity:   it.Quantity,
			PriceCents: it.PriceCents,
		})
	}
	return reservationResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		PalletID:        r.PalletID,
		Allocation:      string(r.Allocation()),
		PickupZoneID:    r.PickupZoneID,
		DeliveryZoneID:  r.DeliveryZoneID,
		Status:          string(r.Status),
		TotalCostCents:  r.TotalCostCents,
		PaymentStatus:   string(r.PaymentStatus),
		PaymentHandle:   r.PaymentHandle,
		ShippingAddress: r.ShippingAddress,
		CountryCode:     r.CountryCode,
		Items:           items,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type placeReservationResponse struct {
	Reservation reservationResponse `json:"reservation"`
	Assignment  app.Assignment      `json:"assignment"`
	Metrics     *app.Metrics        `json:"metrics,omitempty"`
	Completed   bool                `json:"completed"`
}

type approvalResponse struct {
	Reservation reservationResponse `json:"reservation"`
	Metrics     *app.Metrics        `json:"metrics,omitempty"`
	Completed   bool                `json:"completed"`
}

type cancelResponse struct {
	Reservation reservationResponse   `json:"reservation"`
	Completion  *app.CompletionReport `json:"completion,omitempty"`
}

type paymentCallbackRequest struct {
	Handle    string `json:"handle" validate:"required"`
	Succeeded *bool  `json:"succeeded" validate:"required"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
