package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/app"
	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/logging"
	"github.com/axelsamuelson/crowdvine-sub005/internal/rules"
)

func (s *server) listPallets(w http.ResponseWriter, r *http.Request) {
	pallets, err := s.svc.Pallets.ListPallets(r.Context(), app.PalletFilter{
		Status: domain.PalletStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]palletResponse, 0, len(pallets))
	for _, p := range pallets {
		resp = append(resp, newPalletResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) createPallet(w http.ResponseWriter, r *http.Request) {
	var req createPalletRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	in := app.CreatePalletInput{
		Name:           req.Name,
		PickupZoneID:   req.PickupZoneID,
		DeliveryZoneID: req.DeliveryZoneID,
		BottleCapacity: req.BottleCapacity,
		CostCents:      req.CostCents,
	}
	if len(req.CompletionRules) > 0 {
		rs, err := rules.Parse(req.CompletionRules)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		in.CompletionRules = &rs
	}

	pallet, err := s.svc.Registry.Register(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "register_pallet", "pallet", pallet.ID, logrus.Fields{
		"pair": pallet.Pair().Key(),
	})
	writeJSON(w, http.StatusCreated, newPalletResponse(pallet))
}

func (s *server) getPallet(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Pallets.GetPallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, palletDetailResponse{
		palletResponse: newPalletResponse(view.Pallet),
		Metrics:        view.Metrics,
		Rules:          view.Pallet.CompletionRules.String(),
	})
}

func (s *server) rezonePallet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req rezoneRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	pair := domain.ZonePair{PickupZoneID: req.PickupZoneID, DeliveryZoneID: req.DeliveryZoneID}
	pallet, err := s.svc.Registry.Rezone(r.Context(), id, pair)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "rezone_pallet", "pallet", id, logrus.Fields{
		"pair": pair.Key(),
	})
	writeJSON(w, http.StatusOK, newPalletResponse(pallet))
}

func (s *server) listTransitions(w http.ResponseWriter, r *http.Request) {
	ts, err := s.svc.Pallets.ListTransitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]transitionResponse, 0, len(ts))
	for _, t := range ts {
		resp = append(resp, newTransitionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pallets.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationResponse(res))
}
