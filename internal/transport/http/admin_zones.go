package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
	"github.com/axelsamuelson/crowdvine-sub005/internal/logging"
)

func (s *server) listZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.svc.Zones.ListZones(r.Context(), domain.ZoneType(r.URL.Query().Get("type")))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]zoneResponse, 0, len(zones))
	for _, z := range zones {
		resp = append(resp, newZoneResponse(z))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) createZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	zone, err := s.svc.Zones.CreateZone(r.Context(), req.input())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "create_zone", "zone", zone.ID, nil)
	writeJSON(w, http.StatusCreated, newZoneResponse(zone))
}

func (s *server) updateZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req zoneRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	zone, err := s.svc.Zones.UpdateZone(r.Context(), id, req.input())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "update_zone", "zone", id, nil)
	writeJSON(w, http.StatusOK, newZoneResponse(zone))
}

func (s *server) deleteZone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Zones.DeleteZone(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "delete_zone", "zone", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
