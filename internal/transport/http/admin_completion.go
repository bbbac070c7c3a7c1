package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/logging"
)

func (s *server) evaluateCompletion(w http.ResponseWriter, r *http.Request) {
	rep, err := s.svc.Completion.Evaluate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *server) reverseCompletion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req reverseRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	actor := actorFrom(r)
	res, err := s.svc.Completion.ReverseCompletion(r.Context(), id, req.Confirm, actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actor, "reverse_completion", "pallet", id, logrus.Fields{
		"reverted": len(res.Reverted),
		"voided":   len(res.Voided),
	})
	writeJSON(w, http.StatusOK, reversalResponse{
		Pallet:   newPalletResponse(res.Pallet),
		Reverted: nonNil(res.Reverted),
		Voided:   nonNil(res.Voided),
	})
}

func (s *server) inconsistentCompletions(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.Completion.DetectInconsistent(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(reports))
}

func (s *server) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	var palletID *string
	if req.PalletID != "" {
		palletID = &req.PalletID
	}
	rep, err := s.svc.Reconciler.Reconcile(r.Context(), palletID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "reconcile", "pallet", req.PalletID, logrus.Fields{
		"scanned":     rep.Scanned,
		"corrections": len(rep.Corrections),
	})
	writeJSON(w, http.StatusOK, newReconcileResponse(rep))
}

func (s *server) collisions(w http.ResponseWriter, r *http.Request) {
	cs, err := s.svc.Registry.Collisions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCollisionResponses(cs))
}
