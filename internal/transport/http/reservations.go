package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/logging"
)

func (s *server) placeReservation(w http.ResponseWriter, r *http.Request) {
	var req placeReservationRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	res, err := s.svc.Checkout.PlaceReservation(r.Context(), req.input())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, placeReservationResponse{
		Reservation: newReservationResponse(res.Reservation),
		Assignment:  res.Assignment,
		Metrics:     res.Metrics,
		Completed:   res.Completed,
	})
}

func (s *server) cancelReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Checkout.CancelReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		Reservation: newReservationResponse(res.Reservation),
		Completion:  res.Completion,
	})
}

// approveReservation records a producer's approval of a reservation placed
// with require_producer_approval.
func (s *server) approveReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.svc.Checkout.ApproveReservation(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.Action(s.audit, actorFrom(r), "approve_reservation", "reservation", id, logrus.Fields{
		"status":    res.Reservation.Status,
		"completed": res.Completed,
	})
	writeJSON(w, http.StatusOK, approvalResponse{
		Reservation: newReservationResponse(res.Reservation),
		Metrics:     res.Metrics,
		Completed:   res.Completed,
	})
}

// paymentCallback records the gateway's verdict on one charge. Unknown
// handles, including ones voided by a reversal, answer 404.
func (s *server) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var req paymentCallbackRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	res, err := s.svc.Completion.HandlePaymentResult(r.Context(), req.Handle, *req.Succeeded)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReservationResponse(res))
}
