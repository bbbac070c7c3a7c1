package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/axelsamuelson/crowdvine-sub005/internal/domain"
)

const (
	codeMethodNotAllowed          = "method_not_allowed"
	codeNotFound                  = "not_found"
	codeInvalidRequestBody        = "invalid_request_body"
	codeValidationFailed          = "validation_failed"
	codeInvalidID                 = "invalid_id"
	codeInvalidQuantity           = "invalid_quantity"
	codeInvalidCapacity           = "invalid_capacity"
	codeInvalidZone               = "invalid_zone"
	codeZoneNameRequired          = "zone_name_required"
	codePalletNameRequired        = "pallet_name_required"
	codeItemsRequired             = "items_required"
	codeInvalidCompletionRules    = "invalid_completion_rules"
	codeReversalNotConfirmed      = "reversal_not_confirmed"
	codeZoneNotFound              = "zone_not_found"
	codePalletNotFound            = "pallet_not_found"
	codeReservationNotFound       = "reservation_not_found"
	codeWineNotFound              = "wine_not_found"
	codePaymentHandleNotFound     = "payment_handle_not_found"
	codeZoneTypeMismatch          = "zone_type_mismatch"
	codeNoZoneMatch               = "no_zone_match"
	codeAmbiguousZoneMatch        = "ambiguous_zone_match"
	codeMixedPickupZone           = "mixed_pickup_zone"
	codeProducerPickupZoneMissing = "producer_pickup_zone_missing"
	codeGeocodeFailed             = "geocode_failed"
	codeZoneReferenced            = "zone_referenced"
	codeZonePairConflict          = "zone_pair_conflict"
	codePalletConfirmed           = "pallet_confirmed"
	codePalletNotComplete         = "pallet_not_complete"
	codeReservationFrozen         = "reservation_frozen"
	codePalletNotOpen             = "pallet_not_open"
	codeNotAwaitingApproval       = "not_awaiting_approval"
	codeForbidden                 = "forbidden"
	codeUnavailable               = "unavailable"
	codeInternalError             = "internal_error"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	ZoneIDs []string `json:"zone_ids,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeErrorResponse(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, resp errorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(resp)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; GeocodeError also unwraps to its cause, so it comes first.
var errorMappings = []errorMapping{
	{domain.ErrGeocodeFailed, http.StatusBadGateway, codeGeocodeFailed},
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrInvalidZone, http.StatusBadRequest, codeInvalidZone},
	{domain.ErrZoneNameRequired, http.StatusBadRequest, codeZoneNameRequired},
	{domain.ErrPalletNameRequired, http.StatusBadRequest, codePalletNameRequired},
	{domain.ErrItemsRequired, http.StatusBadRequest, codeItemsRequired},
	{domain.ErrInvalidRuleSet, http.StatusBadRequest, codeInvalidCompletionRules},
	{domain.ErrReversalNotConfirmed, http.StatusBadRequest, codeReversalNotConfirmed},
	{domain.ErrZoneNotFound, http.StatusNotFound, codeZoneNotFound},
	{domain.ErrPalletNotFound, http.StatusNotFound, codePalletNotFound},
	{domain.ErrReservationNotFound, http.StatusNotFound, codeReservationNotFound},
	{domain.ErrWineNotFound, http.StatusNotFound, codeWineNotFound},
	{domain.ErrPaymentHandleNotFound, http.StatusNotFound, codePaymentHandleNotFound},
	{domain.ErrZoneTypeMismatch, http.StatusUnprocessableEntity, codeZoneTypeMismatch},
	{domain.ErrNoZoneMatch, http.StatusUnprocessableEntity, codeNoZoneMatch},
	{domain.ErrAmbiguousZoneMatch, http.StatusUnprocessableEntity, codeAmbiguousZoneMatch},
	{domain.ErrMixedPickupZone, http.StatusUnprocessableEntity, codeMixedPickupZone},
	{domain.ErrProducerPickupZoneMissing, http.StatusUnprocessableEntity, codeProducerPickupZoneMissing},
	{domain.ErrZoneReferenced, http.StatusConflict, codeZoneReferenced},
	{domain.ErrZonePairConflict, http.StatusConflict, codeZonePairConflict},
	{domain.ErrPalletConfirmed, http.StatusConflict, codePalletConfirmed},
	{domain.ErrPalletNotComplete, http.StatusConflict, codePalletNotComplete},
	{domain.ErrReservationFrozen, http.StatusConflict, codeReservationFrozen},
	{domain.ErrPalletNotOpen, http.StatusConflict, codePalletNotOpen},
	{domain.ErrNotAwaitingApproval, http.StatusConflict, codeNotAwaitingApproval},
}

// writeServiceError maps a service error to its status and code. Unknown
// errors are logged and hidden behind a 500.
func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}
		resp := errorResponse{Error: err.Error(), Code: m.code}
		var ambiguous *domain.AmbiguousZoneMatchError
		if errors.As(err, &ambiguous) {
			resp.ZoneIDs = ambiguous.ZoneIDs
		}
		writeErrorResponse(w, m.status, resp)
		return
	}

	s.log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Error("request failed")
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
