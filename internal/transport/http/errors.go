package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cimillas/ultimate-ticket/services/reservations/internal/domain"
)

const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeNotFound             = "not_found"
	codeNotReady             = "not_ready"
	codeInvalidRequestBody   = "invalid_request_body"
	codeMissingRequiredField = "missing_required_field"
	codeUserIDRequired       = "user_id_required"
	codeInvalidStartsAt      = "invalid_starts_at"
	codeInvalidLimit         = "invalid_limit"
	codeInvalidID            = "invalid_id"
	codeEventNameRequired    = "event_name_required"
	codeZoneNameRequired     = "zone_name_required"
	codeInvalidQuantity      = "invalid_quantity"
	codeInvalidCapacity      = "invalid_capacity"
	codeInvalidTTL           = "invalid_ttl"
	codeAdminRequired        = "admin_required"
	codeCartNotFound         = "cart_not_found"
	codeCartEmpty            = "cart_empty"
	codeCapacityExceeded     = "capacity_exceeded"
	codeContention           = "contention"
	codeSettingsUnavailable  = "settings_unavailable"
	codeZoneNotFound         = "zone_not_found"
	codeEventNotFound        = "event_not_found"
	codeZoneAlreadyExists    = "zone_already_exists"
	codeHoldNotFound         = "hold_not_found"
	codeInvalidTransition    = "invalid_transition"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrCartEmpty, http.StatusBadRequest, codeCartEmpty},
	{domain.ErrInvalidTTL, http.StatusBadRequest, codeInvalidTTL},
	{domain.ErrAdminRequired, http.StatusBadRequest, codeAdminRequired},
	{domain.ErrEventNameRequired, http.StatusBadRequest, codeEventNameRequired},
	{domain.ErrZoneNameRequired, http.StatusBadRequest, codeZoneNameRequired},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrCartNotFound, http.StatusNotFound, codeCartNotFound},
	{domain.ErrZoneNotFound, http.StatusNotFound, codeZoneNotFound},
	{domain.ErrEventNotFound, http.StatusNotFound, codeEventNotFound},
	{domain.ErrHoldNotFound, http.StatusNotFound, codeHoldNotFound},
	{domain.ErrCapacityExceeded, http.StatusConflict, codeCapacityExceeded},
	{domain.ErrZoneAlreadyExists, http.StatusConflict, codeZoneAlreadyExists},
	{domain.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition},
	{domain.ErrContention, http.StatusServiceUnavailable, codeContention},
	{domain.ErrStaleSettings, http.StatusServiceUnavailable, codeSettingsUnavailable},
}

// writeDomainError maps service errors onto the JSON error envelope.
// Anything unrecognized is reported as an opaque 500.
func writeDomainError(w http.ResponseWriter, err error) {
	for _, de := range domainErrors {
		if !errors.Is(err, de.err) {
			continue
		}
		if de.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, de.status, de.code, de.err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
