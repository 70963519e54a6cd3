package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/hublink/internal/hub/correlator"
	"github.com/nerrad567/hublink/internal/hub/rest"
	"github.com/nerrad567/hublink/internal/hub/session"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeHubError       = "hub_error"
	ErrCodeHubTimeout     = "hub_timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable writes a 503 error response for a missing component.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeHubError maps a failed hub request to a response.
//
//	timeout / no response  -> 504
//	session closed         -> 503
//	hub rejected / non-2xx -> 502
func writeHubError(w http.ResponseWriter, err error) {
	var hubErr *correlator.HubError
	var statusErr *rest.StatusError

	switch {
	case errors.Is(err, session.ErrRequestTimeout),
		errors.Is(err, correlator.ErrNoResponse),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeHubTimeout, err.Error())
	case errors.Is(err, session.ErrClosed):
		writeUnavailable(w, err.Error())
	case errors.As(err, &hubErr):
		writeError(w, http.StatusBadGateway, ErrCodeHubError, hubErr.Code+": "+hubErr.Message)
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, ErrCodeHubError, statusErr.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeHubError, err.Error())
	}
}
