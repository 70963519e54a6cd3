package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// serviceCallTimeout bounds a forwarded service call, including the wait
// for the session to authenticate.
const serviceCallTimeout = 30 * time.Second

// handleCallService forwards a service call to the hub.
//
// The body, when present, is a JSON object used as service_data.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	if s.services == nil {
		writeUnavailable(w, "service calls are not enabled")
		return
	}
	if s.session != nil && !s.session.IsAuthenticated() {
		writeUnavailable(w, "hub session is not connected")
		return
	}

	domain := chi.URLParam(r, "domain")
	service := chi.URLParam(r, "service")

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "body must be a JSON object")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), serviceCallTimeout)
	defer cancel()

	result, err := s.services.CallService(ctx, domain, service, data)
	if err != nil {
		s.logger.Warn("service call failed", "domain", domain, "service", service, "error", err)
		writeHubError(w, err)
		return
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain":  domain,
		"service": service,
		"result":  result,
	})
}
