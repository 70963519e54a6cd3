package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hublink/internal/mirror"
)

// setStateRequest is the body of POST /api/entities/{entity_id}/state.
type setStateRequest struct {
	State      *string        `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// handleListEntities returns the mirrored entities, optionally for one domain.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	states := s.entities.All(domain)

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": states,
		"count":    len(states),
		"synced":   s.entities.Synced(),
	})
}

// handleGetEntity returns one mirrored entity.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")

	state, err := s.entities.Get(entityID)
	if err != nil {
		if errors.Is(err, mirror.ErrNotFound) || errors.Is(err, mirror.ErrEntityID) {
			writeNotFound(w, "entity not found: "+entityID)
			return
		}
		writeInternalError(w, "failed to read entity")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleEntityHistory returns recorded states for one entity, newest first.
//
// Query parameters: since (RFC 3339) and limit.
func (s *Server) handleEntityHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history is not enabled")
		return
	}

	entityID := chi.URLParam(r, "entity_id")
	q := r.URL.Query()

	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		since = t
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), entityID, since, limit)
	if err != nil {
		if errors.Is(err, mirror.ErrEntityID) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("history query failed", "entity_id", entityID, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": entityID,
		"history":   entries,
		"count":     len(entries),
	})
}

// handleSetEntityState injects a state through the hub REST API.
func (s *Server) handleSetEntityState(w http.ResponseWriter, r *http.Request) {
	if s.states == nil {
		writeUnavailable(w, "state injection is not enabled")
		return
	}

	entityID := chi.URLParam(r, "entity_id")
	if !validEntityID(entityID) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "entity id must look like domain.object_id")
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.State == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "state is required")
		return
	}

	created, err := s.states.SetState(r.Context(), entityID, *req.State, req.Attributes)
	if err != nil {
		s.logger.Warn("state injection failed", "entity_id", entityID, "error", err)
		writeHubError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"entity_id": entityID,
		"state":     *req.State,
		"created":   created,
	})
}

// validEntityID reports whether id has a non-empty domain and object id.
func validEntityID(id string) bool {
	domain, object, ok := strings.Cut(id, ".")
	return ok && domain != "" && object != ""
}
