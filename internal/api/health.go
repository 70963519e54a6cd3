package api

import "net/http"

// handleHealth reports the hub link and component statistics.
//
// The status is "ok" once the session is authenticated, the hub is running
// and the mirror holds a snapshot; otherwise it is "degraded" and the
// response code is 503, so container health checks can use it directly.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	authenticated, running := true, true
	if s.session != nil {
		authenticated = s.session.IsAuthenticated()
		running = s.session.IsHubRunning()
	}
	synced := s.entities.Synced()

	status, code := "ok", http.StatusOK
	if !authenticated || !running || !synced {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	components := map[string]any{
		"mirror":    s.entities.Stats(),
		"websocket": map[string]int{"clients": s.hub.ClientCount()},
	}
	for name, stats := range s.components {
		components[name] = stats()
	}

	writeJSON(w, code, map[string]any{
		"status":        status,
		"version":       s.version,
		"authenticated": authenticated,
		"hub_running":   running,
		"synced":        synced,
		"components":    components,
	})
}
