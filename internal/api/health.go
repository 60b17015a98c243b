package api

import (
	"context"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.Version,
		"time":    time.Now().UTC(),
	})
}

// handleReady pings every dependency and answers 503 when any of them fails.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(s.Checks))
	for _, c := range s.Checks {
		if err := c.Ping(ctx); err != nil {
			checks[c.Name] = err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	respondJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}
