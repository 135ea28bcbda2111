package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports healthy while the results database answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	if db := s.systemHandlers.db; db != nil {
		if err := db.Conn().PingContext(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Health check failed")
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "alphashield",
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
