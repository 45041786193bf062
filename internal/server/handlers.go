package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/maestro/internal/database"
	"github.com/aristath/maestro/internal/utils"
)

// handleHealth reports whether both databases answer
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "maestro",
	}
	for _, db := range []*database.DB{s.container.LedgerDB, s.container.CacheDB} {
		if err := db.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check failed")
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			response["error"] = err.Error()
			break
		}
	}

	utils.WriteJSON(w, status, response, s.log)
}
