package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/maestro/internal/domain"
	"github.com/rs/zerolog"
)

// WriteJSON writes data as the response body
func WriteJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteData wraps data in the {"data": ..., "metadata": {...}} envelope
func WriteData(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	WriteJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}, log)
}

// StatusForError maps domain errors to HTTP status codes
func StatusForError(err error) int {
	var (
		concurrent   *domain.ConcurrentRunError
		integrity    *domain.DataIntegrityError
		decided      *domain.AlreadyDecidedError
		stale        *domain.StaleRunError
		notResumable *domain.NotResumableError
		transition   *domain.InvalidTransitionError
		validation   domain.ValidationErrors
	)
	switch {
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrRecommendationNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.As(err, &concurrent),
		errors.As(err, &decided),
		errors.As(err, &notResumable),
		errors.As(err, &transition),
		errors.Is(err, domain.ErrRunRetained):
		return http.StatusConflict
	case errors.As(err, &stale):
		return http.StatusGone
	case errors.As(err, &integrity), errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusForError assigns it.
// Data integrity errors include the individual violations.
func WriteError(w http.ResponseWriter, err error, log zerolog.Logger) {
	status := StatusForError(err)
	body := map[string]interface{}{"error": err.Error()}

	var integrity *domain.DataIntegrityError
	if errors.As(err, &integrity) {
		violations := make([]map[string]string, len(integrity.Violations))
		for i, v := range integrity.Violations {
			violations[i] = map[string]string{"field": v.Field, "message": v.Message}
		}
		body["violations"] = violations
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
		body["error"] = "internal error"
	}
	WriteJSON(w, status, body, log)
}
