// Package handlers provides HTTP handlers for reviewing and exporting recommendations.
package handlers

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"strconv"

	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/approval"
	"github.com/aristath/maestro/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ReviewService is the approval gateway the handlers drive
type ReviewService interface {
	ListPending(ctx context.Context, runID string) iter.Seq2[domain.Recommendation, error]
	Get(ctx context.Context, recID string) (*domain.Recommendation, error)
	Decide(ctx context.Context, recID string, d domain.Decision) (*domain.Recommendation, error)
	ExportApproved(ctx context.Context, runID string) ([]domain.Recommendation, error)
}

// Handler handles recommendation review requests
type Handler struct {
	service ReviewService
	log     zerolog.Logger
}

// NewHandler creates a new approval handler
func NewHandler(service ReviewService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "approval").Logger(),
	}
}

// HandleGetPending handles GET /api/runs/{id}/recommendations/pending.
// ?limit=N returns at most N drafts.
func (h *Handler) HandleGetPending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	pending := []domain.Recommendation{}
	for rec, err := range h.service.ListPending(r.Context(), chi.URLParam(r, "id")) {
		if err != nil {
			utils.WriteError(w, err, h.log)
			return
		}
		pending = append(pending, rec)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"recommendations": pending,
		"count":           len(pending),
	}, h.log)
}

// HandleGetRecommendation handles GET /api/recommendations/{id}
func (h *Handler) HandleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, rec, h.log)
}

// HandleDecide handles POST /api/recommendations/{id}/decision
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var decision domain.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"}, h.log)
		return
	}

	rec, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), decision)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, rec, h.log)
}

// HandleExport handles POST /api/runs/{id}/recommendations/export.
// ?format=csv streams the export as CSV instead of JSON.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	recs, err := h.service.ExportApproved(r.Context(), runID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=\"recommendations-"+runID+".csv\"")
		w.WriteHeader(http.StatusOK)
		if err := approval.WriteCSV(w, recs); err != nil {
			h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to write CSV export")
		}
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	}, h.log)
}
