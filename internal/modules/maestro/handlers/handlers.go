// Package handlers provides HTTP handlers for starting and following pipeline runs.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// RunService is the orchestrator surface exposed over HTTP
type RunService interface {
	StartRun(ctx context.Context, marketView string) (*domain.Run, error)
	ResumeRun(ctx context.Context, runID string) (*domain.Run, error)
	CancelRun(ctx context.Context, runID string) error
	GetRunState(ctx context.Context, runID string) (*domain.RunState, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Handler handles run requests
type Handler struct {
	service RunService
	log     zerolog.Logger
}

// NewHandler creates a new run handler
func NewHandler(service RunService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "runs").Logger(),
	}
}

type startRunRequest struct {
	MarketView string `json:"market_view"`
}

// HandleStartRun handles POST /api/runs. The run executes in the background;
// poll GET /api/runs/{id} for progress.
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"}, h.log)
		return
	}
	if strings.TrimSpace(req.MarketView) == "" {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "market_view is required"}, h.log)
		return
	}

	run, err := h.service.StartRun(r.Context(), req.MarketView)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusAccepted, run, h.log)
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}
	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	}, h.log)
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.GetRunState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, state, h.log)
}

// HandleResumeRun handles POST /api/runs/{id}/resume
func (h *Handler) HandleResumeRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.ResumeRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusAccepted, run, h.log)
}

// HandleCancelRun handles POST /api/runs/{id}/cancel
func (h *Handler) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.CancelRun(r.Context(), id); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	state, err := h.service.GetRunState(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, state.Run, h.log)
}

// HandleDeleteRun handles DELETE /api/runs/{id}
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
