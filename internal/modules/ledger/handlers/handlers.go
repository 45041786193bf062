// Package handlers provides read-only HTTP handlers over the run ledger:
// stage executions and the artifacts each stage recorded.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/ledger"
	"github.com/aristath/maestro/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles ledger HTTP requests
type Handler struct {
	repo *ledger.Repository
	log  zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(
	repo *ledger.Repository,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetRuns handles GET /api/ledger/runs
func (h *Handler) HandleGetRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
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

// HandleGetExecutions handles GET /api/ledger/runs/{id}/executions
func (h *Handler) HandleGetExecutions(w http.ResponseWriter, r *http.Request) {
	state, err := h.repo.GetRunState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, state, h.log)
}

// HandleGetDirectives handles GET /api/ledger/runs/{id}/directives
func (h *Handler) HandleGetDirectives(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireRun(w, r)
	if !ok {
		return
	}
	directives, err := h.repo.Directives(r.Context(), runID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if directives == nil {
		directives = []domain.Directive{}
	}
	utils.WriteData(w, http.StatusOK, directives, h.log)
}

// HandleGetSeries handles GET /api/ledger/runs/{id}/series.
// Bars are omitted unless ?bars=true.
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireRun(w, r)
	if !ok {
		return
	}
	series, err := h.repo.MarketSeries(r.Context(), runID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	withBars := r.URL.Query().Get("bars") == "true"
	out := make(map[string]domain.MarketSeries, len(series))
	for code, s := range series {
		if !withBars {
			s.Bars = nil
		}
		out[code] = s
	}
	utils.WriteData(w, http.StatusOK, out, h.log)
}

// HandleGetScores handles GET /api/ledger/runs/{id}/scores
func (h *Handler) HandleGetScores(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireRun(w, r)
	if !ok {
		return
	}
	scores, err := h.repo.SignalScores(r.Context(), runID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteData(w, http.StatusOK, scores, h.log)
}

// HandleGetRecommendations handles GET /api/ledger/runs/{id}/recommendations.
// ?status=approved,modified filters by review status.
func (h *Handler) HandleGetRecommendations(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.requireRun(w, r)
	if !ok {
		return
	}
	recs, err := h.repo.Recommendations(r.Context(), runID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	statuses := utils.SplitList(r.URL.Query().Get("status"))
	filtered := make([]domain.Recommendation, 0, len(recs))
	for _, rec := range recs {
		if len(statuses) == 0 || containsStatus(statuses, rec.Status) {
			filtered = append(filtered, rec)
		}
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"recommendations": filtered,
		"count":           len(filtered),
	}, h.log)
}

// HandleGetSummary handles GET /api/ledger/summary
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	runs, err := h.countBy(r, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	recs, err := h.countBy(r, "SELECT status, COUNT(*) FROM recommendations GROUP BY status")
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"runs_by_status":            runs,
		"recommendations_by_status": recs,
	}, h.log)
}

func (h *Handler) countBy(r *http.Request, query string) (map[string]int, error) {
	rows, err := h.repo.DB().QueryContext(r.Context(), query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// requireRun resolves the {id} param to an existing run, writing 404 otherwise
func (h *Handler) requireRun(w http.ResponseWriter, r *http.Request) (string, bool) {
	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return "", false
	}
	return run.ID, true
}

func containsStatus(statuses []string, status domain.RecommendationStatus) bool {
	for _, s := range statuses {
		if domain.RecommendationStatus(s) == status {
			return true
		}
	}
	return false
}
