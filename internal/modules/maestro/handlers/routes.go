package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the run routes. The approval handler shares the
// /runs/{id} prefix, so nothing here is mounted as a subrouter.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/runs", h.HandleStartRun)
	r.Get("/runs", h.HandleListRuns)
	r.Get("/runs/{id}", h.HandleGetRun)
	r.Delete("/runs/{id}", h.HandleDeleteRun)
	r.Post("/runs/{id}/resume", h.HandleResumeRun)
	r.Post("/runs/{id}/cancel", h.HandleCancelRun)
}
