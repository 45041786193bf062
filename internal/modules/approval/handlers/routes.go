package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the review routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runs/{id}/recommendations/pending", h.HandleGetPending)
	r.Post("/runs/{id}/recommendations/export", h.HandleExport)

	r.Get("/recommendations/{id}", h.HandleGetRecommendation)
	r.Post("/recommendations/{id}/decision", h.HandleDecide)
}
