package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/snapshots", func(r chi.Router) {
		r.Post("/validate", h.HandleValidate)
		r.Get("/{id}", h.HandleGetSnapshot)
		r.Get("/{id}/clients/{clientID}/exposure", h.HandleGetExposure)
	})
}
