package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/summary", h.HandleGetSummary)

		r.Get("/runs", h.HandleGetRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/executions", h.HandleGetExecutions)
			r.Get("/directives", h.HandleGetDirectives)
			r.Get("/series", h.HandleGetSeries)
			r.Get("/scores", h.HandleGetScores)
			r.Get("/recommendations", h.HandleGetRecommendations)
		})
	})
}
