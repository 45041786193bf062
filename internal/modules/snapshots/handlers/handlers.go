// Package handlers provides HTTP handlers for portfolio snapshot operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/aristath/maestro/internal/domain"
	"github.com/aristath/maestro/internal/modules/snapshots"
	"github.com/aristath/maestro/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SnapshotService is the subset of the snapshot store the handlers use
type SnapshotService interface {
	Get(ctx context.Context, id string) (*domain.Snapshot, error)
	Load(ctx context.Context, clientSource, holdingsSource snapshots.Source) ([]domain.Client, []domain.Holding, error)
}

// Handler handles snapshot HTTP requests
type Handler struct {
	service SnapshotService
	log     zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(service SnapshotService, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "snapshots").Logger(),
	}
}

// HandleGetSnapshot handles GET /api/snapshots/{id}
func (h *Handler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.service.Get(r.Context(), id)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, snap, h.log)
}

// HandleGetExposure handles GET /api/snapshots/{id}/clients/{clientID}/exposure
func (h *Handler) HandleGetExposure(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	clientID := chi.URLParam(r, "clientID")
	client, ok := snap.Client(clientID)
	if !ok {
		utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "client not found in snapshot"}, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"client":          client,
		"holdings":        snap.HoldingsFor(clientID),
		"sector_exposure": snap.SectorExposure(clientID),
	}, h.log)
}

type validateRequest struct {
	ClientsCSV  string `json:"clients_csv"`
	HoldingsCSV string `json:"holdings_csv"`
}

// HandleValidate handles POST /api/snapshots/validate. The request carries
// both CSV bodies inline; nothing is stored.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"}, h.log)
		return
	}

	clients, holdings, err := h.service.Load(r.Context(),
		snapshots.StaticSource{Label: "clients_csv", Content: req.ClientsCSV},
		snapshots.StaticSource{Label: "holdings_csv", Content: req.HoldingsCSV},
	)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteData(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"clients":  len(clients),
		"holdings": len(holdings),
	}, h.log)
}
