package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/services"
)

// NeighborReader resolves neighbor profiles.
type NeighborReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Neighbor, error)
}

// NeighborHandler serves public neighbor profiles.
type NeighborHandler struct {
	Neighbors NeighborReader
	Logger    *slog.Logger
}

type neighborProfile struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Points     int       `json:"points"`
	Level      int       `json:"level"`
	LevelTitle string    `json:"level_title"`
}

// GetNeighbor handles GET /v1/neighbors/{id}: points and ladder level.
func (h *NeighborHandler) GetNeighbor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid neighbor id"}`, http.StatusBadRequest)
		return
	}
	n, err := h.Neighbors.GetByID(r.Context(), id)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	lvl := services.LevelFor(n.Points)
	writeJSON(w, http.StatusOK, neighborProfile{
		ID:         n.ID,
		Name:       n.DisplayName,
		Points:     n.Points,
		Level:      lvl.Level,
		LevelTitle: lvl.Title,
	})
}
