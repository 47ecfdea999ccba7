package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/broadcast"
	"github.com/neighborgigs/backend/internal/middleware"
	"github.com/neighborgigs/backend/internal/models"
)

// WindowManager is the broadcast lifecycle surface the handler needs.
type WindowManager interface {
	Open(ctx context.Context, helperID uuid.UUID, errandType, note string, radiusMiles float64, leavingAt, expiresAt time.Time) (*models.BroadcastWindow, error)
	Close(ctx context.Context, id, actorID uuid.UUID, reason string) error
}

// WindowReader is the read side of broadcast storage.
type WindowReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastWindow, error)
	ListActive(ctx context.Context) ([]*models.BroadcastWindow, error)
}

// BroadcastTaskLister lists requests attached to a window.
type BroadcastTaskLister interface {
	ListByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]*models.Task, error)
}

// BroadcastHandler serves /v1/broadcasts endpoints.
type BroadcastHandler struct {
	Windows WindowManager
	Store   WindowReader
	Tasks   BroadcastTaskLister
	Logger  *slog.Logger
	// DefaultExpiry caps a window whose request omits expires_at.
	DefaultExpiry time.Duration
}

type openBroadcastRequest struct {
	ErrandType  string     `json:"errand_type"`
	Note        string     `json:"note"`
	RadiusMiles float64    `json:"radius_miles"`
	LeavingAt   time.Time  `json:"leaving_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// OpenBroadcast handles POST /v1/broadcasts: a helper announces an errand
// window neighbors can attach requests to.
func (h *BroadcastHandler) OpenBroadcast(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req openBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	expiresAt := req.LeavingAt.Add(h.DefaultExpiry)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	win, err := h.Windows.Open(r.Context(), actor, req.ErrandType, req.Note, req.RadiusMiles, req.LeavingAt, expiresAt)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, win)
}

// ListBroadcasts handles GET /v1/broadcasts: the active windows feed.
func (h *BroadcastHandler) ListBroadcasts(w http.ResponseWriter, r *http.Request) {
	wins, err := h.Store.ListActive(r.Context())
	if err != nil {
		h.Logger.Error("list broadcasts", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if wins == nil {
		wins = []*models.BroadcastWindow{}
	}
	writeJSON(w, http.StatusOK, wins)
}

// GetBroadcast handles GET /v1/broadcasts/{id}.
func (h *BroadcastHandler) GetBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid broadcast id"}`, http.StatusBadRequest)
		return
	}
	win, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// ListBroadcastTasks handles GET /v1/broadcasts/{id}/tasks: the requests
// attached to a window, visible to its helper.
func (h *BroadcastHandler) ListBroadcastTasks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid broadcast id"}`, http.StatusBadRequest)
		return
	}
	tasks, err := h.Tasks.ListByBroadcast(r.Context(), id)
	if err != nil {
		h.Logger.Error("list broadcast tasks", "broadcast_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CloseBroadcast handles POST /v1/broadcasts/{id}/close: the helper ends
// their window early. Unaccepted attached requests fall back to the open feed.
func (h *BroadcastHandler) CloseBroadcast(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid broadcast id"}`, http.StatusBadRequest)
		return
	}
	if err := h.Windows.Close(r.Context(), id, actor, broadcast.CloseManual); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	win, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}
