package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/coordinator"
	"github.com/neighborgigs/backend/internal/middleware"
	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/services"
)

// MessageStore is task-scoped chat persistence.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Message, error)
}

// ReviewStore persists post-payment reviews.
type ReviewStore interface {
	Create(ctx context.Context, rv *models.Review) error
	ListByReviewee(ctx context.Context, revieweeID uuid.UUID) ([]*models.Review, error)
}

// PointsAwarder credits the reviewee's ladder points for a strong rating.
type PointsAwarder interface {
	AddPoints(ctx context.Context, id uuid.UUID, points int) error
}

// MessageHandler serves task chat and reviews.
type MessageHandler struct {
	Tasks     TaskReader
	Messages  MessageStore
	Reviews   ReviewStore
	Neighbors PointsAwarder
	Logger    *slog.Logger
}

// party reports whether the actor is the task's requester or its helper.
func party(t *models.Task, actor uuid.UUID) bool {
	if t.RequesterID == actor {
		return true
	}
	return t.HelperID != nil && *t.HelperID == actor
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

// SendMessage handles POST /v1/tasks/{id}/messages. Chat is open to the two
// parties from offer through payment.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		http.Error(w, `{"error":"body is required"}`, http.StatusBadRequest)
		return
	}

	t, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	if !party(t, actor) {
		writeCoordinatorError(w, coordinator.ErrNotParty)
		return
	}

	m := &models.Message{
		ID:       uuid.New(),
		TaskID:   taskID,
		SenderID: actor,
		Body:     req.Body,
	}
	if err := h.Messages.Create(r.Context(), m); err != nil {
		h.Logger.Error("create message", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMessages handles GET /v1/tasks/{id}/messages.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	t, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	if !party(t, actor) {
		writeCoordinatorError(w, coordinator.ErrNotParty)
		return
	}

	msgs, err := h.Messages.ListByTask(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("list messages", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type leaveReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// LeaveReview handles POST /v1/tasks/{id}/reviews. Either party may review
// the other once the task is PAID; a rating of 4 or 5 credits the reviewee's
// ladder points.
func (h *MessageHandler) LeaveReview(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	var req leaveReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		http.Error(w, `{"error":"rating must be 1-5"}`, http.StatusBadRequest)
		return
	}

	t, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	if !party(t, actor) {
		writeCoordinatorError(w, coordinator.ErrNotParty)
		return
	}
	if t.State != models.TaskStatePaid {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "task is not paid out yet", "current_state": t.State})
		return
	}

	reviewee := t.RequesterID
	if actor == t.RequesterID {
		reviewee = *t.HelperID
	}

	rv := &models.Review{
		ID:         uuid.New(),
		TaskID:     taskID,
		ReviewerID: actor,
		RevieweeID: reviewee,
		Rating:     req.Rating,
		Comment:    req.Comment,
	}
	if err := h.Reviews.Create(r.Context(), rv); err != nil {
		h.Logger.Error("create review", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	if req.Rating >= 4 {
		if err := h.Neighbors.AddPoints(r.Context(), reviewee, services.PointsRatingBonus); err != nil {
			h.Logger.Error("rating bonus", "neighbor_id", reviewee, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, rv)
}

// ListReviews handles GET /v1/neighbors/{id}/reviews: a neighbor's public
// review history.
func (h *MessageHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid neighbor id"}`, http.StatusBadRequest)
		return
	}
	reviews, err := h.Reviews.ListByReviewee(r.Context(), id)
	if err != nil {
		h.Logger.Error("list reviews", "neighbor_id", id, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if reviews == nil {
		reviews = []*models.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}
