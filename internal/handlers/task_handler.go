package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/coordinator"
	"github.com/neighborgigs/backend/internal/middleware"
	"github.com/neighborgigs/backend/internal/models"
)

// Coordinator is the slice of the lifecycle coordinator the task API needs.
type Coordinator interface {
	SubmitRequest(ctx context.Context, in coordinator.SubmitRequestInput) (*models.Task, error)
	MakeOffer(ctx context.Context, taskID, helperID uuid.UUID) error
	RespondToOffer(ctx context.Context, taskID, helperID uuid.UUID, accept bool) error
	DirectAccept(ctx context.Context, taskID, helperID uuid.UUID) error
	CheckIn(ctx context.Context, taskID, helperID uuid.UUID) error
	SubmitProof(ctx context.Context, taskID, actorID uuid.UUID, proofRef string) error
	AddTip(ctx context.Context, taskID, actorID uuid.UUID, tipCents int64) error
	Confirm(ctx context.Context, taskID, actorID uuid.UUID) error
	Dispute(ctx context.Context, taskID, actorID uuid.UUID, reason string) error
	ResolveDispute(ctx context.Context, taskID, actorID uuid.UUID, resolution string) error
	Cancel(ctx context.Context, taskID, actorID uuid.UUID) error
	CancelWithRelease(ctx context.Context, taskID, actorID uuid.UUID) error
}

// TaskReader is the read side of the task store used by GET endpoints.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*models.Task, error)
	ListOpen(ctx context.Context) ([]*models.Task, error)
}

// TransitionReader lists a task's audit trail.
type TransitionReader interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TaskTransition, error)
}

// PaymentReader lists a task's ledger rows.
type PaymentReader interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.PaymentRecord, error)
}

// TaskHandler serves /v1/tasks endpoints.
type TaskHandler struct {
	Coord       Coordinator
	Tasks       TaskReader
	Transitions TransitionReader
	Payments    PaymentReader
	Logger      *slog.Logger
}

// --- POST /v1/tasks ---

type submitTaskRequest struct {
	ErrandType     string          `json:"errand_type"`
	Title          string          `json:"title"`
	ItemsPayload   json.RawMessage `json:"items_payload"`
	BasePriceCents int64           `json:"base_price_cents"`
	Deadline       *time.Time      `json:"deadline"`
	BroadcastID    *uuid.UUID      `json:"broadcast_id"`
}

// SubmitTask handles POST /v1/tasks: a neighbor posts a paid request, either
// standalone or attached to an active broadcast window.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	in := coordinator.SubmitRequestInput{
		RequesterID:    actor,
		ErrandType:     req.ErrandType,
		Title:          req.Title,
		Items:          req.ItemsPayload,
		BasePriceCents: req.BasePriceCents,
		BroadcastID:    req.BroadcastID,
	}
	if req.Deadline != nil {
		in.Deadline = *req.Deadline
	}

	task, err := h.Coord.SubmitRequest(r.Context(), in)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// --- GET /v1/tasks, GET /v1/tasks/{id} ---

// ListTasks handles GET /v1/tasks. With ?feed=open it returns the open
// request feed any helper can browse; otherwise the caller's own requests.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	actor := middleware.ActorFromCtx(r.Context())
	if actor == uuid.Nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var (
		tasks []*models.Task
		err   error
	)
	if r.URL.Query().Get("feed") == "open" {
		tasks, err = h.Tasks.ListOpen(r.Context())
	} else {
		tasks, err = h.Tasks.ListByRequester(r.Context(), actor)
	}
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// GetTransitions handles GET /v1/tasks/{id}/transitions: the audit trail.
func (h *TaskHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	trs, err := h.Transitions.ListByTask(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("list transitions", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if trs == nil {
		trs = []*models.TaskTransition{}
	}
	writeJSON(w, http.StatusOK, trs)
}

// GetPayments handles GET /v1/tasks/{id}/payments: the ledger, oldest first.
func (h *TaskHandler) GetPayments(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	recs, err := h.Payments.ListByTask(r.Context(), taskID)
	if err != nil {
		h.Logger.Error("list payments", "task_id", taskID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*models.PaymentRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- state-changing actions ---

// actionFunc runs one coordinator call for the authenticated actor.
type actionFunc func(ctx context.Context, taskID, actorID uuid.UUID) error

func (h *TaskHandler) action(w http.ResponseWriter, r *http.Request, fn actionFunc) {
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
	if err := fn(r.Context(), taskID, actor); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	task, err := h.Tasks.GetByID(r.Context(), taskID)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// MakeOffer handles POST /v1/tasks/{id}/offer: a helper volunteers.
func (h *TaskHandler) MakeOffer(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Coord.MakeOffer)
}

type respondRequest struct {
	Accept bool `json:"accept"`
}

// RespondToOffer handles POST /v1/tasks/{id}/respond: the requester accepts
// or declines the in-flight offer.
func (h *TaskHandler) RespondToOffer(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.action(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		return h.Coord.RespondToOffer(ctx, taskID, actorID, req.Accept)
	})
}

// DirectAccept handles POST /v1/tasks/{id}/direct-accept: a broadcast owner
// takes a request attached to their own window without the offer round-trip.
func (h *TaskHandler) DirectAccept(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Coord.DirectAccept)
}

// CheckIn handles POST /v1/tasks/{id}/checkin: the helper starts the errand.
func (h *TaskHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Coord.CheckIn)
}

type proofRequest struct {
	ProofRef string `json:"proof_ref"`
}

// SubmitProof handles POST /v1/tasks/{id}/proof: the helper marks the errand
// done with a proof reference.
func (h *TaskHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.action(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		return h.Coord.SubmitProof(ctx, taskID, actorID, req.ProofRef)
	})
}

type tipRequest struct {
	TipCents int64 `json:"tip_cents"`
}

// AddTip handles POST /v1/tasks/{id}/tip: the requester adds a tip while the
// task awaits confirmation.
func (h *TaskHandler) AddTip(w http.ResponseWriter, r *http.Request) {
	var req tipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.action(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		return h.Coord.AddTip(ctx, taskID, actorID, req.TipCents)
	})
}

// Confirm handles POST /v1/tasks/{id}/confirm: the requester accepts the
// completed work, which queues capture.
func (h *TaskHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Coord.Confirm)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// Dispute handles POST /v1/tasks/{id}/dispute.
func (h *TaskHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.action(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		return h.Coord.Dispute(ctx, taskID, actorID, req.Reason)
	})
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveDispute handles POST /v1/tasks/{id}/resolve.
func (h *TaskHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.action(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		return h.Coord.ResolveDispute(ctx, taskID, actorID, req.Resolution)
	})
}

type cancelRequest struct {
	ReleaseHold bool `json:"release_hold"`
}

// Cancel handles POST /v1/tasks/{id}/cancel. A plain cancel only works before
// a helper's money is held; once it is, the caller must opt into the
// compensation path with release_hold, and a plain cancel comes back as a
// state conflict. The body may be empty.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	h.action(w, r, func(ctx context.Context, taskID, actorID uuid.UUID) error {
		if req.ReleaseHold {
			return h.Coord.CancelWithRelease(ctx, taskID, actorID)
		}
		return h.Coord.Cancel(ctx, taskID, actorID)
	})
}
