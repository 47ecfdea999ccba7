package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/neighborgigs/backend/internal/broadcast"
	"github.com/neighborgigs/backend/internal/jobs"
	"github.com/neighborgigs/backend/internal/lifecycle"
	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/notify"
)

// SubmitRequestInput is the validated shape of a new paid request.
type SubmitRequestInput struct {
	RequesterID    uuid.UUID
	ErrandType     string
	Title          string
	Items          json.RawMessage
	BasePriceCents int64
	// Deadline zero value means now + the configured default.
	Deadline    time.Time
	BroadcastID *uuid.UUID
}

// SubmitRequest validates the request, creates the task, and moves it
// DRAFT -> PENDING_MATCH, optionally attached to a broadcast window.
func (s *Service) SubmitRequest(ctx context.Context, in SubmitRequestInput) (*models.Task, error) {
	if in.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "required"}
	}
	if in.BasePriceCents < s.Cfg.MinPriceCents || in.BasePriceCents > s.Cfg.MaxPriceCents {
		return nil, &ValidationError{
			Field:  "base_price_cents",
			Reason: fmt.Sprintf("must be within [%d, %d]", s.Cfg.MinPriceCents, s.Cfg.MaxPriceCents),
		}
	}
	if err := s.Validator.ValidateItems(in.ErrandType, in.Items); err != nil {
		return nil, &ValidationError{Field: "items_payload", Reason: err.Error()}
	}

	now := s.Now()
	deadline := in.Deadline
	if deadline.IsZero() {
		deadline = now.Add(s.Cfg.DefaultDeadline)
	}
	if !deadline.After(now) {
		return nil, &ValidationError{Field: "deadline", Reason: "must be in the future"}
	}

	if in.BroadcastID != nil {
		w, err := s.Windows.EnsureAttachable(ctx, *in.BroadcastID)
		if err != nil {
			return nil, err
		}
		if w.HelperID == in.RequesterID {
			return nil, ErrHelperIsRequester
		}
	}

	t := &models.Task{
		ID:             uuid.New(),
		RequesterID:    in.RequesterID,
		ErrandType:     in.ErrandType,
		Title:          in.Title,
		ItemsPayload:   in.Items,
		BasePriceCents: in.BasePriceCents,
		State:          models.TaskStateDraft,
		Deadline:       deadline,
	}
	if err := s.Tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.SubmitTx(ctx, tx, t.ID, in.BroadcastID, deadline)
	if err != nil {
		return nil, fmt.Errorf("submit task: %w", err)
	}
	if !swapped {
		// The task is ours and still DRAFT, so the only guard that can fail
		// here is the in-statement window check: the window closed between
		// the attachability read and this swap.
		if in.BroadcastID != nil {
			return nil, broadcast.ErrWindowClosed
		}
		return nil, s.conflict(ctx, t.ID, models.TaskStatePendingMatch)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateDraft, models.TaskStatePendingMatch, in.RequesterID); err != nil {
		return nil, fmt.Errorf("audit submit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	t.State = models.TaskStatePendingMatch
	t.BroadcastID = in.BroadcastID
	s.publishState(t, models.TaskStateDraft, models.TaskStatePendingMatch)
	if in.BroadcastID != nil && s.Notifier != nil {
		s.Notifier.Publish(notify.Event{
			ID:          uuid.New(),
			Kind:        notify.EventRequestAttached,
			TaskID:      t.ID,
			BroadcastID: in.BroadcastID,
			At:          s.Now(),
		})
	}
	s.Logger.Info("request submitted", "task_id", t.ID, "requester_id", in.RequesterID, "broadcast_id", in.BroadcastID)
	return t, nil
}

// MakeOffer moves PENDING_MATCH -> OFFERED for the candidate helper. The
// first helper to win the compare-and-set gets the offer; everyone else gets
// ErrAlreadyOffered.
func (s *Service) MakeOffer(ctx context.Context, taskID, helperID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if helperID == t.RequesterID {
		return ErrHelperIsRequester
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkOfferedTx(ctx, tx, taskID, helperID)
	if err != nil {
		return fmt.Errorf("mark offered: %w", err)
	}
	if !swapped {
		if cur, err := s.Tasks.GetByID(ctx, taskID); err == nil && cur.State == models.TaskStateOffered {
			return ErrAlreadyOffered
		}
		return s.conflict(ctx, taskID, models.TaskStateOffered)
	}
	if err := s.audit(ctx, tx, taskID, models.TaskStatePendingMatch, models.TaskStateOffered, helperID); err != nil {
		return fmt.Errorf("audit offer: %w", err)
	}
	if s.Cfg.OfferTimeout > 0 {
		if err := s.Enqueue(ctx, tx, jobs.OfferTimeoutArgs{TaskID: taskID, HelperID: helperID}, &river.InsertOpts{
			ScheduledAt: s.Now().Add(s.Cfg.OfferTimeout),
		}); err != nil {
			return fmt.Errorf("enqueue offer timeout: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit offer: %w", err)
	}

	s.publishState(t, models.TaskStatePendingMatch, models.TaskStateOffered)
	s.Logger.Info("offer made", "task_id", taskID, "helper_id", helperID)
	return nil
}

// RespondToOffer resolves an in-flight offer: accept places the payment hold
// and binds the helper; decline returns the task to PENDING_MATCH.
func (s *Service) RespondToOffer(ctx context.Context, taskID, helperID uuid.UUID, accept bool) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State != models.TaskStateOffered {
		return s.conflict(ctx, taskID, models.TaskStateAccepted)
	}
	if t.PendingHelperID == nil || *t.PendingHelperID != helperID {
		return ErrNotHelper
	}

	if !accept {
		return s.revertOffer(ctx, taskID, helperID, helperID)
	}
	return s.acceptOffer(ctx, t, helperID)
}

// acceptOffer authorizes the hold, then swaps OFFERED -> ACCEPTED. If the
// swap loses a race the hold is released before the conflict is reported, so
// the operation never leaves a dangling authorization.
func (s *Service) acceptOffer(ctx context.Context, t *models.Task, helperID uuid.UUID) error {
	requester, err := s.Neighbors.GetByID(ctx, t.RequesterID)
	if err != nil {
		return fmt.Errorf("resolve requester: %w", err)
	}

	holdID, err := s.Processor.Authorize(ctx, t.TotalCents(), requester.PayerRef)
	if err != nil {
		return fmt.Errorf("authorize %d cents: %w", t.TotalCents(), err)
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		s.releaseHold(ctx, holdID, t.ID)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkAcceptedTx(ctx, tx, t.ID, helperID, holdID)
	if err != nil {
		s.releaseHold(ctx, holdID, t.ID)
		return fmt.Errorf("mark accepted: %w", err)
	}
	if !swapped {
		s.releaseHold(ctx, holdID, t.ID)
		return s.conflict(ctx, t.ID, models.TaskStateAccepted)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateOffered, models.TaskStateAccepted, helperID); err != nil {
		s.releaseHold(ctx, holdID, t.ID)
		return fmt.Errorf("audit accept: %w", err)
	}
	if err := s.Payments.CreateTx(ctx, tx, &models.PaymentRecord{
		ID:          uuid.New(),
		TaskID:      t.ID,
		EntryType:   models.PaymentEntryAuthorize,
		AmountCents: t.TotalCents(),
		HoldID:      holdID,
	}); err != nil {
		s.releaseHold(ctx, holdID, t.ID)
		return fmt.Errorf("record authorize: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		s.releaseHold(ctx, holdID, t.ID)
		return fmt.Errorf("commit accept: %w", err)
	}

	s.publishState(t, models.TaskStateOffered, models.TaskStateAccepted)
	s.Logger.Info("offer accepted", "task_id", t.ID, "helper_id", helperID, "hold_id", holdID, "amount_cents", t.TotalCents())
	return nil
}

// releaseHold frees an authorization that lost its transition race.
func (s *Service) releaseHold(ctx context.Context, holdID string, taskID uuid.UUID) {
	if err := s.Processor.Release(ctx, holdID); err != nil {
		s.Logger.Error("release orphaned hold", "task_id", taskID, "hold_id", holdID, "error", err)
	}
}

// revertOffer moves OFFERED -> PENDING_MATCH for decline and timeout paths.
func (s *Service) revertOffer(ctx context.Context, taskID, helperID, actorID uuid.UUID) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.RevertOfferTx(ctx, tx, taskID, helperID)
	if err != nil {
		return fmt.Errorf("revert offer: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, taskID, models.TaskStatePendingMatch)
	}
	if err := s.audit(ctx, tx, taskID, models.TaskStateOffered, models.TaskStatePendingMatch, actorID); err != nil {
		return fmt.Errorf("audit revert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revert: %w", err)
	}

	if t, err := s.Tasks.GetByID(ctx, taskID); err == nil {
		s.publishState(t, models.TaskStateOffered, models.TaskStatePendingMatch)
	}
	return nil
}

// TimeoutOffer is the offer-timeout job's entry point. A task that already
// left OFFERED, or whose pending helper changed, makes this a no-op.
func (s *Service) TimeoutOffer(ctx context.Context, taskID, helperID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State != models.TaskStateOffered || t.PendingHelperID == nil || *t.PendingHelperID != helperID {
		return nil
	}
	err = s.revertOffer(ctx, taskID, helperID, uuid.Nil)
	if err != nil {
		var conflict *lifecycle.StateConflictError
		if errors.As(err, &conflict) {
			// Lost to a live accept or decline.
			return nil
		}
	}
	return err
}

// DirectAccept lets the broadcast owner take an attached request without a
// separate offer round-trip: the offer and the acceptance run back to back,
// and both edges land in the audit trail.
func (s *Service) DirectAccept(ctx context.Context, taskID, helperID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.BroadcastID == nil {
		return ErrNotHelper
	}
	w, err := s.Windows.EnsureAttachable(ctx, *t.BroadcastID)
	if err != nil {
		return err
	}
	if w.HelperID != helperID {
		return ErrNotHelper
	}
	if err := s.MakeOffer(ctx, taskID, helperID); err != nil {
		return err
	}
	return s.RespondToOffer(ctx, taskID, helperID, true)
}

// CheckIn marks the helper as underway: ACCEPTED -> IN_PROGRESS.
func (s *Service) CheckIn(ctx context.Context, taskID, helperID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.HelperID == nil || *t.HelperID != helperID {
		return ErrNotHelper
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkInProgressTx(ctx, tx, taskID)
	if err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, taskID, models.TaskStateInProgress)
	}
	if err := s.audit(ctx, tx, taskID, models.TaskStateAccepted, models.TaskStateInProgress, helperID); err != nil {
		return fmt.Errorf("audit check-in: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit check-in: %w", err)
	}

	s.publishState(t, models.TaskStateAccepted, models.TaskStateInProgress)
	return nil
}
