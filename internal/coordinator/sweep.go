package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/models"
)

// ExpireOverdue expires every matchable task whose deadline passed without a
// confirmed outcome: PENDING_MATCH, OFFERED, and ACCEPTED. An expired
// ACCEPTED task gets its hold released. Each task is swapped individually
// under the same compare-and-set as live transitions, so the sweep cannot
// race a concurrent accept.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time) error {
	overdue, err := s.Tasks.ListPastDeadline(ctx, now)
	if err != nil {
		return fmt.Errorf("list overdue tasks: %w", err)
	}
	for _, t := range overdue {
		if err := s.expireTask(ctx, t); err != nil {
			s.Logger.Error("expire task", "task_id", t.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) expireTask(ctx context.Context, t *models.Task) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkExpiredTx(ctx, tx, t.ID, t.State)
	if err != nil {
		return fmt.Errorf("mark expired: %w", err)
	}
	if !swapped {
		// The task moved since the sweep read it; leave it be.
		return nil
	}
	if err := s.audit(ctx, tx, t.ID, t.State, models.TaskStateExpired, uuid.Nil); err != nil {
		return fmt.Errorf("audit expiry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit expiry: %w", err)
	}

	if t.HoldID != nil {
		s.resolveHoldRelease(ctx, t)
	}
	s.publishState(t, t.State, models.TaskStateExpired)
	s.Logger.Info("task expired", "task_id", t.ID, "from_state", t.State)
	return nil
}

// resolveHoldRelease frees a hold after its task left the settlement path.
// A failed release stays unresolved in the ledger and is retried by the next
// reconciliation pass.
func (s *Service) resolveHoldRelease(ctx context.Context, t *models.Task) {
	if err := s.Processor.Release(ctx, *t.HoldID); err != nil {
		s.Logger.Error("release hold", "task_id", t.ID, "hold_id", *t.HoldID, "error", err)
		return
	}
	if err := s.Payments.Create(ctx, &models.PaymentRecord{
		ID:          uuid.New(),
		TaskID:      t.ID,
		EntryType:   models.PaymentEntryRelease,
		AmountCents: t.TotalCents(),
		HoldID:      *t.HoldID,
	}); err != nil {
		s.Logger.Error("record release", "task_id", t.ID, "error", err)
	}
}

// Reconcile forces resolution of holds that have sat past the staleness
// threshold, so no ACCEPTED task can strand money indefinitely:
//   - terminal states with an unreleased hold get the release retried
//   - ACCEPTED / IN_PROGRESS go through the explicit cancel-with-release path
//   - COMPLETED is auto-confirmed (the grace period has long passed)
//   - CONFIRMED gets another capture attempt
func (s *Service) Reconcile(ctx context.Context, now time.Time) error {
	stale, err := s.Tasks.ListStaleHolds(ctx, now.Add(-s.Cfg.ReconcileAfter))
	if err != nil {
		return fmt.Errorf("list stale holds: %w", err)
	}
	for _, t := range stale {
		if err := s.reconcileTask(ctx, t); err != nil {
			s.Logger.Error("reconcile task", "task_id", t.ID, "state", t.State, "error", err)
		}
	}
	return nil
}

func (s *Service) reconcileTask(ctx context.Context, t *models.Task) error {
	s.Logger.Warn("forcing hold resolution", "task_id", t.ID, "state", t.State, "hold_id", t.HoldID)
	switch t.State {
	case models.TaskStateCancelled, models.TaskStateExpired, models.TaskStateRefunded:
		s.resolveHoldRelease(ctx, t)
		return nil
	case models.TaskStateAccepted, models.TaskStateInProgress:
		return s.CancelWithRelease(ctx, t.ID, uuid.Nil)
	case models.TaskStateCompleted:
		return s.AutoConfirm(ctx, t.ID)
	case models.TaskStateConfirmed:
		err := s.CapturePayment(ctx, t.ID)
		if err != nil {
			if flagErr := s.FlagCaptureExhausted(ctx, t.ID); flagErr != nil {
				s.Logger.Error("flag capture exhausted", "task_id", t.ID, "error", flagErr)
			}
		}
		return err
	}
	return nil
}
