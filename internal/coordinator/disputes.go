package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/neighborgigs/backend/internal/jobs"
	"github.com/neighborgigs/backend/internal/lifecycle"
	"github.com/neighborgigs/backend/internal/models"
)

// Dispute resolutions.
const (
	ResolutionRefund  = "refund"
	ResolutionConfirm = "confirm"
)

// Dispute freezes a COMPLETED or CONFIRMED task: no auto-confirm, no
// capture, until resolution. Either party may raise it.
func (s *Service) Dispute(ctx context.Context, taskID, actorID uuid.UUID, reason string) error {
	if reason == "" {
		return &ValidationError{Field: "reason", Reason: "required"}
	}
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if actorID != t.RequesterID && (t.HelperID == nil || actorID != *t.HelperID) {
		return ErrNotParty
	}
	if t.State != models.TaskStateCompleted && t.State != models.TaskStateConfirmed {
		return lifecycle.Conflict(taskID, t.State, models.TaskStateDisputed)
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkDisputedTx(ctx, tx, taskID, t.State, reason, s.Now())
	if err != nil {
		return fmt.Errorf("mark disputed: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, taskID, models.TaskStateDisputed)
	}
	if err := s.audit(ctx, tx, taskID, t.State, models.TaskStateDisputed, actorID); err != nil {
		return fmt.Errorf("audit dispute: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dispute: %w", err)
	}

	s.publishState(t, t.State, models.TaskStateDisputed)
	s.Logger.Info("task disputed", "task_id", taskID, "actor_id", actorID, "reason", reason)
	return nil
}

// ResolveDispute is the external (admin) resolution path: refund closes the
// task as REFUNDED and returns the money; confirm re-enters the settlement
// path. One-way in either direction.
func (s *Service) ResolveDispute(ctx context.Context, taskID, actorID uuid.UUID, resolution string) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State != models.TaskStateDisputed {
		return lifecycle.Conflict(taskID, t.State, models.TaskStateRefunded)
	}

	switch resolution {
	case ResolutionRefund:
		return s.resolveRefund(ctx, t, actorID)
	case ResolutionConfirm:
		return s.resolveConfirm(ctx, t, actorID)
	default:
		return &ValidationError{Field: "resolution", Reason: "must be refund or confirm"}
	}
}

// resolveRefund returns the money: a captured settlement is refunded, an
// uncaptured hold is released. The settlement ref on the task row is not
// enough to decide which: a capture that lost the paid swap to this dispute
// recorded its settlement only in the ledger, so the ledger is consulted
// before falling back to a release. The money moves first; the state swap is
// serialized by the compare-and-set so a double resolution cannot pay twice.
func (s *Service) resolveRefund(ctx context.Context, t *models.Task, actorID uuid.UUID) error {
	amount := t.TotalCents()
	entry := &models.PaymentRecord{
		ID:          uuid.New(),
		TaskID:      t.ID,
		AmountCents: amount,
	}

	settlementRef := t.SettlementRef
	if settlementRef == nil && t.HoldID != nil {
		captured, err := s.Payments.GetCapture(ctx, *t.HoldID)
		if err != nil {
			return fmt.Errorf("check hold %s for capture: %w", *t.HoldID, err)
		}
		if captured != nil {
			settlementRef = captured.SettlementRef
		}
	}

	switch {
	case settlementRef != nil:
		if err := s.Processor.Refund(ctx, *settlementRef, amount); err != nil {
			return fmt.Errorf("refund settlement %s: %w", *settlementRef, err)
		}
		entry.EntryType = models.PaymentEntryRefund
		entry.HoldID = deref(t.HoldID)
		entry.SettlementRef = settlementRef
	case t.HoldID != nil:
		if err := s.Processor.Release(ctx, *t.HoldID); err != nil {
			return fmt.Errorf("release hold %s: %w", *t.HoldID, err)
		}
		entry.EntryType = models.PaymentEntryRelease
		entry.HoldID = *t.HoldID
	default:
		return fmt.Errorf("task %s disputed without hold or settlement", t.ID)
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.ResolveDisputeTx(ctx, tx, t.ID, models.TaskStateRefunded, s.Now())
	if err != nil {
		return fmt.Errorf("resolve refund: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, t.ID, models.TaskStateRefunded)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateDisputed, models.TaskStateRefunded, actorID); err != nil {
		return fmt.Errorf("audit refund: %w", err)
	}
	if err := s.Payments.CreateTx(ctx, tx, entry); err != nil {
		return fmt.Errorf("record refund: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refund: %w", err)
	}

	s.publishState(t, models.TaskStateDisputed, models.TaskStateRefunded)
	s.Logger.Info("dispute resolved with refund", "task_id", t.ID, "amount_cents", amount)
	return nil
}

// resolveConfirm sends the task back through settlement: DISPUTED ->
// CONFIRMED, with a fresh capture job unless the money already settled.
func (s *Service) resolveConfirm(ctx context.Context, t *models.Task, actorID uuid.UUID) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.ResolveDisputeTx(ctx, tx, t.ID, models.TaskStateConfirmed, s.Now())
	if err != nil {
		return fmt.Errorf("resolve confirm: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, t.ID, models.TaskStateConfirmed)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateDisputed, models.TaskStateConfirmed, actorID); err != nil {
		return fmt.Errorf("audit resolve: %w", err)
	}
	if t.SettlementRef == nil {
		if err := s.Enqueue(ctx, tx, jobs.CaptureArgs{TaskID: t.ID}, nil); err != nil {
			return fmt.Errorf("enqueue capture: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolve: %w", err)
	}

	s.publishState(t, models.TaskStateDisputed, models.TaskStateConfirmed)
	return nil
}

// Cancel is the requester withdrawing a task that no helper has committed
// funds to: DRAFT, PENDING_MATCH, or OFFERED. Past acceptance the hold has
// been placed and cancellation requires the explicit release path.
func (s *Service) Cancel(ctx context.Context, taskID, actorID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.RequesterID != actorID {
		return ErrNotRequester
	}
	switch t.State {
	case models.TaskStateDraft, models.TaskStatePendingMatch, models.TaskStateOffered:
	default:
		return lifecycle.Conflict(taskID, t.State, models.TaskStateCancelled)
	}
	return s.cancelFrom(ctx, t, t.State, actorID)
}

// CancelWithRelease is the explicit compensation path out of ACCEPTED or
// IN_PROGRESS: the hold is released and the task cancelled. Used by the
// requester, the reconciliation sweep (actorID uuid.Nil), and the
// manual-review surface.
func (s *Service) CancelWithRelease(ctx context.Context, taskID, actorID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if actorID != uuid.Nil && t.RequesterID != actorID {
		return ErrNotRequester
	}
	switch t.State {
	case models.TaskStateAccepted, models.TaskStateInProgress:
	default:
		return lifecycle.Conflict(taskID, t.State, models.TaskStateCancelled)
	}
	if err := s.cancelFrom(ctx, t, t.State, actorID); err != nil {
		return err
	}
	if t.HoldID != nil {
		if err := s.Processor.Release(ctx, *t.HoldID); err != nil {
			// Reconciliation will retry against the ledger.
			s.Logger.Error("release hold on cancel", "task_id", t.ID, "hold_id", *t.HoldID, "error", err)
		} else if err := s.Payments.Create(ctx, &models.PaymentRecord{
			ID:          uuid.New(),
			TaskID:      t.ID,
			EntryType:   models.PaymentEntryRelease,
			AmountCents: t.TotalCents(),
			HoldID:      *t.HoldID,
		}); err != nil {
			s.Logger.Error("record release", "task_id", t.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) cancelFrom(ctx context.Context, t *models.Task, fromState string, actorID uuid.UUID) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkCancelledTx(ctx, tx, t.ID, fromState)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, t.ID, models.TaskStateCancelled)
	}
	if err := s.audit(ctx, tx, t.ID, fromState, models.TaskStateCancelled, actorID); err != nil {
		return fmt.Errorf("audit cancel: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel: %w", err)
	}

	s.publishState(t, fromState, models.TaskStateCancelled)
	s.Logger.Info("task cancelled", "task_id", t.ID, "from_state", fromState, "actor_id", actorID)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
