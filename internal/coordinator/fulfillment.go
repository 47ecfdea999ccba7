package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/neighborgigs/backend/internal/jobs"
	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/services"
)

// SubmitProof records the completion artifact and moves the task to
// COMPLETED. A helper who never checked in gets the implicit
// ACCEPTED -> IN_PROGRESS edge first, so the audit trail stays contiguous.
func (s *Service) SubmitProof(ctx context.Context, taskID, actorID uuid.UUID, proofRef string) error {
	if proofRef == "" {
		return &ValidationError{Field: "proof_ref", Reason: "required before a fulfillment claim"}
	}
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.HelperID == nil || *t.HelperID != actorID {
		return ErrNotHelper
	}

	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	fromState := t.State
	if t.State == models.TaskStateAccepted {
		swapped, err := s.Tasks.MarkInProgressTx(ctx, tx, taskID)
		if err != nil {
			return fmt.Errorf("implicit check-in: %w", err)
		}
		if !swapped {
			return s.conflict(ctx, taskID, models.TaskStateInProgress)
		}
		if err := s.audit(ctx, tx, taskID, models.TaskStateAccepted, models.TaskStateInProgress, actorID); err != nil {
			return fmt.Errorf("audit implicit check-in: %w", err)
		}
		fromState = models.TaskStateInProgress
	}

	now := s.Now()
	swapped, err := s.Tasks.MarkCompletedTx(ctx, tx, taskID, proofRef, now)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, taskID, models.TaskStateCompleted)
	}
	if err := s.audit(ctx, tx, taskID, fromState, models.TaskStateCompleted, actorID); err != nil {
		return fmt.Errorf("audit completion: %w", err)
	}
	if err := s.Enqueue(ctx, tx, jobs.AutoConfirmArgs{TaskID: taskID}, &river.InsertOpts{
		ScheduledAt: now.Add(s.Cfg.AutoConfirmGrace),
	}); err != nil {
		return fmt.Errorf("enqueue auto-confirm: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit completion: %w", err)
	}

	s.publishState(t, fromState, models.TaskStateCompleted)
	s.Logger.Info("proof submitted", "task_id", taskID, "helper_id", actorID, "proof_ref", proofRef)
	return nil
}

// AddTip adds a post-completion tip before capture. The capture amount picks
// up the new total.
func (s *Service) AddTip(ctx context.Context, taskID, actorID uuid.UUID, tipCents int64) error {
	if tipCents <= 0 {
		return &ValidationError{Field: "tip_cents", Reason: "must be positive"}
	}
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.RequesterID != actorID {
		return ErrNotRequester
	}
	added, err := s.Tasks.AddTip(ctx, taskID, tipCents)
	if err != nil {
		return fmt.Errorf("add tip: %w", err)
	}
	if !added {
		return s.conflict(ctx, taskID, models.TaskStateCompleted)
	}
	return nil
}

// Confirm is the requester's acceptance of the completed work. It triggers
// the capture job.
func (s *Service) Confirm(ctx context.Context, taskID, actorID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.RequesterID != actorID {
		return ErrNotRequester
	}
	return s.confirm(ctx, t, actorID)
}

// AutoConfirm fires when the grace period elapses without a requester
// confirmation or dispute. A task that already moved on is a no-op: the
// timer simply lost the race.
func (s *Service) AutoConfirm(ctx context.Context, taskID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State != models.TaskStateCompleted {
		return nil
	}
	if err := s.confirm(ctx, t, uuid.Nil); err != nil {
		if isConflict(err) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) confirm(ctx context.Context, t *models.Task, actorID uuid.UUID) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkConfirmedTx(ctx, tx, t.ID, s.Now())
	if err != nil {
		return fmt.Errorf("mark confirmed: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, t.ID, models.TaskStateConfirmed)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateCompleted, models.TaskStateConfirmed, actorID); err != nil {
		return fmt.Errorf("audit confirm: %w", err)
	}
	if err := s.Enqueue(ctx, tx, jobs.CaptureArgs{TaskID: t.ID}, nil); err != nil {
		return fmt.Errorf("enqueue capture: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit confirm: %w", err)
	}

	s.publishState(t, models.TaskStateCompleted, models.TaskStateConfirmed)
	s.Logger.Info("task confirmed", "task_id", t.ID, "actor_id", actorID)
	return nil
}

// CapturePayment settles a CONFIRMED task's hold. Failures are returned
// wrapped in payments.ErrCaptureFailed so the capture job retries with
// backoff; the task never advances past CONFIRMED until capture succeeds.
func (s *Service) CapturePayment(ctx context.Context, taskID uuid.UUID) error {
	t, err := s.getTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.State != models.TaskStatePaid && t.State != models.TaskStateConfirmed {
		// Disputed or otherwise diverted; the capture job stands down.
		return nil
	}
	if t.State == models.TaskStatePaid {
		return nil
	}
	if t.HoldID == nil {
		return fmt.Errorf("task %s confirmed without a hold", taskID)
	}

	// A capture row without a settlement ref on the task means an earlier
	// capture lost the paid swap to a dispute that was since confirmed.
	// Settle from the recorded row; the processor will not capture twice.
	captured, err := s.Payments.GetCapture(ctx, *t.HoldID)
	if err != nil {
		return fmt.Errorf("check hold %s for capture: %w", *t.HoldID, err)
	}
	if captured != nil && captured.SettlementRef != nil {
		return s.settleRecorded(ctx, t, *captured.SettlementRef)
	}

	ref, err := s.Processor.Capture(ctx, *t.HoldID)
	if err != nil {
		return fmt.Errorf("capture hold %s: %w", *t.HoldID, err)
	}
	return s.markPaid(ctx, t, ref)
}

// settleRecorded finishes CONFIRMED -> PAID from a capture already in the
// ledger. No processor call and no new ledger row.
func (s *Service) settleRecorded(ctx context.Context, t *models.Task, settlementRef string) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	swapped, err := s.Tasks.MarkPaidTx(ctx, tx, t.ID, settlementRef, s.Now())
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if !swapped {
		return s.conflict(ctx, t.ID, models.TaskStatePaid)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateConfirmed, models.TaskStatePaid, uuid.Nil); err != nil {
		return fmt.Errorf("audit paid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit paid: %w", err)
	}

	s.awardPoints(ctx, t)
	s.publishState(t, models.TaskStateConfirmed, models.TaskStatePaid)
	s.Logger.Info("task paid from recorded capture", "task_id", t.ID, "settlement_ref", settlementRef)
	return nil
}

// FlagCaptureExhausted marks a CONFIRMED task for manual review after the
// capture job's retries run out.
func (s *Service) FlagCaptureExhausted(ctx context.Context, taskID uuid.UUID) error {
	s.Logger.Warn("capture retries exhausted, flagging for manual review", "task_id", taskID)
	return s.Tasks.MarkCaptureExhausted(ctx, taskID)
}

// HandleCaptureOutcome is the processor webhook path for async capture
// results. Delivery is at-least-once; the ledger dedups on hold id.
func (s *Service) HandleCaptureOutcome(ctx context.Context, holdID, settlementRef string, success bool) error {
	seen, err := s.Payments.HasEntry(ctx, holdID, models.PaymentEntryCapture)
	if err != nil {
		return fmt.Errorf("dedup capture webhook: %w", err)
	}
	if seen {
		return nil
	}
	t, err := s.Tasks.GetByHoldID(ctx, holdID)
	if err != nil {
		return fmt.Errorf("resolve hold %s: %w", holdID, err)
	}
	if !success {
		s.Logger.Warn("processor reported capture failure", "task_id", t.ID, "hold_id", holdID)
		return nil
	}
	if t.State != models.TaskStateConfirmed {
		return nil
	}
	return s.markPaid(ctx, t, settlementRef)
}

// markPaid records the settlement: CONFIRMED -> PAID, capture ledger row
// with the platform commission, gamification points for both parties.
func (s *Service) markPaid(ctx context.Context, t *models.Task, settlementRef string) error {
	tx, err := s.Tasks.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.Now()
	swapped, err := s.Tasks.MarkPaidTx(ctx, tx, t.ID, settlementRef, now)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if !swapped {
		// Captured funds but the task moved (a late dispute). Record the
		// capture anyway so dispute resolution can refund against it.
		s.Logger.Warn("capture succeeded but task left CONFIRMED", "task_id", t.ID, "settlement_ref", settlementRef)
		if err := s.recordCapture(ctx, t, settlementRef); err != nil {
			return err
		}
		return s.conflict(ctx, t.ID, models.TaskStatePaid)
	}
	if err := s.audit(ctx, tx, t.ID, models.TaskStateConfirmed, models.TaskStatePaid, uuid.Nil); err != nil {
		return fmt.Errorf("audit paid: %w", err)
	}
	amount := t.TotalCents()
	if err := s.Payments.CreateTx(ctx, tx, &models.PaymentRecord{
		ID:              uuid.New(),
		TaskID:          t.ID,
		EntryType:       models.PaymentEntryCapture,
		AmountCents:     amount,
		CommissionCents: s.commissionCents(amount),
		HoldID:          *t.HoldID,
		SettlementRef:   &settlementRef,
	}); err != nil {
		return fmt.Errorf("record capture: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit paid: %w", err)
	}

	s.awardPoints(ctx, t)
	s.publishState(t, models.TaskStateConfirmed, models.TaskStatePaid)
	s.Logger.Info("task paid", "task_id", t.ID, "settlement_ref", settlementRef, "amount_cents", amount)
	return nil
}

func (s *Service) recordCapture(ctx context.Context, t *models.Task, settlementRef string) error {
	amount := t.TotalCents()
	return s.Payments.Create(ctx, &models.PaymentRecord{
		ID:              uuid.New(),
		TaskID:          t.ID,
		EntryType:       models.PaymentEntryCapture,
		AmountCents:     amount,
		CommissionCents: s.commissionCents(amount),
		HoldID:          *t.HoldID,
		SettlementRef:   &settlementRef,
	})
}

// awardPoints books gamification points. Bookkeeping only; failures are
// logged, never propagated into the payment path.
func (s *Service) awardPoints(ctx context.Context, t *models.Task) {
	if t.HelperID != nil {
		pts := services.PointsTaskComplete
		if t.CompletedAt != nil && t.CompletedAt.Before(t.Deadline) {
			pts += services.PointsSpeedBonus
		}
		if err := s.Neighbors.AddPoints(ctx, *t.HelperID, pts); err != nil {
			s.Logger.Error("award helper points", "task_id", t.ID, "error", err)
		}
	}
	if err := s.Neighbors.AddPoints(ctx, t.RequesterID, services.PointsRequestComplete); err != nil {
		s.Logger.Error("award requester points", "task_id", t.ID, "error", err)
	}
}
