// Package jobs holds the durable per-task timers: auto-confirm after the
// grace period, payment capture with retry/backoff, and offer timeout. Each
// is enqueued inside the transaction that made it necessary, so a committed
// state change always has its timer.
package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/neighborgigs/backend/internal/payments"
)

// CaptureMaxAttempts bounds capture retries before the task is flagged for
// manual review.
const CaptureMaxAttempts = 5

type AutoConfirmArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (AutoConfirmArgs) Kind() string { return "auto_confirm" }

type CaptureArgs struct {
	TaskID uuid.UUID `json:"task_id"`
}

func (CaptureArgs) Kind() string { return "capture_payment" }

func (CaptureArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: CaptureMaxAttempts}
}

type OfferTimeoutArgs struct {
	TaskID   uuid.UUID `json:"task_id"`
	HelperID uuid.UUID `json:"helper_id"`
}

func (OfferTimeoutArgs) Kind() string { return "offer_timeout" }

// Coordinator is the contract the workers need to drive transitions.
type Coordinator interface {
	AutoConfirm(ctx context.Context, taskID uuid.UUID) error
	CapturePayment(ctx context.Context, taskID uuid.UUID) error
	FlagCaptureExhausted(ctx context.Context, taskID uuid.UUID) error
	TimeoutOffer(ctx context.Context, taskID, helperID uuid.UUID) error
}

type AutoConfirmWorker struct {
	river.WorkerDefaults[AutoConfirmArgs]
	Coordinator Coordinator
}

func NewAutoConfirmWorker(c Coordinator) *AutoConfirmWorker {
	return &AutoConfirmWorker{Coordinator: c}
}

func (w *AutoConfirmWorker) Work(ctx context.Context, job *river.Job[AutoConfirmArgs]) error {
	return w.Coordinator.AutoConfirm(ctx, job.Args.TaskID)
}

type CaptureWorker struct {
	river.WorkerDefaults[CaptureArgs]
	Coordinator Coordinator
}

func NewCaptureWorker(c Coordinator) *CaptureWorker {
	return &CaptureWorker{Coordinator: c}
}

// Work captures the hold. A capture failure is returned so River retries
// with backoff; on the final attempt the task is flagged for manual review
// instead of silently advancing.
func (w *CaptureWorker) Work(ctx context.Context, job *river.Job[CaptureArgs]) error {
	err := w.Coordinator.CapturePayment(ctx, job.Args.TaskID)
	if err == nil {
		return nil
	}
	if errors.Is(err, payments.ErrCaptureFailed) && job.Attempt >= job.MaxAttempts {
		if flagErr := w.Coordinator.FlagCaptureExhausted(ctx, job.Args.TaskID); flagErr != nil {
			return errors.Join(err, flagErr)
		}
	}
	return err
}

type OfferTimeoutWorker struct {
	river.WorkerDefaults[OfferTimeoutArgs]
	Coordinator Coordinator
}

func NewOfferTimeoutWorker(c Coordinator) *OfferTimeoutWorker {
	return &OfferTimeoutWorker{Coordinator: c}
}

func (w *OfferTimeoutWorker) Work(ctx context.Context, job *river.Job[OfferTimeoutArgs]) error {
	return w.Coordinator.TimeoutOffer(ctx, job.Args.TaskID, job.Args.HelperID)
}
