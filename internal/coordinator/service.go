// Package coordinator is the orchestration layer for the task lifecycle: it
// validates actor and state, performs the compare-and-set transition, writes
// the audit row, drives payment side effects, and publishes events. It is
// stateless; all shared state lives in the store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/neighborgigs/backend/internal/lifecycle"
	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/notify"
	"github.com/neighborgigs/backend/internal/payments"
	"github.com/neighborgigs/backend/internal/repository"
)

// Authorization and offer sentinels.
var (
	ErrAlreadyOffered    = errors.New("another offer is already in flight")
	ErrNotHelper         = errors.New("actor is not the task's helper")
	ErrNotRequester      = errors.New("actor is not the task's requester")
	ErrNotParty          = errors.New("actor is not a party to the task")
	ErrHelperIsRequester = errors.New("helper and requester must differ")
)

// ValidationError rejects bad input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TaskStore is the task persistence the coordinator drives. The Tx-suffixed
// methods are compare-and-set: a false return means the task moved under the
// caller.
type TaskStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByHoldID(ctx context.Context, holdID string) (*models.Task, error)
	SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, broadcastID *uuid.UUID, deadline time.Time) (bool, error)
	MarkOfferedTx(ctx context.Context, tx pgx.Tx, id, helperID uuid.UUID) (bool, error)
	MarkAcceptedTx(ctx context.Context, tx pgx.Tx, id, helperID uuid.UUID, holdID string) (bool, error)
	RevertOfferTx(ctx context.Context, tx pgx.Tx, id, helperID uuid.UUID) (bool, error)
	MarkInProgressTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, proofRef string, completedAt time.Time) (bool, error)
	AddTip(ctx context.Context, id uuid.UUID, tipCents int64) (bool, error)
	MarkConfirmedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, confirmedAt time.Time) (bool, error)
	MarkPaidTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, settlementRef string, paidAt time.Time) (bool, error)
	MarkCaptureExhausted(ctx context.Context, id uuid.UUID) error
	MarkDisputedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState, reason string, disputedAt time.Time) (bool, error)
	ResolveDisputeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, toState string, resolvedAt time.Time) (bool, error)
	MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState string) (bool, error)
	MarkExpiredTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState string) (bool, error)
	ListPastDeadline(ctx context.Context, now time.Time) ([]*models.Task, error)
	ListStaleHolds(ctx context.Context, olderThan time.Time) ([]*models.Task, error)
}

// TransitionStore appends the audit trail.
type TransitionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, tr *models.TaskTransition) error
}

// PaymentLedger records every processor call and answers idempotency checks.
type PaymentLedger interface {
	Create(ctx context.Context, p *models.PaymentRecord) error
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PaymentRecord) error
	HasEntry(ctx context.Context, holdID, entryType string) (bool, error)
	// GetCapture returns the hold's capture row, or nil when the hold was
	// never captured. The ledger is authoritative here: a capture that lost
	// the paid swap to a dispute exists only as this row.
	GetCapture(ctx context.Context, holdID string) (*models.PaymentRecord, error)
}

// NeighborStore resolves payer references and books gamification points.
type NeighborStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Neighbor, error)
	AddPoints(ctx context.Context, id uuid.UUID, points int) error
}

// Windows gates attachment of requests to broadcast windows.
type Windows interface {
	EnsureAttachable(ctx context.Context, id uuid.UUID) (*models.BroadcastWindow, error)
}

// PayloadValidator checks errand item payloads against per-type schemas.
type PayloadValidator interface {
	ValidateItems(errandType string, payload []byte) error
}

// EnqueueTxFunc inserts a background job inside the transaction that caused
// it, typically a closure over river.Client.InsertTx.
type EnqueueTxFunc func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error

// Config is the coordinator's policy knobs.
type Config struct {
	MinPriceCents    int64
	MaxPriceCents    int64
	CommissionRate   float64
	DefaultDeadline  time.Duration
	AutoConfirmGrace time.Duration
	OfferTimeout     time.Duration
	ReconcileAfter   time.Duration
}

// Service is the matching/offer coordinator.
type Service struct {
	Tasks       TaskStore
	Transitions TransitionStore
	Payments    PaymentLedger
	Neighbors   NeighborStore
	Windows     Windows
	Processor   payments.Processor
	Validator   PayloadValidator
	Enqueue     EnqueueTxFunc
	Notifier    notify.Publisher
	Logger      *slog.Logger
	Cfg         Config
	Now         func() time.Time
}

func NewService(
	tasks TaskStore,
	transitions TransitionStore,
	paymentLedger PaymentLedger,
	neighbors NeighborStore,
	windows Windows,
	processor payments.Processor,
	validator PayloadValidator,
	enqueue EnqueueTxFunc,
	notifier notify.Publisher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Tasks:       tasks,
		Transitions: transitions,
		Payments:    paymentLedger,
		Neighbors:   neighbors,
		Windows:     windows,
		Processor:   processor,
		Validator:   validator,
		Enqueue:     enqueue,
		Notifier:    notifier,
		Logger:      logger,
		Cfg:         cfg,
		Now:         time.Now,
	}
}

// audit appends the transition row inside the transaction that moved the task.
func (s *Service) audit(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, from, to string, actorID uuid.UUID) error {
	return s.Transitions.CreateTx(ctx, tx, &models.TaskTransition{
		ID:        uuid.New(),
		TaskID:    taskID,
		FromState: from,
		ToState:   to,
		ActorID:   actorID,
	})
}

// publishState emits a state-change event after commit.
func (s *Service) publishState(t *models.Task, from, to string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Publish(notify.Event{
		ID:          uuid.New(),
		Kind:        notify.EventTaskStateChanged,
		TaskID:      t.ID,
		BroadcastID: t.BroadcastID,
		FromState:   from,
		ToState:     to,
		At:          s.Now(),
	})
}

// conflict re-reads the task and builds the StateConflict naming the state
// the caller actually lost to.
func (s *Service) conflict(ctx context.Context, taskID uuid.UUID, requested string) error {
	current := "unknown"
	if t, err := s.Tasks.GetByID(ctx, taskID); err == nil {
		current = t.State
	}
	return lifecycle.Conflict(taskID, current, requested)
}

// isConflict reports whether err is a state conflict.
func isConflict(err error) bool {
	var c *lifecycle.StateConflictError
	return errors.As(err, &c)
}

// getTask maps store misses to the NotFound sentinel.
func (s *Service) getTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	t, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// commissionCents is the platform's cut of a captured amount, rounded down.
func (s *Service) commissionCents(amount int64) int64 {
	return int64(float64(amount) * s.Cfg.CommissionRate)
}
