package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborgigs/backend/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const taskColumns = `id, requester_id, helper_id, pending_helper_id, broadcast_id,
	errand_type, title, items_payload, base_price_cents, tip_cents, state, proof_ref,
	dispute_reason, disputed_at, resolved_at, hold_id, settlement_ref, capture_exhausted,
	deadline, completed_at, confirmed_at, paid_at, created_at, updated_at`

const qualifiedTaskColumns = `tasks.id, tasks.requester_id, tasks.helper_id, tasks.pending_helper_id, tasks.broadcast_id,
	tasks.errand_type, tasks.title, tasks.items_payload, tasks.base_price_cents, tasks.tip_cents, tasks.state, tasks.proof_ref,
	tasks.dispute_reason, tasks.disputed_at, tasks.resolved_at, tasks.hold_id, tasks.settlement_ref, tasks.capture_exhausted,
	tasks.deadline, tasks.completed_at, tasks.confirmed_at, tasks.paid_at, tasks.created_at, tasks.updated_at`

// TaskRepo persists tasks. All state changes go through compare-and-set
// UPDATEs (WHERE state = expected); a false return means the task moved
// under the caller and the coordinator reports a state conflict. The
// Tx-suffixed methods run inside a caller-owned transaction so the audit row
// and any enqueued job commit atomically with the state change.
type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func (r *TaskRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, requester_id, helper_id, pending_helper_id, broadcast_id,
			errand_type, title, items_payload, base_price_cents, tip_cents, state, proof_ref,
			dispute_reason, disputed_at, resolved_at, hold_id, settlement_ref, capture_exhausted, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at
	`, t.ID, t.RequesterID, t.HelperID, t.PendingHelperID, t.BroadcastID,
		t.ErrandType, t.Title, t.ItemsPayload, t.BasePriceCents, t.TipCents, t.State, t.ProofRef,
		t.DisputeReason, t.DisputedAt, t.ResolvedAt, t.HoldID, t.SettlementRef, t.CaptureExhausted,
		t.Deadline).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// GetByHoldID resolves a payment webhook's hold id to its task.
func (r *TaskRepo) GetByHoldID(ctx context.Context, holdID string) (*models.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE hold_id = $1`, holdID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.RequesterID, &t.HelperID, &t.PendingHelperID, &t.BroadcastID,
		&t.ErrandType, &t.Title, &t.ItemsPayload, &t.BasePriceCents, &t.TipCents, &t.State, &t.ProofRef,
		&t.DisputeReason, &t.DisputedAt, &t.ResolvedAt, &t.HoldID, &t.SettlementRef, &t.CaptureExhausted,
		&t.Deadline, &t.CompletedAt, &t.ConfirmedAt, &t.PaidAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SubmitTx moves DRAFT -> PENDING_MATCH, optionally binding a broadcast. The
// window is re-verified inside the same statement so a close committing after
// the caller's attachability check cannot leave the task bound to a dead
// window: zero rows with a live DRAFT task means the window closed.
func (r *TaskRepo) SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, broadcastID *uuid.UUID, deadline time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, broadcast_id = $3, deadline = $4, updated_at = now()
		WHERE id = $1 AND state = $5
		  AND ($3::uuid IS NULL OR EXISTS (
			SELECT 1 FROM broadcasts WHERE id = $3 AND state = $6
		  ))
	`, id, models.TaskStatePendingMatch, broadcastID, deadline, models.TaskStateDraft, models.BroadcastActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkOfferedTx moves PENDING_MATCH -> OFFERED and pins the offering helper.
func (r *TaskRepo) MarkOfferedTx(ctx context.Context, tx pgx.Tx, id, helperID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, pending_helper_id = $3, updated_at = now()
		WHERE id = $1 AND state = $4
	`, id, models.TaskStateOffered, helperID, models.TaskStatePendingMatch)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAcceptedTx moves OFFERED -> ACCEPTED for the pending helper only,
// binding the helper and the payment hold in one swap.
func (r *TaskRepo) MarkAcceptedTx(ctx context.Context, tx pgx.Tx, id, helperID uuid.UUID, holdID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, helper_id = $3, pending_helper_id = NULL, hold_id = $4, updated_at = now()
		WHERE id = $1 AND state = $5 AND pending_helper_id = $3
	`, id, models.TaskStateAccepted, helperID, holdID, models.TaskStateOffered)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevertOfferTx moves OFFERED -> PENDING_MATCH (decline or offer timeout),
// clearing the pending helper. The helper guard keeps a stale timeout from
// reverting a newer offer by a different helper.
func (r *TaskRepo) RevertOfferTx(ctx context.Context, tx pgx.Tx, id, helperID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, pending_helper_id = NULL, updated_at = now()
		WHERE id = $1 AND state = $3 AND pending_helper_id = $4
	`, id, models.TaskStatePendingMatch, models.TaskStateOffered, helperID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkInProgressTx moves ACCEPTED -> IN_PROGRESS on helper check-in.
func (r *TaskRepo) MarkInProgressTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, updated_at = now()
		WHERE id = $1 AND state = $3
	`, id, models.TaskStateInProgress, models.TaskStateAccepted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompletedTx moves IN_PROGRESS -> COMPLETED with the proof reference.
func (r *TaskRepo) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, proofRef string, completedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, proof_ref = $3, completed_at = $4, updated_at = now()
		WHERE id = $1 AND state = $5
	`, id, models.TaskStateCompleted, proofRef, completedAt, models.TaskStateInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AddTip adds a post-completion tip. Only legal before capture, i.e. while
// the task is COMPLETED.
func (r *TaskRepo) AddTip(ctx context.Context, id uuid.UUID, tipCents int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET tip_cents = tip_cents + $2, updated_at = now()
		WHERE id = $1 AND state = $3
	`, id, tipCents, models.TaskStateCompleted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkConfirmedTx moves COMPLETED -> CONFIRMED.
func (r *TaskRepo) MarkConfirmedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, confirmedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, confirmed_at = $3, updated_at = now()
		WHERE id = $1 AND state = $4
	`, id, models.TaskStateConfirmed, confirmedAt, models.TaskStateCompleted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaidTx moves CONFIRMED -> PAID with the settlement reference. paid_at
// is only ever written here, exactly once.
func (r *TaskRepo) MarkPaidTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, settlementRef string, paidAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, settlement_ref = $3, paid_at = $4, capture_exhausted = false, updated_at = now()
		WHERE id = $1 AND state = $5 AND paid_at IS NULL
	`, id, models.TaskStatePaid, settlementRef, paidAt, models.TaskStateConfirmed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCaptureExhausted flags a CONFIRMED task for manual review after
// capture retries run out. The task does not advance.
func (r *TaskRepo) MarkCaptureExhausted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tasks SET capture_exhausted = true, updated_at = now()
		WHERE id = $1 AND state = $2
	`, id, models.TaskStateConfirmed)
	return err
}

// MarkDisputedTx moves COMPLETED or CONFIRMED -> DISPUTED, freezing
// auto-confirm and capture.
func (r *TaskRepo) MarkDisputedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState, reason string, disputedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, dispute_reason = $3, disputed_at = $4, updated_at = now()
		WHERE id = $1 AND state = $5
	`, id, models.TaskStateDisputed, reason, disputedAt, fromState)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResolveDisputeTx moves DISPUTED -> REFUNDED or DISPUTED -> CONFIRMED.
func (r *TaskRepo) ResolveDisputeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, toState string, resolvedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, resolved_at = $3, updated_at = now()
		WHERE id = $1 AND state = $4
	`, id, toState, resolvedAt, models.TaskStateDisputed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelledTx cancels a task out of the given state.
func (r *TaskRepo) MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, pending_helper_id = NULL, updated_at = now()
		WHERE id = $1 AND state = $3
	`, id, models.TaskStateCancelled, fromState)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkExpiredTx expires a task out of the given state when its deadline
// passed with no confirmed outcome.
func (r *TaskRepo) MarkExpiredTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromState string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET state = $2, pending_helper_id = NULL, updated_at = now()
		WHERE id = $1 AND state = $3
	`, id, models.TaskStateExpired, fromState)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DetachedTask pairs a detached task with the state it held under the
// window, so the caller can audit the OFFERED -> PENDING_MATCH reverts.
type DetachedTask struct {
	Task      *models.Task
	FromState string
}

// DetachFromWindowTx clears the broadcast association for every task still
// PENDING_MATCH or OFFERED under a dead window, reverting OFFERED tasks to
// PENDING_MATCH. The requester's standing request survives the window.
func (r *TaskRepo) DetachFromWindowTx(ctx context.Context, tx pgx.Tx, windowID uuid.UUID) ([]DetachedTask, error) {
	rows, err := tx.Query(ctx, `
		UPDATE tasks SET broadcast_id = NULL, pending_helper_id = NULL, state = $2, updated_at = now()
		FROM (
			SELECT id, state AS old_state FROM tasks
			WHERE broadcast_id = $1 AND state IN ($2, $3)
			FOR UPDATE
		) old
		WHERE tasks.id = old.id
		RETURNING `+qualifiedTaskColumns+`, old.old_state
	`, windowID, models.TaskStatePendingMatch, models.TaskStateOffered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []DetachedTask
	for rows.Next() {
		var t models.Task
		var fromState string
		if err := rows.Scan(&t.ID, &t.RequesterID, &t.HelperID, &t.PendingHelperID, &t.BroadcastID,
			&t.ErrandType, &t.Title, &t.ItemsPayload, &t.BasePriceCents, &t.TipCents, &t.State, &t.ProofRef,
			&t.DisputeReason, &t.DisputedAt, &t.ResolvedAt, &t.HoldID, &t.SettlementRef, &t.CaptureExhausted,
			&t.Deadline, &t.CompletedAt, &t.ConfirmedAt, &t.PaidAt, &t.CreatedAt, &t.UpdatedAt, &fromState); err != nil {
			return nil, err
		}
		list = append(list, DetachedTask{Task: &t, FromState: fromState})
	}
	return list, rows.Err()
}

// ListByRequester returns the requester's tasks, newest first.
func (r *TaskRepo) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE requester_id = $1 ORDER BY created_at DESC
	`, requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListByBroadcast returns tasks attached to a window, oldest first.
func (r *TaskRepo) ListByBroadcast(ctx context.Context, broadcastID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE broadcast_id = $1 ORDER BY created_at ASC
	`, broadcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListOpen returns the standalone feed: PENDING_MATCH tasks any helper may
// offer on. Read path only; may observe slightly stale state.
func (r *TaskRepo) ListOpen(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE state = $1 ORDER BY created_at DESC
	`, models.TaskStatePendingMatch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListPastDeadline returns non-terminal matchable tasks whose deadline has
// passed, for the expiry sweep.
func (r *TaskRepo) ListPastDeadline(ctx context.Context, now time.Time) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE deadline < $1 AND state IN ($2, $3, $4)
	`, now, models.TaskStatePendingMatch, models.TaskStateOffered, models.TaskStateAccepted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListStaleHolds returns tasks past the staleness threshold whose hold has
// no resolving ledger entry (capture, release, or refund), for
// reconciliation. Disputed tasks are excluded; they resolve manually.
func (r *TaskRepo) ListStaleHolds(ctx context.Context, olderThan time.Time) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE hold_id IS NOT NULL AND updated_at < $1 AND state <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM payment_records p
			WHERE p.hold_id = tasks.hold_id
			  AND p.entry_type IN ($3, $4, $5)
		  )
	`, olderThan, models.TaskStateDisputed,
		models.PaymentEntryCapture, models.PaymentEntryRelease, models.PaymentEntryRefund)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
