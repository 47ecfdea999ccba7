package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborgigs/backend/internal/models"
)

// PaymentRepo is the append-only ledger of processor calls. The webhook
// handler uses HasEntry for idempotency on hold id.
type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create records a ledger row outside any transaction. Used when the
// processor call happens after the state change already committed.
func (r *PaymentRepo) Create(ctx context.Context, p *models.PaymentRecord) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payment_records (id, task_id, entry_type, amount_cents, commission_cents, hold_id, settlement_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.TaskID, p.EntryType, p.AmountCents, p.CommissionCents, p.HoldID, p.SettlementRef).Scan(&p.CreatedAt)
}

func (r *PaymentRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.PaymentRecord) error {
	return tx.QueryRow(ctx, `
		INSERT INTO payment_records (id, task_id, entry_type, amount_cents, commission_cents, hold_id, settlement_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.TaskID, p.EntryType, p.AmountCents, p.CommissionCents, p.HoldID, p.SettlementRef).Scan(&p.CreatedAt)
}

// HasEntry reports whether a ledger row of the given type already exists for
// the hold. At-least-once webhook delivery dedups on this.
func (r *PaymentRepo) HasEntry(ctx context.Context, holdID, entryType string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payment_records WHERE hold_id = $1 AND entry_type = $2)
	`, holdID, entryType).Scan(&exists)
	return exists, err
}

// GetCapture returns the capture row for a hold, or nil when the hold was
// never captured.
func (r *PaymentRepo) GetCapture(ctx context.Context, holdID string) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, task_id, entry_type, amount_cents, commission_cents, hold_id, settlement_ref, created_at
		FROM payment_records WHERE hold_id = $1 AND entry_type = $2
	`, holdID, models.PaymentEntryCapture).Scan(
		&p.ID, &p.TaskID, &p.EntryType, &p.AmountCents, &p.CommissionCents, &p.HoldID, &p.SettlementRef, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListByTask returns the task's payment history, oldest first.
func (r *PaymentRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, entry_type, amount_cents, commission_cents, hold_id, settlement_ref, created_at
		FROM payment_records WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		if err := rows.Scan(&p.ID, &p.TaskID, &p.EntryType, &p.AmountCents, &p.CommissionCents, &p.HoldID, &p.SettlementRef, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}
