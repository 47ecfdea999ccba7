package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborgigs/backend/internal/models"
)

// TransitionRepo is the append-only audit trail of task state changes.
type TransitionRepo struct {
	pool *pgxpool.Pool
}

func NewTransitionRepo(pool *pgxpool.Pool) *TransitionRepo {
	return &TransitionRepo{pool: pool}
}

// CreateTx appends an audit row inside the transaction that performed the
// state change, so the trail cannot miss a committed transition.
func (r *TransitionRepo) CreateTx(ctx context.Context, tx pgx.Tx, tr *models.TaskTransition) error {
	return tx.QueryRow(ctx, `
		INSERT INTO task_transitions (id, task_id, from_state, to_state, actor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, tr.ID, tr.TaskID, tr.FromState, tr.ToState, tr.ActorID).Scan(&tr.CreatedAt)
}

// ListByTask returns a task's full transition history, oldest first.
func (r *TransitionRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.TaskTransition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, from_state, to_state, actor_id, created_at
		FROM task_transitions WHERE task_id = $1 ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TaskTransition
	for rows.Next() {
		var tr models.TaskTransition
		if err := rows.Scan(&tr.ID, &tr.TaskID, &tr.FromState, &tr.ToState, &tr.ActorID, &tr.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &tr)
	}
	return list, rows.Err()
}
