package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborgigs/backend/internal/models"
)

// NeighborRepo reads accounts for the coordinator: payer references for
// authorization and the points balance for gamification bookkeeping.
type NeighborRepo struct {
	pool *pgxpool.Pool
}

func NewNeighborRepo(pool *pgxpool.Pool) *NeighborRepo {
	return &NeighborRepo{pool: pool}
}

func (r *NeighborRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Neighbor, error) {
	var n models.Neighbor
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, payer_ref, points, created_at
		FROM neighbors WHERE id = $1
	`, id).Scan(&n.ID, &n.Email, &n.DisplayName, &n.PayerRef, &n.Points, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NeighborRepo) AddPoints(ctx context.Context, id uuid.UUID, points int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE neighbors SET points = points + $2 WHERE id = $1
	`, id, points)
	return err
}
