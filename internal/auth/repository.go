package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neighborgigs/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new neighbor and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName string) (*models.Neighbor, error) {
	var n models.Neighbor
	err := r.pool.QueryRow(ctx, `
		INSERT INTO neighbors (email, password_hash, display_name)
		VALUES ($1, $2, $3)
		RETURNING id, email, display_name, payer_ref, points, created_at
	`, email, passwordHash, displayName).Scan(&n.ID, &n.Email, &n.DisplayName, &n.PayerRef, &n.Points, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetByEmail returns the neighbor and password hash for login. Returns nil
// if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Neighbor, string, error) {
	var n models.Neighbor
	var passwordHash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, payer_ref, points, created_at, password_hash
		FROM neighbors WHERE email = $1
	`, email).Scan(&n.ID, &n.Email, &n.DisplayName, &n.PayerRef, &n.Points, &n.CreatedAt, &passwordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return &n, passwordHash, nil
}
