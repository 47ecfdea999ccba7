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

const broadcastColumns = `id, helper_id, errand_type, note, radius_miles, state, leaving_at, expires_at, closed_at, created_at`

// BroadcastRepo persists broadcast windows. The close is a compare-and-set
// on state = 'active' so a manual close and the expiry sweep cannot both win.
type BroadcastRepo struct {
	pool *pgxpool.Pool
}

func NewBroadcastRepo(pool *pgxpool.Pool) *BroadcastRepo {
	return &BroadcastRepo{pool: pool}
}

func (r *BroadcastRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *BroadcastRepo) Create(ctx context.Context, b *models.BroadcastWindow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO broadcasts (id, helper_id, errand_type, note, radius_miles, state, leaving_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, b.ID, b.HelperID, b.ErrandType, b.Note, b.RadiusMiles, b.State, b.LeavingAt, b.ExpiresAt).Scan(&b.CreatedAt)
}

func (r *BroadcastRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastWindow, error) {
	b, err := scanBroadcast(r.pool.QueryRow(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func scanBroadcast(row pgx.Row) (*models.BroadcastWindow, error) {
	var b models.BroadcastWindow
	err := row.Scan(&b.ID, &b.HelperID, &b.ErrandType, &b.Note, &b.RadiusMiles,
		&b.State, &b.LeavingAt, &b.ExpiresAt, &b.ClosedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CloseTx moves active -> completed|expired. A false return means the window
// was already closed, which callers treat as a no-op.
func (r *BroadcastRepo) CloseTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, toState string, closedAt time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE broadcasts SET state = $2, closed_at = $3
		WHERE id = $1 AND state = $4
	`, id, toState, closedAt, models.BroadcastActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListActive returns the live feed of open windows.
func (r *BroadcastRepo) ListActive(ctx context.Context) ([]*models.BroadcastWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastColumns+` FROM broadcasts WHERE state = $1 ORDER BY leaving_at ASC
	`, models.BroadcastActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBroadcasts(rows)
}

// ListExpiredActive returns still-active windows past their expiry, for the
// sweep to close.
func (r *BroadcastRepo) ListExpiredActive(ctx context.Context, now time.Time) ([]*models.BroadcastWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+broadcastColumns+` FROM broadcasts WHERE state = $1 AND expires_at <= $2
	`, models.BroadcastActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBroadcasts(rows)
}

func collectBroadcasts(rows pgx.Rows) ([]*models.BroadcastWindow, error) {
	var list []*models.BroadcastWindow
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
