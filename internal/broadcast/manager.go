// Package broadcast manages helper availability windows: a time-boxed
// "heading out" announcement that neighbors attach paid requests to. Windows
// move one way, active -> expired|completed, and a dead window sheds its
// unaccepted requests back into the standalone feed.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/notify"
	"github.com/neighborgigs/backend/internal/repository"
)

// Close reasons.
const (
	CloseManual  = "manual"
	CloseExpired = "expired"
)

var (
	// ErrInvalidWindow rejects a window whose times are inconsistent.
	ErrInvalidWindow = errors.New("invalid window: expiry must follow leaving time, leaving time must be in the future")
	// ErrWindowClosed rejects attachment to a completed window.
	ErrWindowClosed = errors.New("window is closed")
	// ErrWindowExpired rejects attachment to a window past its expiry.
	ErrWindowExpired = errors.New("window has expired")
	// ErrNotOwner rejects a close by anyone but the window's helper.
	ErrNotOwner = errors.New("actor does not own this window")
)

// Store is the broadcast persistence the manager needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, b *models.BroadcastWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BroadcastWindow, error)
	CloseTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, toState string, closedAt time.Time) (bool, error)
	ListActive(ctx context.Context) ([]*models.BroadcastWindow, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]*models.BroadcastWindow, error)
}

// TaskDetacher reverts a dead window's unaccepted tasks to standalone
// PENDING_MATCH. Accepted tasks keep their helper and are untouched.
type TaskDetacher interface {
	DetachFromWindowTx(ctx context.Context, tx pgx.Tx, windowID uuid.UUID) ([]repository.DetachedTask, error)
}

// TransitionStore appends audit rows for the cascade's state reverts.
type TransitionStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, tr *models.TaskTransition) error
}

// Manager owns broadcast window lifecycle. All writes go through the store's
// compare-and-set close so the sweep and a manual close serialize.
type Manager struct {
	Store       Store
	Tasks       TaskDetacher
	Transitions TransitionStore
	Notifier    notify.Publisher
	Logger      *slog.Logger
	// Now is the clock; tests pin it.
	Now func() time.Time
}

func NewManager(store Store, tasks TaskDetacher, transitions TransitionStore, notifier notify.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Store: store, Tasks: tasks, Transitions: transitions, Notifier: notifier, Logger: logger, Now: time.Now}
}

// Open creates an active window for the helper.
func (m *Manager) Open(ctx context.Context, helperID uuid.UUID, errandType, note string, radiusMiles float64, leavingAt, expiresAt time.Time) (*models.BroadcastWindow, error) {
	now := m.Now()
	if !expiresAt.After(leavingAt) || leavingAt.Before(now) {
		return nil, ErrInvalidWindow
	}
	b := &models.BroadcastWindow{
		ID:          uuid.New(),
		HelperID:    helperID,
		ErrandType:  errandType,
		Note:        note,
		RadiusMiles: radiusMiles,
		State:       models.BroadcastActive,
		LeavingAt:   leavingAt,
		ExpiresAt:   expiresAt,
	}
	if err := m.Store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	return b, nil
}

// EnsureAttachable checks that the window can still take requests. A window
// found past its expiry is expired on the spot (cascade included) before the
// error is returned, so the caller never attaches to a dead window.
func (m *Manager) EnsureAttachable(ctx context.Context, id uuid.UUID) (*models.BroadcastWindow, error) {
	b, err := m.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.State != models.BroadcastActive {
		return nil, ErrWindowClosed
	}
	if !m.Now().Before(b.ExpiresAt) {
		if err := m.closeWindow(ctx, b, CloseExpired); err != nil {
			m.Logger.Error("expire window on attach", "broadcast_id", b.ID, "error", err)
		}
		return nil, ErrWindowExpired
	}
	return b, nil
}

// Close ends a window: manual -> completed, expired -> expired. Only the
// owning helper may close manually; actorID uuid.Nil is the system. Closing
// an already-closed window is a no-op.
func (m *Manager) Close(ctx context.Context, id, actorID uuid.UUID, reason string) error {
	if reason != CloseManual && reason != CloseExpired {
		return fmt.Errorf("unknown close reason %q", reason)
	}
	b, err := m.Store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if actorID != uuid.Nil && actorID != b.HelperID {
		return ErrNotOwner
	}
	if b.State != models.BroadcastActive {
		return nil
	}
	return m.closeWindow(ctx, b, reason)
}

// Tick expires every active window past its expiry time. Invoked by the
// periodic sweep; safe to run concurrently with live attaches and closes
// because the close is a compare-and-set.
func (m *Manager) Tick(ctx context.Context, now time.Time) error {
	windows, err := m.Store.ListExpiredActive(ctx, now)
	if err != nil {
		return fmt.Errorf("list expired windows: %w", err)
	}
	for _, b := range windows {
		if err := m.closeWindow(ctx, b, CloseExpired); err != nil {
			m.Logger.Error("expire window", "broadcast_id", b.ID, "error", err)
		}
	}
	return nil
}

// closeWindow performs the one-way state change and, for any close, detaches
// tasks still waiting on the window: the helper's matching offer dies with
// the window, the requester's standing request does not.
func (m *Manager) closeWindow(ctx context.Context, b *models.BroadcastWindow, reason string) error {
	toState := models.BroadcastCompleted
	if reason == CloseExpired {
		toState = models.BroadcastExpired
	}

	tx, err := m.Store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin close tx: %w", err)
	}
	defer tx.Rollback(ctx)

	closed, err := m.Store.CloseTx(ctx, tx, b.ID, toState, m.Now())
	if err != nil {
		return fmt.Errorf("close window: %w", err)
	}
	if !closed {
		// Lost the race to another close. Idempotent.
		return nil
	}

	detached, err := m.Tasks.DetachFromWindowTx(ctx, tx, b.ID)
	if err != nil {
		return fmt.Errorf("detach tasks: %w", err)
	}
	for _, d := range detached {
		if d.FromState == models.TaskStatePendingMatch {
			// Only the association changed; no state edge to audit.
			continue
		}
		if err := m.Transitions.CreateTx(ctx, tx, &models.TaskTransition{
			ID:        uuid.New(),
			TaskID:    d.Task.ID,
			FromState: d.FromState,
			ToState:   models.TaskStatePendingMatch,
			ActorID:   uuid.Nil,
		}); err != nil {
			return fmt.Errorf("audit detach: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit close tx: %w", err)
	}

	if m.Notifier != nil {
		bid := b.ID
		m.Notifier.Publish(notify.Event{
			ID:          uuid.New(),
			Kind:        notify.EventBroadcastClosed,
			BroadcastID: &bid,
			ToState:     toState,
			At:          m.Now(),
		})
		for _, d := range detached {
			m.Notifier.Publish(notify.Event{
				ID:          uuid.New(),
				Kind:        notify.EventTaskStateChanged,
				TaskID:      d.Task.ID,
				BroadcastID: &bid,
				FromState:   d.FromState,
				ToState:     models.TaskStatePendingMatch,
				At:          m.Now(),
			})
		}
	}
	m.Logger.Info("broadcast window closed", "broadcast_id", b.ID, "state", toState, "detached_tasks", len(detached))
	return nil
}
