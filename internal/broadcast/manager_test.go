package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/neighborgigs/backend/internal/models"
	"github.com/neighborgigs/backend/internal/notify"
	"github.com/neighborgigs/backend/internal/repository"
)

// --- noopTx satisfies pgx.Tx; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type memStore struct {
	mu      sync.Mutex
	windows map[uuid.UUID]*models.BroadcastWindow
}

func newMemStore() *memStore {
	return &memStore{windows: make(map[uuid.UUID]*models.BroadcastWindow)}
}

func (m *memStore) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *memStore) Create(_ context.Context, b *models.BroadcastWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.windows[b.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.BroadcastWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.windows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) CloseTx(_ context.Context, _ pgx.Tx, id uuid.UUID, toState string, closedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.windows[id]
	if !ok || b.State != models.BroadcastActive {
		return false, nil
	}
	b.State = toState
	b.ClosedAt = &closedAt
	return true, nil
}

func (m *memStore) ListActive(context.Context) ([]*models.BroadcastWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BroadcastWindow
	for _, b := range m.windows {
		if b.State == models.BroadcastActive {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListExpiredActive(_ context.Context, now time.Time) ([]*models.BroadcastWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BroadcastWindow
	for _, b := range m.windows {
		if b.State == models.BroadcastActive && !now.Before(b.ExpiresAt) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memDetacher struct {
	mu       sync.Mutex
	detached []repository.DetachedTask
	calls    int
}

func (m *memDetacher) DetachFromWindowTx(context.Context, pgx.Tx, uuid.UUID) ([]repository.DetachedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.detached, nil
}

type memTransitions struct {
	mu   sync.Mutex
	rows []*models.TaskTransition
}

func (m *memTransitions) CreateTx(_ context.Context, _ pgx.Tx, tr *models.TaskTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, tr)
	return nil
}

func newTestManager() (*Manager, *memStore, *memDetacher, *memTransitions, *notify.Hub, time.Time) {
	store := newMemStore()
	detacher := &memDetacher{}
	transitions := &memTransitions{}
	hub := notify.NewHub()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	m := NewManager(store, detacher, transitions, hub, nil)
	m.Now = func() time.Time { return now }
	return m, store, detacher, transitions, hub, now
}

func TestOpen_RejectsInconsistentTimes(t *testing.T) {
	m, _, _, _, _, now := newTestManager()
	helper := uuid.New()

	// Expiry before leaving time.
	_, err := m.Open(context.Background(), helper, models.ErrandGrocery, "", 1.0, now.Add(time.Hour), now.Add(30*time.Minute))
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
	// Leaving time already past.
	_, err = m.Open(context.Background(), helper, models.ErrandGrocery, "", 1.0, now.Add(-time.Minute), now.Add(time.Hour))
	if !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestOpen_CreatesActiveWindow(t *testing.T) {
	m, store, _, _, _, now := newTestManager()
	helper := uuid.New()

	b, err := m.Open(context.Background(), helper, models.ErrandPharmacy, "CVS run", 2.5, now.Add(15*time.Minute), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	stored, err := store.GetByID(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.State != models.BroadcastActive || stored.HelperID != helper {
		t.Fatalf("unexpected window: %+v", stored)
	}
}

func TestEnsureAttachable(t *testing.T) {
	m, _, _, _, _, now := newTestManager()
	helper := uuid.New()

	b, err := m.Open(context.Background(), helper, models.ErrandCoffee, "", 1.0, now.Add(10*time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.EnsureAttachable(context.Background(), b.ID); err != nil {
		t.Fatalf("EnsureAttachable on live window: %v", err)
	}

	if err := m.Close(context.Background(), b.ID, helper, CloseManual); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.EnsureAttachable(context.Background(), b.ID); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

// A window found past expiry on the attach path is expired on the spot.
func TestEnsureAttachable_ExpiresLazily(t *testing.T) {
	m, store, detacher, _, _, now := newTestManager()
	helper := uuid.New()

	b, err := m.Open(context.Background(), helper, models.ErrandCoffee, "", 1.0, now.Add(10*time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.Now = func() time.Time { return now.Add(2 * time.Hour) }

	if _, err := m.EnsureAttachable(context.Background(), b.ID); !errors.Is(err, ErrWindowExpired) {
		t.Fatalf("expected ErrWindowExpired, got %v", err)
	}
	stored, _ := store.GetByID(context.Background(), b.ID)
	if stored.State != models.BroadcastExpired {
		t.Fatalf("state = %s, want expired", stored.State)
	}
	if detacher.calls != 1 {
		t.Fatalf("detach calls = %d, want 1", detacher.calls)
	}
}

func TestClose_OwnerOnly(t *testing.T) {
	m, _, _, _, _, now := newTestManager()
	helper := uuid.New()

	b, err := m.Open(context.Background(), helper, models.ErrandPackage, "", 1.0, now.Add(10*time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Close(context.Background(), b.ID, uuid.New(), CloseManual); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestClose_IdempotentAndAudited(t *testing.T) {
	m, store, detacher, transitions, _, now := newTestManager()
	helper := uuid.New()
	taskID := uuid.New()

	b, err := m.Open(context.Background(), helper, models.ErrandGrocery, "", 1.0, now.Add(10*time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// One attached task had a live offer, one was still pending.
	detacher.detached = []repository.DetachedTask{
		{Task: &models.Task{ID: taskID}, FromState: models.TaskStateOffered},
		{Task: &models.Task{ID: uuid.New()}, FromState: models.TaskStatePendingMatch},
	}

	if err := m.Close(context.Background(), b.ID, helper, CloseManual); err != nil {
		t.Fatalf("Close: %v", err)
	}
	stored, _ := store.GetByID(context.Background(), b.ID)
	if stored.State != models.BroadcastCompleted || stored.ClosedAt == nil {
		t.Fatalf("unexpected window after close: %+v", stored)
	}

	// Only the OFFERED task gets an audit row; the pending one just lost
	// its window association.
	if len(transitions.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(transitions.rows))
	}
	if tr := transitions.rows[0]; tr.TaskID != taskID || tr.FromState != models.TaskStateOffered || tr.ToState != models.TaskStatePendingMatch {
		t.Fatalf("unexpected audit row: %+v", tr)
	}

	// Second close is a no-op.
	if err := m.Close(context.Background(), b.ID, helper, CloseManual); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if detacher.calls != 1 {
		t.Fatalf("detach ran %d times, want 1", detacher.calls)
	}
}

func TestTick_ExpiresOnlyOverdueWindows(t *testing.T) {
	m, store, _, _, _, now := newTestManager()
	helper := uuid.New()

	short, err := m.Open(context.Background(), helper, models.ErrandGrocery, "", 1.0, now.Add(5*time.Minute), now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Open short: %v", err)
	}
	long, err := m.Open(context.Background(), helper, models.ErrandGrocery, "", 1.0, now.Add(5*time.Minute), now.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("Open long: %v", err)
	}

	if err := m.Tick(context.Background(), now.Add(time.Hour)); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	s1, _ := store.GetByID(context.Background(), short.ID)
	s2, _ := store.GetByID(context.Background(), long.ID)
	if s1.State != models.BroadcastExpired {
		t.Errorf("short window state = %s, want expired", s1.State)
	}
	if s2.State != models.BroadcastActive {
		t.Errorf("long window state = %s, want active", s2.State)
	}
}

func TestClose_PublishesEvents(t *testing.T) {
	m, _, detacher, _, hub, now := newTestManager()
	helper := uuid.New()
	taskID := uuid.New()

	b, err := m.Open(context.Background(), helper, models.ErrandGrocery, "", 1.0, now.Add(10*time.Minute), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	detacher.detached = []repository.DetachedTask{
		{Task: &models.Task{ID: taskID}, FromState: models.TaskStateOffered},
	}

	events, cancel := hub.Subscribe(notify.Filter{BroadcastID: b.ID})
	defer cancel()

	if err := m.Close(context.Background(), b.ID, helper, CloseManual); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var kinds []string
	for len(kinds) < 2 {
		select {
		case e := <-events:
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", kinds)
		}
	}
	var sawClosed, sawStateChange bool
	for _, k := range kinds {
		switch k {
		case notify.EventBroadcastClosed:
			sawClosed = true
		case notify.EventTaskStateChanged:
			sawStateChange = true
		}
	}
	if !sawClosed || !sawStateChange {
		t.Fatalf("expected broadcast_closed and task_state_changed, got %v", kinds)
	}
}
