package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockWindows struct {
	ticks int
	err   error
}

func (m *mockWindows) Tick(context.Context, time.Time) error {
	m.ticks++
	return m.err
}

type mockTasks struct {
	expired    int
	reconciled int
	expireErr  error
}

func (m *mockTasks) ExpireOverdue(context.Context, time.Time) error {
	m.expired++
	return m.expireErr
}

func (m *mockTasks) Reconcile(context.Context, time.Time) error {
	m.reconciled++
	return nil
}

func TestRunOnce_RunsAllPasses(t *testing.T) {
	w := &mockWindows{}
	tk := &mockTasks{}
	s := New(w, tk, nil)

	s.RunOnce(context.Background(), time.Now())

	if w.ticks != 1 {
		t.Errorf("expected 1 window tick, got %d", w.ticks)
	}
	if tk.expired != 1 || tk.reconciled != 1 {
		t.Errorf("expected 1 expiry and 1 reconcile pass, got %d/%d", tk.expired, tk.reconciled)
	}
}

func TestRunOnce_FailureDoesNotStopLaterPasses(t *testing.T) {
	w := &mockWindows{err: errors.New("db down")}
	tk := &mockTasks{expireErr: errors.New("db down")}
	s := New(w, tk, nil)

	s.RunOnce(context.Background(), time.Now())

	if tk.reconciled != 1 {
		t.Error("reconcile should still run after earlier pass failures")
	}
}

func TestStartStop(t *testing.T) {
	w := &mockWindows{}
	tk := &mockTasks{}
	s := New(w, tk, nil)

	if err := s.Start(time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
