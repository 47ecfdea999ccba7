// Package sweeper runs the periodic maintenance passes on a cron schedule:
// broadcast window expiry, task deadline expiry, and payment-hold
// reconciliation. Every sweep mutates state through the same compare-and-set
// paths as live requests, so running alongside them is safe.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// WindowTicker is the broadcast manager's sweep entry point.
type WindowTicker interface {
	Tick(ctx context.Context, now time.Time) error
}

// TaskSweeps are the coordinator's sweep entry points.
type TaskSweeps interface {
	ExpireOverdue(ctx context.Context, now time.Time) error
	Reconcile(ctx context.Context, now time.Time) error
}

// Sweeper wraps cron-based maintenance jobs.
type Sweeper struct {
	cron    *cron.Cron
	windows WindowTicker
	tasks   TaskSweeps
	logger  *slog.Logger
}

func New(windows WindowTicker, tasks TaskSweeps, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cron:    cron.New(cron.WithSeconds()),
		windows: windows,
		tasks:   tasks,
		logger:  logger,
	}
}

// Start schedules the sweep at the given interval and starts the scheduler.
func (s *Sweeper) Start(interval time.Duration) error {
	secs := int(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	spec := fmt.Sprintf("@every %ds", secs)
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", "interval", interval)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runOnce is one full maintenance pass.
func (s *Sweeper) runOnce() {
	s.RunOnce(context.Background(), time.Now())
}

func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) {
	if err := s.windows.Tick(ctx, now); err != nil {
		s.logger.Error("broadcast tick failed", "error", err)
	}
	if err := s.tasks.ExpireOverdue(ctx, now); err != nil {
		s.logger.Error("task expiry sweep failed", "error", err)
	}
	if err := s.tasks.Reconcile(ctx, now); err != nil {
		s.logger.Error("hold reconciliation failed", "error", err)
	}
}
