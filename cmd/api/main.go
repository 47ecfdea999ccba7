package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/neighborgigs/backend/internal/auth"
	"github.com/neighborgigs/backend/internal/broadcast"
	"github.com/neighborgigs/backend/internal/config"
	"github.com/neighborgigs/backend/internal/coordinator"
	"github.com/neighborgigs/backend/internal/handlers"
	"github.com/neighborgigs/backend/internal/jobs"
	"github.com/neighborgigs/backend/internal/notify"
	"github.com/neighborgigs/backend/internal/payments"
	"github.com/neighborgigs/backend/internal/repository"
	"github.com/neighborgigs/backend/internal/router"
	"github.com/neighborgigs/backend/internal/services"
	"github.com/neighborgigs/backend/internal/sweeper"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	taskRepo := repository.NewTaskRepo(pool)
	broadcastRepo := repository.NewBroadcastRepo(pool)
	transitionRepo := repository.NewTransitionRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)
	neighborRepo := repository.NewNeighborRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)
	reviewRepo := repository.NewReviewRepo(pool)

	validator, err := services.NewValidator(cfg.SchemaDir)
	if err != nil {
		slog.Error("Failed to load errand schemas", "dir", cfg.SchemaDir, "error", err)
		os.Exit(1)
	}

	hub := notify.NewHub()
	processor := payments.NewSandbox()

	windows := broadcast.NewManager(broadcastRepo, taskRepo, transitionRepo, hub, logger)

	// Coordinator: job insert func is set after the River client exists
	// (breaks the init cycle between coordinator and workers).
	var insertMu sync.Mutex
	var insertFn coordinator.EnqueueTxFunc
	enqueue := func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args, opts)
	}

	coord := coordinator.NewService(
		taskRepo,
		transitionRepo,
		paymentRepo,
		neighborRepo,
		windows,
		processor,
		validator,
		enqueue,
		hub,
		coordinator.Config{
			MinPriceCents:    cfg.MinPriceCents,
			MaxPriceCents:    cfg.MaxPriceCents,
			CommissionRate:   cfg.CommissionRate,
			DefaultDeadline:  cfg.DefaultDeadline,
			AutoConfirmGrace: cfg.AutoConfirmGrace,
			OfferTimeout:     cfg.OfferTimeout,
			ReconcileAfter:   cfg.ReconcileAfter,
		},
		logger,
	)

	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewAutoConfirmWorker(coord))
	river.AddWorker(workers, jobs.NewCaptureWorker(coord))
	river.AddWorker(workers, jobs.NewOfferTimeoutWorker(coord))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error {
		_, err := riverClient.InsertTx(ctx, tx, args, opts)
		return err
	}
	insertMu.Unlock()

	// Auth
	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	authHandler := auth.NewHandler(authSvc, logger)

	apiRouter := router.New(router.Handlers{
		Auth: authHandler,
		Tasks: &handlers.TaskHandler{
			Coord:       coord,
			Tasks:       taskRepo,
			Transitions: transitionRepo,
			Payments:    paymentRepo,
			Logger:      logger,
		},
		Broadcasts: &handlers.BroadcastHandler{
			Windows:       windows,
			Store:         broadcastRepo,
			Tasks:         taskRepo,
			Logger:        logger,
			DefaultExpiry: cfg.BroadcastExpiry,
		},
		Messages: &handlers.MessageHandler{
			Tasks:     taskRepo,
			Messages:  messageRepo,
			Reviews:   reviewRepo,
			Neighbors: neighborRepo,
			Logger:    logger,
		},
		Neighbors: &handlers.NeighborHandler{Neighbors: neighborRepo, Logger: logger},
		Feed:      &handlers.FeedHandler{Hub: hub, Logger: logger},
		Webhooks:  &handlers.WebhookHandler{Coord: coord, Secret: cfg.WebhookSecret, Logger: logger},
	}, authSvc)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	// Periodic sweeps: window expiry, deadline expiry, hold reconciliation.
	sweep := sweeper.New(windows, coord, logger)
	if err := sweep.Start(cfg.SweepInterval); err != nil {
		slog.Error("Failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer sweep.Stop()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
