package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exam-orchestrator/internal/assignment"
	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/database"
	"github.com/stemsi/exam-orchestrator/internal/handler"
	"github.com/stemsi/exam-orchestrator/internal/logger"
	"github.com/stemsi/exam-orchestrator/internal/repository"
	"github.com/stemsi/exam-orchestrator/internal/router"
	"github.com/stemsi/exam-orchestrator/internal/service"
	"github.com/stemsi/exam-orchestrator/internal/validator"
	"github.com/stemsi/exam-orchestrator/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup("exam-orchestrator", cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting exam orchestrator")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	scheduleRepo := repository.NewScheduleRepository(pool)
	rosterRepo := repository.NewRosterRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	monitorService := service.NewMonitorService(rdb, sessionRepo, log)
	sessionService := service.NewSessionService(
		cfg, scheduleRepo, rosterRepo, sessionRepo,
		monitorService, service.NewRedisViolationQueue(rdb), log,
	)
	authService := service.NewAuthService(cfg, rdb, studentRepo, staffRepo, sessionService)
	scheduleService := service.NewScheduleService(
		cfg, scheduleRepo, rosterRepo, studentRepo, questionRepo,
		service.NewRedisRegistry(rdb), assignment.NewEngine(cfg.AssignConcurrency), log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(authService, log),
		Schedule:    handler.NewScheduleHandler(scheduleService, sessionService, log),
		ExamSession: handler.NewExamSessionHandler(sessionService, log),
		Monitor:     handler.NewMonitorHandler(scheduleService, monitorService, log),
		WS:          handler.NewWSHandler(sessionService, monitorService, log, cfg.AllowedOrigins),
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workers, workerCtx := errgroup.WithContext(workerCtx)

	activationWorker := worker.NewActivationWorker(scheduleService, cfg.ActivationTick, cfg.SweepInterval, log)
	cleanupWorker := worker.NewSessionCleanupWorker(sessionService, cfg.SweepInterval, log)
	retentionWorker := worker.NewRetentionWorker(scheduleService, cfg.RetentionInterval, log)
	violationWorker := worker.NewViolationLogWorker(pool, rdb, log)

	for _, start := range []func(context.Context){
		activationWorker.Start,
		cleanupWorker.Start,
		retentionWorker.Start,
		violationWorker.Start,
	} {
		workers.Go(func() error {
			start(workerCtx)
			return nil
		})
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	if err := workers.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker exited with error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
