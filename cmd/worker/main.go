// Package main is the entrypoint for the Stager render worker. It consumes
// render tasks enqueued by the API server when WORKER_MODE is queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/stager/internal/cache"
	"github.com/kiranshivaraju/stager/internal/config"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/queue"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := checkQueueConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	backend, err := render.NewBackend(cfg.Render)
	if err != nil {
		return fmt.Errorf("create render backend: %w", err)
	}

	svc := staging.NewService(st, credits.NewLedger(st), staging.WithCache(redisCache))
	exec := staging.NewExecutor(svc, backend, cfg.Render.Timeout)
	processor := queue.NewProcessor(exec, svc)

	redisOpt, err := queue.RedisOpt(cfg.Redis.URL)
	if err != nil {
		return err
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:  cfg.Worker.Concurrency,
		Logger:       asynqLogger{},
		ErrorHandler: asynq.ErrorHandlerFunc(processor.HandleError),
	})

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, draining tasks...")
		server.Shutdown()
	}()

	slog.Info("worker started",
		"concurrency", cfg.Worker.Concurrency,
		"render_provider", backend.Name(),
	)
	if err := server.Run(processor.Handler()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

// checkQueueConfig rejects configurations the worker cannot serve. Jobs
// written by the API must be visible here, so a shared database is required.
func checkQueueConfig(cfg *config.Config) error {
	if cfg.Worker.Mode != config.WorkerModeQueue {
		return errors.New("worker requires WORKER_MODE=queue")
	}
	if cfg.Database.URL == "" {
		return errors.New("worker requires DATABASE_URL; the memory store is not shared with the API server")
	}
	return nil
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Info(args ...any)  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Error(args ...any) { slog.Error(fmt.Sprint(args...), "component", "asynq") }
func (asynqLogger) Fatal(args ...any) {
	slog.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}
