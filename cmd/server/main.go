// Package main is the entrypoint for the Stager API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/internal/api"
	"github.com/kiranshivaraju/stager/internal/api/handler"
	mw "github.com/kiranshivaraju/stager/internal/api/middleware"
	"github.com/kiranshivaraju/stager/internal/cache"
	"github.com/kiranshivaraju/stager/internal/catalog"
	"github.com/kiranshivaraju/stager/internal/config"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/queue"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/internal/storage"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"worker_mode", cfg.Worker.Mode,
		"render_provider", cfg.Render.Provider,
		"storage_driver", cfg.Storage.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the job store; Postgres when DATABASE_URL is set, memory otherwise
	st, closeStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()
	if err := st.InitCredits(ctx, cfg.Credits.Initial, cfg.Credits.Total); err != nil {
		return fmt.Errorf("init credits: %w", err)
	}
	slog.Info("store ready", "persistent", cfg.Database.URL != "")

	// 3. Optional Redis cache
	var redisCache *cache.RedisCache
	if cfg.Redis.URL != "" {
		redisCache, err = cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer redisCache.Close()

		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("redis connected")
	}

	// 4. Object storage and render backend
	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create object storage: %w", err)
	}
	backend, err := render.NewBackend(cfg.Render)
	if err != nil {
		return fmt.Errorf("create render backend: %w", err)
	}
	slog.Info("render backend initialized", "provider", backend.Name())

	// 5. Staging service and its dispatcher
	ledger := credits.NewLedger(st)
	var opts []staging.Option
	if redisCache != nil {
		opts = append(opts, staging.WithCache(redisCache))
	}
	svc := staging.NewService(st, ledger, opts...)

	switch cfg.Worker.Mode {
	case config.WorkerModeQueue:
		redisOpt, err := queue.RedisOpt(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		qc := asynq.NewClient(redisOpt)
		defer qc.Close()
		svc.SetDispatcher(queue.NewDispatcher(qc))
	default:
		exec := staging.NewExecutor(svc, backend, cfg.Render.Timeout)
		timers := staging.NewTimerDispatcher(exec, clockwork.NewRealClock(),
			cfg.Staging.ProcessingDelay, cfg.Staging.CompletionDelay)
		defer timers.Stop()
		svc.SetDispatcher(timers)
	}
	slog.Info("staging dispatcher ready", "mode", cfg.Worker.Mode)

	// Jobs persisted by a previous run have no timer or task driving them.
	// Inline mode owns processing jobs too; in queue mode workers do.
	if _, _, err := svc.Resume(ctx, cfg.Worker.Mode != config.WorkerModeQueue); err != nil {
		return fmt.Errorf("resume jobs: %w", err)
	}

	// 6. Bootstrap admin key
	if err := seedAdminKey(ctx, st, cfg.Auth.AdminAPIKey); err != nil {
		return fmt.Errorf("seed admin key: %w", err)
	}

	// 7. Build router with dependencies
	router := newRouter(routerDeps{
		cfg:     cfg,
		store:   st,
		cache:   redisCache,
		objects: objects,
		backend: backend,
		service: svc,
		ledger:  ledger,
	})

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type routerDeps struct {
	cfg     *config.Config
	store   store.Store
	cache   *cache.RedisCache
	objects storage.ObjectStorage
	backend render.Backend
	service *staging.Service
	ledger  *credits.Ledger
}

// readiness is implemented by render backends that can be health checked.
type readiness interface {
	Ready(ctx context.Context) error
}

func newRouter(d routerDeps) http.Handler {
	checks := map[string]handler.Pinger{
		"database": d.store,
		"storage":  d.objects,
		"cache":    nil,
	}
	var counter mw.Counter
	if d.cache != nil {
		checks["cache"] = d.cache
		counter = d.cache
	}
	if r, ok := d.backend.(readiness); ok {
		checks["render"] = handler.PingFunc(r.Ready)
	}

	cat := catalog.New()
	jobs := handler.NewJobHandlers(d.service, d.objects)
	keys := handler.NewKeyHandlers(d.store)

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(d.store),
		RateLimit: mw.NewRateLimit(counter, d.cfg.Auth.RateLimitPerMinute),

		HealthHandler: handler.NewHealthHandler(checks),

		ListStyles: handler.NewListStylesHandler(cat),
		ListItems:  handler.NewListItemsHandler(cat),
		DetectRoom: handler.NewDetectRoomHandler(d.backend, d.objects),
		Estimate:   handler.NewEstimateHandler(),

		GetCredits: handler.NewGetCreditsHandler(d.ledger),
		TopUp:      handler.NewTopUpHandler(d.ledger),

		CreateJob: jobs.Create,
		ListJobs:  jobs.List,
		GetJob:    jobs.Get,
		CancelJob: jobs.Cancel,

		GetObject: handler.NewGetObjectHandler(d.objects),

		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
	})
}

// seedAdminKey stores rawKey as an admin key unless an identical key exists.
func seedAdminKey(ctx context.Context, st store.Store, rawKey string) error {
	if rawKey == "" {
		return nil
	}
	if len(rawKey) < mw.KeyPrefixLen {
		return fmt.Errorf("ADMIN_API_KEY must be at least %d characters", mw.KeyPrefixLen)
	}

	existing, err := st.GetAPIKeyByPrefix(ctx, rawKey[:mw.KeyPrefixLen])
	if err != nil {
		return err
	}
	for _, k := range existing {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(rawKey)) == nil {
			return nil
		}
	}

	key, err := handler.NewAPIKey("bootstrap-admin", rawKey, []string{models.ScopeAdmin})
	if err != nil {
		return err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return err
	}
	slog.Info("admin api key seeded", "key_prefix", key.KeyPrefix)
	return nil
}
