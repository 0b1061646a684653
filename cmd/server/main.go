// Package main is the entrypoint for the PicFlow API server.
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

	"github.com/kiranshivaraju/picflow/internal/ai"
	"github.com/kiranshivaraju/picflow/internal/api"
	"github.com/kiranshivaraju/picflow/internal/api/handler"
	mw "github.com/kiranshivaraju/picflow/internal/api/middleware"
	"github.com/kiranshivaraju/picflow/internal/cache"
	"github.com/kiranshivaraju/picflow/internal/config"
	"github.com/kiranshivaraju/picflow/internal/events"
	"github.com/kiranshivaraju/picflow/internal/metadata"
	"github.com/kiranshivaraju/picflow/internal/picture"
	"github.com/kiranshivaraju/picflow/internal/pipeline"
	"github.com/kiranshivaraju/picflow/internal/queue"
	"github.com/kiranshivaraju/picflow/internal/status"
	"github.com/kiranshivaraju/picflow/internal/storage"
	"github.com/kiranshivaraju/picflow/internal/store"
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
	// 1. Load config, failing fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"ai_provider", cfg.AI.Provider,
		"storage_backend", cfg.Storage.DefaultBackend,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Run migrations. They create the vector extension, which the pool
	// registers types for on connect.
	if err := store.RunMigrations(cfg.Database.URL, cfg.Server.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 3. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	pgStore := store.NewPostgresStore(pool)
	slog.Info("database connected")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Storage backends
	registry, err := buildStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	slog.Info("storage ready", "default_backend", registry.Default().Name())

	// 6. Create AI provider
	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	annotator := ai.NewAnnotationService(provider, cfg.AI.InferenceTimeout, cfg.AI.EmbeddingDimensions, slog.Default())
	slog.Info("AI provider initialized", "provider", annotator.Name())

	// 7. Processing pipeline and queue
	publisher := events.New(cfg.Events, slog.Default())
	defer publisher.Close()

	statuses := status.NewTable()
	proc := pipeline.New(pipeline.Dependencies{
		Store:     pgStore,
		Storage:   registry,
		Extractor: metadata.NewExtractor(metadata.PolicyFromConfig(cfg.Thumbnail)),
		Annotator: annotator,
		Statuses:  statuses,
		Cache:     redisCache,
		Events:    publisher,
		Logger:    slog.Default(),
		StatusTTL: cfg.Redis.StatusTTL,
	})

	jobs := queue.New(proc, statuses, pgStore, registry, slog.Default(),
		queue.WithWorkers(cfg.Queue.Workers),
		queue.WithCapacity(cfg.Queue.Capacity),
		queue.WithJobTimeout(cfg.Queue.JobTimeout),
		queue.WithStatusMirror(redisCache, cfg.Redis.StatusTTL),
	)

	restored, err := jobs.RestoreUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("restore unfinished jobs: %w", err)
	}
	slog.Info("unfinished jobs restored",
		"restored", restored.Restored,
		"failed", restored.Failed,
		"skipped", restored.Skipped)

	// 8. Build router with dependencies
	pictures := picture.NewService(pgStore, registry, jobs, slog.Default())

	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache, jobs, statuses),
		UploadHandler:    handler.NewUploadHandler(pictures, cfg.Server.MaxUploadBytes),
		StatusHandler:    handler.NewStatusHandler(jobs, redisCache),
		TasksHandler:     handler.NewTasksHandler(jobs),
		ReprocessHandler: handler.NewReprocessHandler(pictures),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
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
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown: stop taking requests, then let in-flight jobs finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	queueCtx, cancelQueue := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancelQueue()
	if err := jobs.Shutdown(queueCtx); err != nil {
		slog.Warn("queue shutdown incomplete, unfinished jobs resume on next start", "error", err)
	}

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

// buildStorage registers the local backend and, when configured, S3.
func buildStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Registry, error) {
	local, err := storage.NewLocalBackend(cfg.Local.Root, cfg.Local.BaseURL)
	if err != nil {
		return nil, err
	}
	backends := []storage.Backend{local}

	if cfg.S3.Enabled() {
		s3, err := storage.NewS3Backend(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		backends = append(backends, s3)
	}

	return storage.NewRegistry(cfg.DefaultBackend, backends...)
}
