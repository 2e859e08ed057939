// promoflowd — workflow orchestration server for externally-executed
// content-generation pipelines.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/contentops/promoflow/internal/cache"
	"github.com/contentops/promoflow/internal/config"
	"github.com/contentops/promoflow/internal/dispatch"
	"github.com/contentops/promoflow/internal/httpapi"
	"github.com/contentops/promoflow/internal/orchestrator"
	"github.com/contentops/promoflow/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port)

	st, db, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	if err := db.PingContext(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	keys := cache.NewKeys(cfg.ServicePrefix)
	var c cache.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		c = cache.NewRedisCache(client, keys, logger)
		slog.Info("Redis cache enabled", "addr", cfg.RedisAddr)
	} else {
		c = cache.NewMemoryCache(keys)
		slog.Info("In-process cache enabled")
	}

	dispatcher := dispatch.NewHTTPClient(cfg.AgentBaseURL, cfg.AgentAPIKey)

	orch := orchestrator.New(st, c, dispatcher, orchestrator.Config{
		Logger:            logger,
		Keys:              keys,
		StrictTransitions: cfg.StrictTransitions,
	})

	r := httpapi.NewRouter(orch, c, httpapi.RouterConfig{
		WebhookAPIKey: cfg.WebhookAPIKey,
		RateLimit: httpapi.RateLimitConfig{
			MaxRequests: cfg.RateLimitRequests,
			Window:      cfg.RateLimitWindow,
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCleanupWorker(ctx, orch, cfg.RetentionDays)
	slog.Info("Retention worker started", "retention_days", cfg.RetentionDays)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight dispatches settle before the process exits.
	orch.Wait()

	slog.Info("Server stopped successfully")
}

// openStore picks PostgreSQL when DATABASE_URL is set, otherwise the
// SQLite file at DB_PATH.
func openStore(cfg *config.Config) (store.Store, *sql.DB, error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st, err := store.NewPostgresStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return st, db, nil
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return st, db, nil
}

// startCleanupWorker sweeps terminal sessions past retention once a day.
func startCleanupWorker(ctx context.Context, orch *orchestrator.Orchestrator, retentionDays int) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := orch.CleanupOldSessions(ctx, retentionDays); err != nil {
					slog.Error("Session cleanup failed", "error", err)
				}
			}
		}
	}()
}
