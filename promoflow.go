package promoflow

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/contentops/promoflow/internal/cache"
	"github.com/contentops/promoflow/internal/dispatch"
	"github.com/contentops/promoflow/internal/orchestrator"
	"github.com/contentops/promoflow/internal/store"
	"github.com/contentops/promoflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Orchestrator     = api.Orchestrator
	Dispatcher       = api.Dispatcher
	DispatchRequest  = api.DispatchRequest
	Session          = api.Session
	Preferences      = api.Preferences
	Status           = api.Status
	ContentType      = api.ContentType
	GeneratedContent = api.GeneratedContent
	ContentBundle    = api.ContentBundle
	ProgressUpdate   = api.ProgressUpdate
	Progress         = api.Progress
	Metrics          = api.Metrics
	ValidationError  = api.ValidationError
)

// Re-export status values for convenience.

const (
	StatusPending         = api.StatusPending
	StatusInProgress      = api.StatusInProgress
	StatusWaitingApproval = api.StatusWaitingApproval
	StatusApproved        = api.StatusApproved
	StatusCompleted       = api.StatusCompleted
	StatusFailed          = api.StatusFailed
	StatusCancelled       = api.StatusCancelled
)

// Re-export regeneration targets.

const (
	ContentFlyer    = api.ContentFlyer
	ContentSocial   = api.ContentSocial
	ContentWhatsApp = api.ContentWhatsApp
	ContentAll      = api.ContentAll
)

var (
	ErrSessionNotFound   = api.ErrSessionNotFound
	ErrEventNotFound     = api.ErrEventNotFound
	ErrBundleNotFound    = api.ErrBundleNotFound
	ErrSessionTerminal   = api.ErrSessionTerminal
	ErrInvalidTransition = api.ErrInvalidTransition
)

// Config tunes an embedded orchestrator.
type Config struct {
	// Logger receives structured lifecycle events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// ServicePrefix namespaces cache keys; defaults to "promoflow".
	ServicePrefix string

	// StrictTransitions rejects progress updates that move a session
	// backwards. Off by default.
	StrictTransitions bool
}

func (c Config) build() orchestrator.Config {
	return orchestrator.Config{
		Logger:            c.Logger,
		Keys:              cache.NewKeys(c.ServicePrefix),
		StrictTransitions: c.StrictTransitions,
	}
}

// Orchestrator constructors
// These wrap the internal packages so external callers never need to
// import them.

// NewMemoryOrchestrator returns an Orchestrator backed entirely by
// in-process stores. Nothing survives a restart; best for tests and
// development.
func NewMemoryOrchestrator(d Dispatcher, cfg Config) Orchestrator {
	keys := cache.NewKeys(cfg.ServicePrefix)
	return orchestrator.New(store.NewMemoryStore(), cache.NewMemoryCache(keys), d, cfg.build())
}

// NewSQLiteOrchestrator returns an Orchestrator that persists sessions
// and content bundles in a SQLite database, with an in-process cache.
func NewSQLiteOrchestrator(db *sql.DB, d Dispatcher, cfg Config) (Orchestrator, error) {
	st, err := store.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	keys := cache.NewKeys(cfg.ServicePrefix)
	return orchestrator.New(st, cache.NewMemoryCache(keys), d, cfg.build()), nil
}

// NewPostgresOrchestrator returns an Orchestrator that persists
// sessions and content bundles in PostgreSQL, projecting ephemeral
// state into Redis.
func NewPostgresOrchestrator(db *sql.DB, rdb *redis.Client, d Dispatcher, cfg Config) (Orchestrator, error) {
	st, err := store.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	keys := cache.NewKeys(cfg.ServicePrefix)
	c := cache.NewRedisCache(rdb, keys, cfg.Logger)
	return orchestrator.New(st, c, d, cfg.build()), nil
}

// NewHTTPDispatcher returns a Dispatcher that hands work to the agent
// system at baseURL, authenticating with apiKey when non-empty.
func NewHTTPDispatcher(baseURL, apiKey string) Dispatcher {
	return dispatch.NewHTTPClient(baseURL, apiKey)
}
