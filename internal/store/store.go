// Package store provides the authoritative persistence layer for
// workflow sessions and generated-content bundles. The orchestrator
// depends only on the Store contract; memory, SQLite and Postgres
// implementations are provided.
package store

import (
	"context"
	"time"

	"github.com/contentops/promoflow/pkg/api"
)

// Store is the durable persistence contract consumed by the
// orchestrator. Implementations must provide row-level atomicity for
// each call; no cross-call transactionality is assumed.
type Store interface {
	// CreateSession persists a freshly created session.
	CreateSession(ctx context.Context, s *api.Session) error

	// GetSession returns the session with the given ID, or
	// api.ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*api.Session, error)

	// LatestSessionForEvent returns the most recently started session for
	// an event, or api.ErrEventNotFound when the event has none.
	LatestSessionForEvent(ctx context.Context, eventID string) (*api.Session, error)

	// UpdateSession overwrites the stored session. Returns
	// api.ErrSessionNotFound if it does not exist.
	UpdateSession(ctx context.Context, s *api.Session) error

	// CountByStatus returns session counts grouped by status.
	CountByStatus(ctx context.Context) (map[api.Status]int64, error)

	// UpsertBundle merges content into the event's bundle, incrementing
	// GenerationCount and refreshing LastRegenerated. The bundle is
	// created on first use. Returns the resulting bundle.
	UpsertBundle(ctx context.Context, eventID string, content api.GeneratedContent) (*api.ContentBundle, error)

	// GetBundle returns the event's content bundle, or
	// api.ErrBundleNotFound.
	GetBundle(ctx context.Context, eventID string) (*api.ContentBundle, error)

	// DeleteTerminalBefore removes sessions that are in a terminal status
	// and started before the cutoff. Returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
