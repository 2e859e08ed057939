package api

import "context"

// Orchestrator is the workflow orchestration and state-synchronisation
// engine. It owns session lifecycle, projects state into the ephemeral
// cache, dispatches work to the external agent system, and ingests the
// progress updates that arrive later via webhook.
type Orchestrator interface {
	// StartWorkflow creates a PENDING session for the event, writes it to
	// both stores, and dispatches to the agent system from a detached
	// goroutine. It returns the freshly created session immediately; a
	// later dispatch failure surfaces as a FAILED session, never as an
	// error to this caller.
	StartWorkflow(ctx context.Context, eventID, userID string, prefs Preferences) (*Session, error)

	// IngestProgress applies a webhook progress update: full overwrite of
	// status, step and list fields, bundle upsert on completion, cache
	// mirror, and a best-effort broadcast. Replaying an identical update
	// yields an identical final state. Returns ErrSessionNotFound for an
	// unknown session and a ValidationError for a FAILED status without
	// an error message; durable write failures propagate so the agent
	// redelivers.
	IngestProgress(ctx context.Context, upd ProgressUpdate) error

	// GetWorkflowStatus returns the projection for the event's most
	// recently started session, reading the cache first and falling back
	// to the durable store joined with the content bundle. It returns
	// (nil, nil) when the event has no session.
	GetWorkflowStatus(ctx context.Context, eventID string) (*Progress, error)

	// GetUserWorkflowStatus returns the projection for the user's most
	// recently started session. The user-to-session pointer lives only
	// in the cache, so after its TTL (or during a cache outage) this
	// returns (nil, nil) even when the session is still stored.
	GetUserWorkflowStatus(ctx context.Context, userID string) (*Progress, error)

	// RegenerateContent starts a new session that re-runs part of the
	// pipeline using the preferences captured by the event's prior
	// session. Returns ErrEventNotFound, with no side effects, when no
	// prior session exists.
	RegenerateContent(ctx context.Context, eventID, userID string, ct ContentType) (*Session, error)

	// CancelWorkflow marks a non-terminal session CANCELLED. This is a
	// status write only; there is no cooperative cancellation of work
	// already handed to the agent system.
	CancelWorkflow(ctx context.Context, sessionID string) (*Session, error)

	// CleanupOldSessions deletes terminal sessions older than the
	// retention cutoff and returns how many were removed. The cache is
	// left alone; its entries expire via TTL.
	CleanupOldSessions(ctx context.Context, retentionDays int) (int64, error)

	// Metrics returns session counts grouped by status.
	Metrics(ctx context.Context) (*Metrics, error)

	// SubscribeToUpdates delivers best-effort progress broadcasts for one
	// session. Updates published before subscribing are not replayed.
	// The returned cancel function must be called to release the
	// subscription.
	SubscribeToUpdates(ctx context.Context, sessionID string) (<-chan *Progress, func())

	// Wait blocks until all in-flight detached dispatches have finished.
	// Intended for graceful shutdown and tests.
	Wait()
}
