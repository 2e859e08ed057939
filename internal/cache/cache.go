// Package cache provides the ephemeral, disposable side of the dual
// store: TTL key-value entries, sliding-window rate limiting, and
// best-effort pub/sub for workflow progress.
//
// Every operation fails open. When the backing store is unreachable,
// writes are dropped, reads report "no value", the rate limiter allows
// the request, and publishes go nowhere. Errors are logged, never
// returned: the cache must not be able to block or fail the
// orchestrator's critical path.
package cache

import (
	"context"
	"time"

	"github.com/contentops/promoflow/pkg/api"
)

// ProgressTTL bounds how long a progress projection stays readable
// without a refresh. The durable store is the backstop after expiry.
const ProgressTTL = 24 * time.Hour

// Cache is the ephemeral store contract consumed by the orchestrator.
// Note that no method returns an error: implementations swallow backend
// failures internally (fail-open) and log them.
type Cache interface {
	// Get returns the value for key, or ok=false on a miss or backend
	// failure.
	Get(ctx context.Context, key string) (value string, ok bool)

	// Set stores value under key with the given TTL. ttl <= 0 means no
	// expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration)

	// Del removes key.
	Del(ctx context.Context, key string)

	// Exists reports whether key is present. A backend failure reads as
	// absent.
	Exists(ctx context.Context, key string) bool

	// SetProgress stores a session's progress projection under the
	// workflow namespace with ProgressTTL.
	SetProgress(ctx context.Context, p *api.Progress)

	// GetProgress returns the cached projection for a session, or
	// ok=false on miss, decode failure, or backend failure.
	GetProgress(ctx context.Context, sessionID string) (*api.Progress, bool)

	// RemoveProgress drops a session's cached projection.
	RemoveProgress(ctx context.Context, sessionID string)

	// CheckRateLimit applies a sliding-window limit for identifier:
	// entries older than the window are discarded, and the request is
	// rejected once maxRequests entries remain. On backend failure the
	// request is allowed; availability wins over strictness here.
	CheckRateLimit(ctx context.Context, identifier string, window time.Duration, maxRequests int) RateLimitResult

	// PublishUpdate broadcasts a progress update on the session's
	// channel. Best-effort: no buffering, no replay, and subscribers that
	// connect afterwards receive nothing for this event.
	PublishUpdate(ctx context.Context, p *api.Progress)

	// Subscribe returns a channel of progress updates for one session
	// and a cancel function that releases the subscription.
	Subscribe(ctx context.Context, sessionID string) (<-chan *api.Progress, func())
}

// RateLimitResult is the outcome of a CheckRateLimit call.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetTime time.Time
}

// Keys builds the cache key namespace. The service prefix keeps
// subsystems sharing one backend from colliding.
type Keys struct {
	Service string
}

// NewKeys returns a Keys with the given service prefix, defaulting to
// "promoflow".
func NewKeys(service string) Keys {
	if service == "" {
		service = "promoflow"
	}
	return Keys{Service: service}
}

// Workflow is the key for a session's progress projection.
func (k Keys) Workflow(sessionID string) string {
	return k.Service + ":workflow:" + sessionID
}

// Session is the key for per-user session bookkeeping.
func (k Keys) Session(userID string) string {
	return k.Service + ":session:" + userID
}

// RateLimit is the key for an identifier's sliding window.
func (k Keys) RateLimit(identifier string) string {
	return k.Service + ":ratelimit:" + identifier
}

// Updates is the pub/sub channel name for a session.
func (k Keys) Updates(sessionID string) string {
	return k.Service + ":updates:" + sessionID
}
