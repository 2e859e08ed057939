// Package orchestrator implements the workflow orchestration and
// state-synchronisation engine: session lifecycle, dual-store
// projection, fire-and-forget dispatch, and webhook progress ingestion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/contentops/promoflow/internal/cache"
	"github.com/contentops/promoflow/internal/store"
	"github.com/contentops/promoflow/pkg/api"
	"github.com/google/uuid"
)

// DefaultInitialETA is the estimate written into a fresh projection; the
// agent pipeline typically completes within a few minutes.
const DefaultInitialETA = 3 * time.Minute

// Config tunes an Orchestrator. The zero value is usable.
type Config struct {
	// Logger receives structured lifecycle events. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Keys is the cache key namespace shared with the Cache
	// implementation.
	Keys cache.Keys

	// InitialETA seeds the time-remaining estimate of new sessions.
	// Defaults to DefaultInitialETA.
	InitialETA time.Duration

	// StrictTransitions enables the status transition guard on progress
	// ingestion. Off by default: the agent system may re-announce any
	// state at any time, and rejecting that would break redelivery.
	StrictTransitions bool
}

// Orchestrator composes the durable store, the ephemeral cache and the
// agent dispatch client. It is safe for concurrent use.
type Orchestrator struct {
	store      store.Store
	cache      cache.Cache
	dispatcher api.Dispatcher

	logger     *slog.Logger
	keys       cache.Keys
	initialETA time.Duration
	strict     bool

	// wg tracks detached dispatch goroutines for graceful shutdown.
	wg sync.WaitGroup

	// now is swappable in tests.
	now func() time.Time
}

var _ api.Orchestrator = (*Orchestrator)(nil)

// New creates an Orchestrator over the given store, cache and
// dispatcher.
func New(st store.Store, c cache.Cache, d api.Dispatcher, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	eta := cfg.InitialETA
	if eta <= 0 {
		eta = DefaultInitialETA
	}
	keys := cfg.Keys
	if keys.Service == "" {
		keys = cache.NewKeys("")
	}
	return &Orchestrator{
		store:      st,
		cache:      c,
		dispatcher: d,
		logger:     logger,
		keys:       keys,
		initialETA: eta,
		strict:     cfg.StrictTransitions,
		now:        time.Now,
	}
}

func (o *Orchestrator) StartWorkflow(ctx context.Context, eventID, userID string, prefs api.Preferences) (*api.Session, error) {
	normalizePreferences(&prefs)

	sess := &api.Session{
		ID:             uuid.NewString(),
		EventID:        eventID,
		UserID:         userID,
		Status:         api.StatusPending,
		CurrentStep:    api.StepValidateInput,
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		StartedAt:      o.now().UTC(),
		LLMModel:       prefs.LLMModel,
		Preferences:    prefs,
	}

	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	o.project(ctx, sess, nil)
	o.trackUserSession(ctx, sess)

	o.logger.InfoContext(ctx, "workflow_started",
		slog.String("session_id", sess.ID),
		slog.String("event_id", eventID),
		slog.String("user_id", userID),
	)

	o.wg.Add(1)
	go o.dispatchDetached(sess.Clone(), "")

	return sess, nil
}

func (o *Orchestrator) RegenerateContent(ctx context.Context, eventID, userID string, ct api.ContentType) (*api.Session, error) {
	prior, err := o.store.LatestSessionForEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("regenerate %s for event %s: %w", ct, eventID, err)
	}

	sess := &api.Session{
		ID:             uuid.NewString(),
		EventID:        eventID,
		UserID:         userID,
		Status:         api.StatusPending,
		CurrentStep:    "regenerate_" + string(ct),
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		StartedAt:      o.now().UTC(),
		LLMModel:       prior.LLMModel,
		Preferences:    prior.Preferences.Clone(),
	}

	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create regeneration session: %w", err)
	}

	o.project(ctx, sess, nil)
	o.trackUserSession(ctx, sess)

	o.logger.InfoContext(ctx, "regeneration_started",
		slog.String("session_id", sess.ID),
		slog.String("event_id", eventID),
		slog.String("content_type", string(ct)),
	)

	o.wg.Add(1)
	go o.dispatchDetached(sess.Clone(), ct)

	return sess, nil
}

// dispatchDetached runs the agent dispatch outside the caller's request.
// Whatever goes wrong in here is turned into a FAILED session; it must
// never reach, or block, the caller who already holds the created
// session.
func (o *Orchestrator) dispatchDetached(sess *api.Session, ct api.ContentType) {
	defer o.wg.Done()

	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			o.markDispatchFailed(ctx, sess, fmt.Errorf("dispatch panic: %v", r))
		}
	}()

	req := api.DispatchRequest{
		SessionID:   sess.ID,
		EventID:     sess.EventID,
		UserID:      sess.UserID,
		ContentType: ct,
		LLMModel:    sess.LLMModel,
		Preferences: sess.Preferences,
	}

	var err error
	if ct == "" {
		err = o.dispatcher.TriggerWorkflow(ctx, req)
	} else {
		err = o.dispatcher.TriggerRegeneration(ctx, req)
	}
	if err != nil {
		o.markDispatchFailed(ctx, sess, err)
		return
	}

	// Acknowledged: the agent owns the work now. A full run advances to
	// the first real pipeline step; a regeneration keeps its label.
	sess.Status = api.StatusInProgress
	if ct == "" {
		sess.CurrentStep = api.StepCreateFlyer
	}
	o.persistTransition(ctx, sess)

	o.logger.InfoContext(ctx, "dispatch_acknowledged",
		slog.String("session_id", sess.ID),
		slog.String("event_id", sess.EventID),
	)
}

func (o *Orchestrator) markDispatchFailed(ctx context.Context, sess *api.Session, cause error) {
	attempted := sess.CurrentStep
	sess.Status = api.StatusFailed
	sess.ErrorMessage = cause.Error()
	sess.FailedSteps = append(sess.FailedSteps, attempted)
	o.persistTransition(ctx, sess)

	o.logger.ErrorContext(ctx, "dispatch_failed",
		slog.String("session_id", sess.ID),
		slog.String("event_id", sess.EventID),
		slog.String("step", attempted),
		slog.Any("error", cause),
	)
}

// persistTransition writes an internal status transition to both stores
// and broadcasts it. Durable failures here have no caller to report to;
// they are logged and the cache still reflects the transition.
func (o *Orchestrator) persistTransition(ctx context.Context, sess *api.Session) {
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		o.logger.ErrorContext(ctx, "session_update_failed",
			slog.String("session_id", sess.ID),
			slog.Any("error", err),
		)
	}
	p := o.project(ctx, sess, nil)
	o.cache.PublishUpdate(ctx, p)
}

func (o *Orchestrator) IngestProgress(ctx context.Context, upd api.ProgressUpdate) error {
	// A failure report must say what failed.
	if upd.Status == api.StatusFailed && upd.ErrorMessage == "" {
		return &api.ValidationError{Field: "error_message", Reason: "required when status is FAILED"}
	}

	sess, err := o.store.GetSession(ctx, upd.SessionID)
	if err != nil {
		return fmt.Errorf("ingest progress for session %s: %w", upd.SessionID, err)
	}

	if o.strict && !allowedTransition(sess.Status, upd.Status) {
		return fmt.Errorf("ingest progress for session %s: %s -> %s: %w",
			upd.SessionID, sess.Status, upd.Status, api.ErrInvalidTransition)
	}

	wasCompleted := sess.Status == api.StatusCompleted

	// Full overwrite, not a merge: the webhook payload is the new truth
	// for every mutable field.
	sess.Status = upd.Status
	sess.CurrentStep = upd.CurrentStep
	sess.CompletedSteps = upd.CompletedSteps
	if sess.CompletedSteps == nil {
		sess.CompletedSteps = []string{}
	}
	sess.FailedSteps = upd.FailedSteps
	if sess.FailedSteps == nil {
		sess.FailedSteps = []string{}
	}
	// ErrorMessage is non-empty exactly on FAILED sessions: any message
	// carried by a non-failure payload is stale and dropped.
	sess.ErrorMessage = ""
	if upd.Status == api.StatusFailed {
		sess.ErrorMessage = upd.ErrorMessage
	}

	switch {
	case upd.Status == api.StatusCompleted && sess.CompletedAt == nil:
		t := o.now().UTC()
		sess.CompletedAt = &t
	case upd.Status != api.StatusCompleted:
		sess.CompletedAt = nil
	}

	if err := o.store.UpdateSession(ctx, sess); err != nil {
		// Intentionally propagated: the webhook caller retries delivery.
		return fmt.Errorf("persist progress for session %s: %w", upd.SessionID, err)
	}

	var content *api.GeneratedContent
	if upd.GeneratedContent != nil && upd.Status == api.StatusCompleted {
		if wasCompleted {
			// Redelivery of a completion we already applied: leave the
			// bundle alone so generation_count stays idempotent.
			if b, err := o.store.GetBundle(ctx, sess.EventID); err == nil {
				content = &b.Content
			}
		} else {
			bundle, err := o.store.UpsertBundle(ctx, sess.EventID, *upd.GeneratedContent)
			if err != nil {
				return fmt.Errorf("upsert content bundle for event %s: %w", sess.EventID, err)
			}
			content = &bundle.Content
		}
	} else if upd.GeneratedContent != nil {
		content = upd.GeneratedContent
	}

	p := o.project(ctx, sess, content)
	o.cache.PublishUpdate(ctx, p)

	o.logger.InfoContext(ctx, "progress_ingested",
		slog.String("session_id", sess.ID),
		slog.String("status", string(sess.Status)),
		slog.String("step", sess.CurrentStep),
	)
	return nil
}

func (o *Orchestrator) GetWorkflowStatus(ctx context.Context, eventID string) (*api.Progress, error) {
	sess, err := o.store.LatestSessionForEvent(ctx, eventID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup session for event %s: %w", eventID, err)
	}

	if p, ok := o.cache.GetProgress(ctx, sess.ID); ok {
		return p, nil
	}

	// Cache miss or cache down: rebuild the projection from the durable
	// store joined with the content bundle.
	var content *api.GeneratedContent
	if bundle, err := o.store.GetBundle(ctx, eventID); err == nil {
		content = &bundle.Content
	}
	return o.buildProgress(sess, content), nil
}

// GetUserWorkflowStatus resolves the user's most recent session through
// the cache pointer written at start time. The pointer shares the
// projection's TTL, so this lookup is only as durable as the cache;
// expiry or a cache outage reads as "no recent workflow".
func (o *Orchestrator) GetUserWorkflowStatus(ctx context.Context, userID string) (*api.Progress, error) {
	sessionID, ok := o.cache.Get(ctx, o.keys.Session(userID))
	if !ok {
		return nil, nil
	}

	if p, ok := o.cache.GetProgress(ctx, sessionID); ok {
		return p, nil
	}

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup session %s for user %s: %w", sessionID, userID, err)
	}
	var content *api.GeneratedContent
	if bundle, err := o.store.GetBundle(ctx, sess.EventID); err == nil {
		content = &bundle.Content
	}
	return o.buildProgress(sess, content), nil
}

func (o *Orchestrator) CancelWorkflow(ctx context.Context, sessionID string) (*api.Session, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("cancel session %s: %w", sessionID, api.ErrSessionTerminal)
	}

	sess.Status = api.StatusCancelled
	sess.CurrentStep = "cancelled"
	if err := o.store.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	p := o.project(ctx, sess, nil)
	o.cache.PublishUpdate(ctx, p)

	o.logger.InfoContext(ctx, "workflow_cancelled", slog.String("session_id", sessionID))
	return sess, nil
}

func (o *Orchestrator) CleanupOldSessions(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := o.now().UTC().AddDate(0, 0, -retentionDays)
	removed, err := o.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	o.logger.InfoContext(ctx, "sessions_cleaned",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff),
	)
	return removed, nil
}

func (o *Orchestrator) Metrics(ctx context.Context) (*api.Metrics, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	m := &api.Metrics{ByStatus: counts}
	for _, n := range counts {
		m.Total += n
	}
	return m, nil
}

func (o *Orchestrator) SubscribeToUpdates(ctx context.Context, sessionID string) (<-chan *api.Progress, func()) {
	return o.cache.Subscribe(ctx, sessionID)
}

// Wait blocks until all detached dispatch goroutines have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// project writes the session's projection into the cache and returns it.
func (o *Orchestrator) project(ctx context.Context, sess *api.Session, content *api.GeneratedContent) *api.Progress {
	p := o.buildProgress(sess, content)
	o.cache.SetProgress(ctx, p)
	return p
}

func (o *Orchestrator) buildProgress(sess *api.Session, content *api.GeneratedContent) *api.Progress {
	return &api.Progress{
		SessionID:            sess.ID,
		EventID:              sess.EventID,
		UserID:               sess.UserID,
		Status:               sess.Status,
		CurrentStep:          sess.CurrentStep,
		CompletedSteps:       sess.CompletedSteps,
		FailedSteps:          sess.FailedSteps,
		ProgressPercent:      api.ProgressPercent(sess.CompletedSteps),
		EstimatedSecondsLeft: o.estimateSecondsLeft(sess),
		StartedAt:            sess.StartedAt,
		CompletedAt:          sess.CompletedAt,
		ErrorMessage:         sess.ErrorMessage,
		GeneratedContent:     content,
	}
}

func (o *Orchestrator) estimateSecondsLeft(sess *api.Session) int {
	if sess.Status.Terminal() {
		return 0
	}
	remaining := o.initialETA - o.now().Sub(sess.StartedAt)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining / time.Second)
}

// trackUserSession records the user's most recent session under the
// session namespace; GetUserWorkflowStatus reads it back.
func (o *Orchestrator) trackUserSession(ctx context.Context, sess *api.Session) {
	if sess.UserID == "" {
		return
	}
	o.cache.Set(ctx, o.keys.Session(sess.UserID), sess.ID, cache.ProgressTTL)
}

func normalizePreferences(p *api.Preferences) {
	if p.FlyerStyle == "" {
		p.FlyerStyle = "professional"
	}
	if len(p.TargetAudience) == 0 {
		p.TargetAudience = []string{"general-public"}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, api.ErrEventNotFound) || errors.Is(err, api.ErrSessionNotFound)
}
