package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contentops/promoflow/internal/cache"
	"github.com/contentops/promoflow/internal/store"
	"github.com/contentops/promoflow/pkg/api"
)

// stubDispatcher records dispatch calls and fails on demand.
type stubDispatcher struct {
	mu       sync.Mutex
	workflow []api.DispatchRequest
	regen    []api.DispatchRequest
	err      error
}

func (d *stubDispatcher) TriggerWorkflow(ctx context.Context, req api.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.workflow = append(d.workflow, req)
	return d.err
}

func (d *stubDispatcher) TriggerRegeneration(ctx context.Context, req api.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regen = append(d.regen, req)
	return d.err
}

func (d *stubDispatcher) workflowCalls() []api.DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.DispatchRequest(nil), d.workflow...)
}

func (d *stubDispatcher) regenCalls() []api.DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]api.DispatchRequest(nil), d.regen...)
}

type fixture struct {
	orch  *Orchestrator
	store *store.MemoryStore
	cache *cache.MemoryCache
	disp  *stubDispatcher
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Keys.Service == "" {
		cfg.Keys = cache.NewKeys("test")
	}
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache(cfg.Keys)
	d := &stubDispatcher{}
	return &fixture{
		orch:  New(st, c, d, cfg),
		store: st,
		cache: c,
		disp:  d,
	}
}

func TestStartWorkflow_CreatesSessionAndDispatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, err := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{
		FlyerStyle: "bold",
		LLMModel:   "gpt-4o",
	})
	if err != nil {
		t.Fatalf("StartWorkflow failed: %v", err)
	}
	if sess.Status != api.StatusPending || sess.CurrentStep != api.StepValidateInput {
		t.Fatalf("fresh session should be PENDING on validate_input, got %s/%s", sess.Status, sess.CurrentStep)
	}
	if sess.LLMModel != "gpt-4o" {
		t.Fatalf("llm model not captured: %q", sess.LLMModel)
	}

	f.orch.Wait()

	calls := f.disp.workflowCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(calls))
	}
	if calls[0].SessionID != sess.ID || calls[0].EventID != "ev-1" {
		t.Fatalf("unexpected dispatch payload: %+v", calls[0])
	}
	if calls[0].Preferences.FlyerStyle != "bold" {
		t.Fatalf("preferences not forwarded: %+v", calls[0].Preferences)
	}

	// Acknowledged dispatch advances the session.
	got, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != api.StatusInProgress || got.CurrentStep != api.StepCreateFlyer {
		t.Fatalf("expected IN_PROGRESS/create_flyer after ack, got %s/%s", got.Status, got.CurrentStep)
	}

	// The projection mirrors the session.
	p, ok := f.cache.GetProgress(ctx, sess.ID)
	if !ok {
		t.Fatal("expected cached projection")
	}
	if p.Status != api.StatusInProgress {
		t.Fatalf("projection out of sync: %+v", p)
	}
}

func TestStartWorkflow_DefaultsPreferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, err := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	if err != nil {
		t.Fatalf("StartWorkflow failed: %v", err)
	}
	if sess.Preferences.FlyerStyle != "professional" {
		t.Fatalf("expected default flyer style, got %q", sess.Preferences.FlyerStyle)
	}
	if len(sess.Preferences.TargetAudience) == 0 {
		t.Fatal("expected default target audience")
	}
	f.orch.Wait()
}

func TestStartWorkflow_DispatchFailureMarksFailedNotPropagated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.disp.err = errors.New("agent unreachable")

	sess, err := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	if err != nil {
		t.Fatalf("dispatch failure must not reach the caller: %v", err)
	}

	f.orch.Wait()

	got, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != api.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected error message recorded")
	}
	if len(got.FailedSteps) != 1 || got.FailedSteps[0] != api.StepValidateInput {
		t.Fatalf("expected attempted step in failed list, got %v", got.FailedSteps)
	}
}

func TestIngestProgress_UnknownSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: "missing",
		Status:    api.StatusInProgress,
	})
	if !errors.Is(err, api.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngestProgress_OverwritesStateWholesale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID:      sess.ID,
		Status:         api.StatusInProgress,
		CurrentStep:    api.StepSetupGoogleDrive,
		CompletedSteps: []string{api.StepValidateInput, api.StepCreateFlyer, api.StepCreateSocialContent, api.StepCreateWhatsAppMessage},
	})
	if err != nil {
		t.Fatalf("IngestProgress failed: %v", err)
	}

	got, _ := f.store.GetSession(ctx, sess.ID)
	if got.CurrentStep != api.StepSetupGoogleDrive {
		t.Fatalf("current step not overwritten: %s", got.CurrentStep)
	}
	if len(got.CompletedSteps) != 4 {
		t.Fatalf("completed steps not replaced: %v", got.CompletedSteps)
	}

	p, ok := f.cache.GetProgress(ctx, sess.ID)
	if !ok {
		t.Fatal("expected cached projection")
	}
	if p.ProgressPercent != 50 {
		t.Fatalf("expected 50%% after 4 of 8 steps, got %d", p.ProgressPercent)
	}
}

func TestIngestProgress_CompletionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	completed := api.ProgressUpdate{
		SessionID:      sess.ID,
		Status:         api.StatusCompleted,
		CurrentStep:    api.StepFinalizeWorkflow,
		CompletedSteps: allSteps(),
		GeneratedContent: &api.GeneratedContent{
			Flyer: &api.FlyerContent{URL: "https://canva.example/final"},
		},
	}

	if err := f.orch.IngestProgress(ctx, completed); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}

	got, _ := f.store.GetSession(ctx, sess.ID)
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at set on completion")
	}
	firstCompletedAt := *got.CompletedAt

	bundle, err := f.store.GetBundle(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetBundle failed: %v", err)
	}
	if bundle.GenerationCount != 1 {
		t.Fatalf("expected generation count 1, got %d", bundle.GenerationCount)
	}

	// Redelivered webhook: same payload, no new side effects.
	if err := f.orch.IngestProgress(ctx, completed); err != nil {
		t.Fatalf("redelivered completion failed: %v", err)
	}

	got, _ = f.store.GetSession(ctx, sess.ID)
	if !got.CompletedAt.Equal(firstCompletedAt) {
		t.Fatalf("completed_at changed on redelivery: %v != %v", got.CompletedAt, firstCompletedAt)
	}
	bundle, _ = f.store.GetBundle(ctx, "ev-1")
	if bundle.GenerationCount != 1 {
		t.Fatalf("generation count must not grow on redelivery, got %d", bundle.GenerationCount)
	}
}

func TestIngestProgress_NonCompletedClearsCompletedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusCompleted, CompletedSteps: allSteps(),
	})
	// Permissive default: the agent may re-announce an earlier state.
	if err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusInProgress, CurrentStep: api.StepFinalizeWorkflow,
	}); err != nil {
		t.Fatalf("permissive mode rejected update: %v", err)
	}

	got, _ := f.store.GetSession(ctx, sess.ID)
	if got.CompletedAt != nil {
		t.Fatal("completed_at must be cleared when the session leaves COMPLETED")
	}
}

func TestIngestProgress_StrictModeRejectsBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{StrictTransitions: true})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	// IN_PROGRESS -> PENDING moves backwards.
	err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusPending,
	})
	if !errors.Is(err, api.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// Re-announcing the current state is always allowed.
	if err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusInProgress,
	}); err != nil {
		t.Fatalf("same-status update rejected: %v", err)
	}

	// Failure is reachable from anywhere non-terminal.
	if err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusFailed, ErrorMessage: "boom",
	}); err != nil {
		t.Fatalf("failure transition rejected: %v", err)
	}

	// Terminal sessions accept nothing else.
	err = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusInProgress,
	})
	if !errors.Is(err, api.ErrInvalidTransition) {
		t.Fatalf("expected terminal session to reject updates, got %v", err)
	}
}

func TestIngestProgress_FailedRequiresErrorMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusFailed,
	})
	var vErr *api.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for FAILED without message, got %v", err)
	}

	// The rejected payload must leave the session untouched.
	got, _ := f.store.GetSession(ctx, sess.ID)
	if got.Status == api.StatusFailed {
		t.Fatal("rejected failure report must not mark the session FAILED")
	}
	if got.ErrorMessage != "" {
		t.Fatalf("unexpected error message: %q", got.ErrorMessage)
	}
}

func TestIngestProgress_NonFailureClearsErrorMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusFailed, ErrorMessage: "flyer step crashed",
	})

	// The agent retried and recovered; the stale message must not
	// survive on a non-FAILED session, even if the payload carries one.
	if err := f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID:    sess.ID,
		Status:       api.StatusInProgress,
		CurrentStep:  api.StepCreateFlyer,
		ErrorMessage: "flyer step crashed",
	}); err != nil {
		t.Fatalf("IngestProgress failed: %v", err)
	}

	got, _ := f.store.GetSession(ctx, sess.ID)
	if got.Status != api.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Fatalf("error message must be empty on non-FAILED sessions, got %q", got.ErrorMessage)
	}
}

func TestGetWorkflowStatus_NoSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	p, err := f.orch.GetWorkflowStatus(ctx, "never-started")
	if err != nil {
		t.Fatalf("expected no error for unknown event, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil progress, got %+v", p)
	}
}

func TestGetWorkflowStatus_FallsBackToStoreOnCacheMiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()
	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID:      sess.ID,
		Status:         api.StatusCompleted,
		CompletedSteps: allSteps(),
		GeneratedContent: &api.GeneratedContent{
			Flyer: &api.FlyerContent{URL: "https://canva.example/x"},
		},
	})

	// Simulate projection eviction.
	f.cache.RemoveProgress(ctx, sess.ID)

	p, err := f.orch.GetWorkflowStatus(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetWorkflowStatus failed: %v", err)
	}
	if p == nil {
		t.Fatal("expected rebuilt projection")
	}
	if p.Status != api.StatusCompleted || p.ProgressPercent != 100 {
		t.Fatalf("rebuilt projection wrong: %+v", p)
	}
	if p.GeneratedContent == nil || p.GeneratedContent.Flyer == nil ||
		p.GeneratedContent.Flyer.URL != "https://canva.example/x" {
		t.Fatalf("rebuilt projection missing bundle content: %+v", p.GeneratedContent)
	}
	if p.EstimatedSecondsLeft != 0 {
		t.Fatalf("terminal session must report zero time remaining, got %d", p.EstimatedSecondsLeft)
	}
}

func TestGetUserWorkflowStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	p, err := f.orch.GetUserWorkflowStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserWorkflowStatus failed: %v", err)
	}
	if p == nil || p.SessionID != sess.ID {
		t.Fatalf("expected projection for %s, got %+v", sess.ID, p)
	}

	// A second start moves the pointer to the newer session.
	newer, _ := f.orch.StartWorkflow(ctx, "ev-2", "user-1", api.Preferences{})
	f.orch.Wait()
	p, _ = f.orch.GetUserWorkflowStatus(ctx, "user-1")
	if p == nil || p.SessionID != newer.ID {
		t.Fatalf("expected pointer to follow the latest session, got %+v", p)
	}

	// An evicted projection rebuilds from the durable store.
	f.cache.RemoveProgress(ctx, newer.ID)
	p, err = f.orch.GetUserWorkflowStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserWorkflowStatus failed: %v", err)
	}
	if p == nil || p.EventID != "ev-2" {
		t.Fatalf("expected rebuilt projection, got %+v", p)
	}

	if p, _ := f.orch.GetUserWorkflowStatus(ctx, "stranger"); p != nil {
		t.Fatalf("expected nil for untracked user, got %+v", p)
	}
}

func TestRegenerateContent_RequiresPriorSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.orch.RegenerateContent(ctx, "never-started", "user-1", api.ContentFlyer)
	if !errors.Is(err, api.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	f.orch.Wait()
	if len(f.disp.regenCalls()) != 0 {
		t.Fatal("failed regeneration must not dispatch")
	}
	if counts, _ := f.store.CountByStatus(ctx); len(counts) != 0 {
		t.Fatalf("failed regeneration must not create sessions: %v", counts)
	}
}

func TestRegenerateContent_InheritsPriorPreferences(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	_, err := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{
		FlyerStyle: "bold",
		LLMModel:   "gpt-4o",
	})
	if err != nil {
		t.Fatalf("StartWorkflow failed: %v", err)
	}
	f.orch.Wait()

	sess, err := f.orch.RegenerateContent(ctx, "ev-1", "user-2", api.ContentFlyer)
	if err != nil {
		t.Fatalf("RegenerateContent failed: %v", err)
	}
	if sess.CurrentStep != "regenerate_flyer" {
		t.Fatalf("unexpected step label: %s", sess.CurrentStep)
	}
	if sess.Preferences.FlyerStyle != "bold" || sess.LLMModel != "gpt-4o" {
		t.Fatalf("prior preferences not inherited: %+v", sess.Preferences)
	}

	f.orch.Wait()

	calls := f.disp.regenCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 regeneration dispatch, got %d", len(calls))
	}
	if calls[0].ContentType != api.ContentFlyer {
		t.Fatalf("content type not forwarded: %s", calls[0].ContentType)
	}

	// Regeneration keeps its label when the dispatch is acknowledged.
	got, _ := f.store.GetSession(ctx, sess.ID)
	if got.Status != api.StatusInProgress || got.CurrentStep != "regenerate_flyer" {
		t.Fatalf("unexpected post-ack state: %s/%s", got.Status, got.CurrentStep)
	}
}

func TestCancelWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	cancelled, err := f.orch.CancelWorkflow(ctx, sess.ID)
	if err != nil {
		t.Fatalf("CancelWorkflow failed: %v", err)
	}
	if cancelled.Status != api.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	// Terminal sessions cannot be cancelled again.
	if _, err := f.orch.CancelWorkflow(ctx, sess.ID); !errors.Is(err, api.ErrSessionTerminal) {
		t.Fatalf("expected ErrSessionTerminal, got %v", err)
	}

	if _, err := f.orch.CancelWorkflow(ctx, "missing"); !errors.Is(err, api.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMetricsAndCleanup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	old := time.Now().UTC().AddDate(0, 0, -60)
	f.orch.now = func() time.Time { return old }
	sess, _ := f.orch.StartWorkflow(ctx, "ev-old", "user-1", api.Preferences{})
	f.orch.Wait()
	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusFailed, ErrorMessage: "agent crashed",
	})

	f.orch.now = time.Now
	_, _ = f.orch.StartWorkflow(ctx, "ev-new", "user-1", api.Preferences{})
	f.orch.Wait()

	m, err := f.orch.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	if m.Total != 2 || m.ByStatus[api.StatusFailed] != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	removed, err := f.orch.CleanupOldSessions(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupOldSessions failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	m, _ = f.orch.Metrics(ctx)
	if m.Total != 1 {
		t.Fatalf("expected 1 session after cleanup, got %d", m.Total)
	}
}

func TestSubscribeToUpdates_ReceivesIngestedProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	ch, cancel := f.orch.SubscribeToUpdates(ctx, sess.ID)
	defer cancel()

	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID:   sess.ID,
		Status:      api.StatusInProgress,
		CurrentStep: api.StepCreateCalendarEvent,
	})

	select {
	case p := <-ch:
		if p.CurrentStep != api.StepCreateCalendarEvent {
			t.Fatalf("unexpected update: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
	}
}

func TestEstimatedTimeRemainingCountsDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{InitialETA: 3 * time.Minute})

	start := time.Now().UTC()
	f.orch.now = func() time.Time { return start }

	sess, _ := f.orch.StartWorkflow(ctx, "ev-1", "user-1", api.Preferences{})
	f.orch.Wait()

	p, _ := f.orch.GetWorkflowStatus(ctx, "ev-1")
	if p.EstimatedSecondsLeft != 180 {
		t.Fatalf("expected full initial estimate, got %d", p.EstimatedSecondsLeft)
	}

	f.orch.now = func() time.Time { return start.Add(time.Minute) }
	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusInProgress,
	})
	p, _ = f.orch.GetWorkflowStatus(ctx, "ev-1")
	if p.EstimatedSecondsLeft != 120 {
		t.Fatalf("expected 120s remaining after a minute, got %d", p.EstimatedSecondsLeft)
	}

	// Never negative, even when the pipeline overruns.
	f.orch.now = func() time.Time { return start.Add(time.Hour) }
	_ = f.orch.IngestProgress(ctx, api.ProgressUpdate{
		SessionID: sess.ID, Status: api.StatusInProgress,
	})
	p, _ = f.orch.GetWorkflowStatus(ctx, "ev-1")
	if p.EstimatedSecondsLeft != 0 {
		t.Fatalf("estimate must clamp at zero, got %d", p.EstimatedSecondsLeft)
	}
}

func allSteps() []string {
	return []string{
		api.StepValidateInput,
		api.StepCreateFlyer,
		api.StepCreateSocialContent,
		api.StepCreateWhatsAppMessage,
		api.StepSetupGoogleDrive,
		api.StepCreateCalendarEvent,
		api.StepCreateClickUpTask,
		api.StepFinalizeWorkflow,
	}
}
