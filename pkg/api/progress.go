package api

import "time"

// ProgressUpdate is the inbound webhook payload from the external agent
// system. The step lists carry full-replace semantics: whatever arrives
// overwrites the stored lists, it is never appended.
type ProgressUpdate struct {
	SessionID        string            `json:"session_id"`
	Status           Status            `json:"status"`
	CurrentStep      string            `json:"current_step"`
	CompletedSteps   []string          `json:"completed_steps"`
	FailedSteps      []string          `json:"failed_steps"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	GeneratedContent *GeneratedContent `json:"generated_content,omitempty"`
}

// Progress is the ephemeral, denormalised projection of a session that
// lives in the cache. It has no identity of its own: it is always
// derivable from the session plus the content bundle, and is disposable.
type Progress struct {
	SessionID             string            `json:"session_id"`
	EventID               string            `json:"event_id"`
	UserID                string            `json:"user_id"`
	Status                Status            `json:"status"`
	CurrentStep           string            `json:"current_step"`
	CompletedSteps        []string          `json:"completed_steps"`
	FailedSteps           []string          `json:"failed_steps"`
	ProgressPercent       int               `json:"progress_percentage"`
	EstimatedSecondsLeft  int               `json:"estimated_time_remaining"`
	StartedAt             time.Time         `json:"started_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	ErrorMessage          string            `json:"error_message,omitempty"`
	GeneratedContent      *GeneratedContent `json:"generated_content,omitempty"`
}

// Metrics aggregates session counts by status for observability.
type Metrics struct {
	ByStatus map[Status]int64 `json:"by_status"`
	Total    int64            `json:"total"`
}
