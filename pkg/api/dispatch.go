package api

import "context"

// DispatchRequest is the outbound payload handed to the external agent
// system when a workflow or regeneration is triggered.
type DispatchRequest struct {
	SessionID   string      `json:"session_id"`
	EventID     string      `json:"event_id"`
	UserID      string      `json:"user_id"`
	ContentType ContentType `json:"content_type,omitempty"`
	LLMModel    string      `json:"llm_model,omitempty"`
	Preferences Preferences `json:"preferences"`
}

// Dispatcher hands work to the external agent system and interprets its
// synchronous acknowledgement. Implementations are stateless besides
// network I/O and must be safe for concurrent use; the orchestrator calls
// them from detached goroutines.
type Dispatcher interface {
	// TriggerWorkflow asks the agent system to run the full generation
	// pipeline. A nil return means the agent acknowledged the dispatch;
	// the actual work completes minutes later via the progress webhook.
	TriggerWorkflow(ctx context.Context, req DispatchRequest) error

	// TriggerRegeneration asks the agent system to regenerate a single
	// content type, hitting a distinct endpoint.
	TriggerRegeneration(ctx context.Context, req DispatchRequest) error
}
