// Package httpapi exposes the orchestrator over HTTP: workflow creation
// and regeneration for callers, the progress webhook for the agent
// system, and read-side status and metrics endpoints.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/contentops/promoflow/internal/cache"
	"github.com/contentops/promoflow/pkg/api"
)

// RateLimitConfig bounds how often a single user may start or
// regenerate workflows.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// WorkflowHandler handles workflow-related HTTP requests.
type WorkflowHandler struct {
	orch  api.Orchestrator
	cache cache.Cache
	limit RateLimitConfig
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(orch api.Orchestrator, c cache.Cache, limit RateLimitConfig) *WorkflowHandler {
	return &WorkflowHandler{orch: orch, cache: c, limit: limit}
}

type startRequest struct {
	EventID     string          `json:"event_id"`
	UserID      string          `json:"user_id"`
	Preferences api.Preferences `json:"preferences"`
}

type regenerateRequest struct {
	UserID      string `json:"user_id"`
	ContentType string `json:"content_type"`
}

// checkRateLimit enforces the per-user window. Returns false after
// writing the 429 when the caller is over the limit.
func (h *WorkflowHandler) checkRateLimit(w http.ResponseWriter, r *http.Request, userID string) bool {
	if h.limit.MaxRequests <= 0 {
		return true
	}
	res := h.cache.CheckRateLimit(r.Context(), userID, h.limit.Window, h.limit.MaxRequests)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		retryAfter := int(time.Until(res.ResetTime).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// Start handles POST /api/workflows
func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !h.checkRateLimit(w, r, req.UserID) {
		return
	}

	sess, err := h.orch.StartWorkflow(r.Context(), req.EventID, req.UserID, req.Preferences)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// Progress handles POST /api/workflows/progress (the agent webhook).
func (h *WorkflowHandler) Progress(w http.ResponseWriter, r *http.Request) {
	var upd api.ProgressUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if upd.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if _, err := api.ParseStatus(string(upd.Status)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orch.IngestProgress(r.Context(), upd); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status handles GET /api/events/{eventID}/workflow
func (h *WorkflowHandler) Status(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	p, err := h.orch.GetWorkflowStatus(r.Context(), eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no workflow for event %s", eventID))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UserStatus handles GET /api/users/{userID}/workflow
func (h *WorkflowHandler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := h.orch.GetUserWorkflowStatus(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no recent workflow for user %s", userID))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Regenerate handles POST /api/events/{eventID}/regenerate
func (h *WorkflowHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	var req regenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	ct, err := api.ParseContentType(req.ContentType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.checkRateLimit(w, r, req.UserID) {
		return
	}

	sess, err := h.orch.RegenerateContent(r.Context(), eventID, req.UserID, ct)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess)
}

// Cancel handles POST /api/workflows/{sessionID}/cancel
func (h *WorkflowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := h.orch.CancelWorkflow(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Metrics handles GET /api/metrics
func (h *WorkflowHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.orch.Metrics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Health handles GET /healthz
func (h *WorkflowHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
