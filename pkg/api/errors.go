package api

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID does not resolve
	// to a stored workflow session.
	ErrSessionNotFound = errors.New("workflow session not found")

	// ErrEventNotFound is returned when an event has no workflow session,
	// for example on regeneration without a prior StartWorkflow.
	ErrEventNotFound = errors.New("no workflow session for event")

	// ErrBundleNotFound is returned when an event has no content bundle yet.
	ErrBundleNotFound = errors.New("content bundle not found")

	// ErrSessionTerminal is returned when an operation requires a live
	// session but the session has already reached a terminal status.
	ErrSessionTerminal = errors.New("workflow session already terminal")

	// ErrInvalidTransition is returned by progress ingestion when the
	// optional strict transition guard rejects a status change. The guard
	// is off by default; without it any status is accepted at any time.
	ErrInvalidTransition = errors.New("invalid workflow status transition")
)

// ValidationError describes a malformed request field. It is raised by
// the HTTP layer before a request reaches the orchestrator.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
