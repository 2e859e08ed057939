package api

import "fmt"

// Status represents the lifecycle state of a workflow session.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusWaitingApproval Status = "WAITING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether s is a terminal status. Terminal sessions are
// never advanced again and become eligible for retention cleanup.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus validates a status value received from the outside
// (typically the progress webhook).
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusInProgress, StatusWaitingApproval,
		StatusApproved, StatusCompleted, StatusFailed, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("unknown workflow status: %q", raw)
}

// Step labels used by the external agent pipeline. The orchestrator only
// treats these as opaque labels; the constants exist so the initial and
// post-ack steps are spelled consistently.
const (
	StepValidateInput         = "validate_input"
	StepCreateFlyer           = "create_flyer"
	StepCreateSocialContent   = "create_social_content"
	StepCreateWhatsAppMessage = "create_whatsapp_message"
	StepSetupGoogleDrive      = "setup_google_drive"
	StepCreateCalendarEvent   = "create_calendar_event"
	StepCreateClickUpTask     = "create_clickup_task"
	StepFinalizeWorkflow      = "finalize_workflow"
)

// WorkflowStepCount is the number of steps in the agent pipeline, used to
// derive a progress percentage from the completed-step list.
const WorkflowStepCount = 8

// ProgressPercent derives a 0-100 progress value from the number of
// completed steps, capped at 100.
func ProgressPercent(completedSteps []string) int {
	pct := len(completedSteps) * 100 / WorkflowStepCount
	if pct > 100 {
		pct = 100
	}
	return pct
}
