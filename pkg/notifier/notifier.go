// Package notifier emits workflow status updates to the user. Delivery
// is best-effort: failures are logged and swallowed, never propagated
// into a running execution.
package notifier

import (
	"context"

	"github.com/loomctl/loom/pkg/models"
)

// NotificationType labels the kind of status update.
type NotificationType string

const (
	NotificationStepStarted        NotificationType = "step_started"
	NotificationStepCompleted      NotificationType = "step_completed"
	NotificationStepFailed         NotificationType = "step_failed"
	NotificationExecutionStarted   NotificationType = "execution_started"
	NotificationExecutionCompleted NotificationType = "execution_completed"
	NotificationExecutionFailed    NotificationType = "execution_failed"
	NotificationExecutionCancelled NotificationType = "execution_cancelled"
)

// StepData carries the per-step payload of a notification. Result can
// be large; consumers are expected to truncate for display.
type StepData struct {
	ExecutionID string             `json:"execution_id"`
	StepID      string             `json:"step_id"`
	StepName    string             `json:"step_name"`
	Result      *models.StepResult `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	DurationMs  int64              `json:"duration_ms,omitempty"`
}

// StatusUpdate is one user-facing notification. TriggerType is set on
// execution-started updates; StepsExecuted and FailedStepID are set on
// terminal execution updates.
type StatusUpdate struct {
	UserID           string
	WorkflowID       string
	WorkflowName     string
	NotificationType NotificationType
	Details          string
	TriggerType      string
	StepsExecuted    int
	FailedStepID     string
	StepData         *StepData
}

// Notifier delivers status updates. Implementations must be safe for
// concurrent use; callers never retry and never check errors beyond
// logging them.
type Notifier interface {
	SendWorkflowStatusUpdate(ctx context.Context, update StatusUpdate) error
}

// Nop discards every update. Useful for tests and test executions.
type Nop struct{}

func (Nop) SendWorkflowStatusUpdate(context.Context, StatusUpdate) error { return nil }
