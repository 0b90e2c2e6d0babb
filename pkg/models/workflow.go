// Package models defines the core domain models for agent workflow execution.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not executable
	WorkflowStatusActive   WorkflowStatus = "active"   // Executable; schedule triggers are registered
	WorkflowStatusInactive WorkflowStatus = "inactive" // Historical, not executable
)

// TriggerType identifies how an execution of a workflow is started.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// ScheduleTrigger carries the configuration for a time-based trigger.
// Cron parsing itself is delegated to the trigger layer; the engine only
// stores the expression and the user's timezone.
type ScheduleTrigger struct {
	Cron     string `json:"cron"     validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

// WebhookTrigger carries the configuration for an inbound webhook trigger.
type WebhookTrigger struct {
	AppSlug    string `json:"app_slug"    validate:"required"`
	TriggerKey string `json:"trigger_key" validate:"required"`
}

// Trigger is a tagged variant: exactly the config matching Type is set.
type Trigger struct {
	Type     TriggerType      `json:"type" validate:"required,oneof=manual schedule webhook"`
	Schedule *ScheduleTrigger `json:"schedule,omitempty"`
	Webhook  *WebhookTrigger  `json:"webhook,omitempty"`
}

// Workflow represents a user-owned automation definition: a graph of steps
// walked by the orchestrator via onSuccess/onFailure edges.
type Workflow struct {
	ID          string `json:"id"          validate:"required"`
	UserID      string `json:"user_id"     validate:"required"`
	Version     int    `json:"version"`
	Name        string `json:"name"        validate:"required,min=3"`
	Description string `json:"description,omitempty"`

	Trigger Trigger `json:"trigger"`
	Steps   []*Step `json:"steps" validate:"required,min=1,dive"`

	Status  WorkflowStatus `json:"status" validate:"required"`
	IsDraft bool           `json:"is_draft"`

	// Conversation threading for agent output.
	ConversationID  string `json:"conversation_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`

	// Default model resolution, overridable per step.
	AgentID  string `json:"agent_id,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Model    string `json:"model,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// StepByID returns the step with the given id, if present.
func (w *Workflow) StepByID(stepID string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// EntryStep resolves the step the orchestrator starts from: the unique step
// no other step references via onSuccess/onFailure. When every step is
// referenced (possible with cyclic graphs) it falls back to the first
// defined step. The fallback is documented behavior, not a guaranteed
// resolution for cyclic graphs.
func (w *Workflow) EntryStep() (*Step, bool) {
	if len(w.Steps) == 0 {
		return nil, false
	}

	referenced := make(map[string]bool, len(w.Steps))

	for _, step := range w.Steps {
		if step.OnSuccess != nil {
			referenced[*step.OnSuccess] = true
		}

		if step.OnFailure != nil {
			referenced[*step.OnFailure] = true
		}
	}

	for _, step := range w.Steps {
		if !referenced[step.ID] {
			return step, true
		}
	}

	return w.Steps[0], true
}

// IsExecutable reports whether the workflow may be run at all.
func (w *Workflow) IsExecutable() bool {
	return w.Status == WorkflowStatusActive && w.DeletedAt == nil && len(w.Steps) > 0
}
