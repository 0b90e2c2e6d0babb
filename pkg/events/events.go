// Package events defines the typed lifecycle events published on the
// event bus for workflow executions and their steps.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic is the single bus topic all loom events flow through.
const Topic = "loom.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run requests: published by the trigger layer, consumed by runners.
	WorkflowRunRequestedEvent EventType = "workflow.run.requested"

	// Execution lifecycle.
	ExecutionStartedEvent   EventType = "workflow.execution.started"
	ExecutionCompletedEvent EventType = "workflow.execution.completed"
	ExecutionFailedEvent    EventType = "workflow.execution.failed"
	ExecutionCancelledEvent EventType = "workflow.execution.cancelled"

	// Step lifecycle.
	StepStartedEvent   EventType = "workflow.step.started"
	StepCompletedEvent EventType = "workflow.step.completed"
	StepFailedEvent    EventType = "workflow.step.failed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

type WorkflowRunRequested struct {
	BaseEvent

	TriggerType string         `json:"trigger_type"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	IsTest      bool           `json:"is_test,omitempty"`
}

func (e WorkflowRunRequested) GetType() EventType { return WorkflowRunRequestedEvent }

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	WorkflowName string `json:"workflow_name"`
	TriggerType  string `json:"trigger_type"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	Error         string `json:"error"`
	FailedStepID  string `json:"failed_step_id,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	StepsExecuted int    `json:"steps_executed"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type StepStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepName    string `json:"step_name"`
}

func (e StepStarted) GetType() EventType { return StepStartedEvent }

type StepCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepName    string `json:"step_name"`
	Result      any    `json:"result,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	StepName    string `json:"step_name"`
	Error       string `json:"error"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }
