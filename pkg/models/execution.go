package models

import "time"

// ExecutionStatus is the lifecycle state of one workflow run. Transitions
// are monotonic: once terminal, an execution never returns to running.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus is the state of a single step execution record.
type StepStatus string

const (
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepExecutionRecord is the persisted trace of one step within a run.
type StepExecutionRecord struct {
	ID         string     `json:"id"`
	StepID     string     `json:"step_id"`
	Name       string     `json:"name"`
	Type       StepType   `json:"type"`
	Status     StepStatus `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Input is a snapshot of the step config at execution time.
	Input      StepConfig `json:"input"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	RetryCount int        `json:"retry_count"`
}

// TriggerSnapshot captures what started a run, frozen at creation time.
type TriggerSnapshot struct {
	Type TriggerType    `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Execution is one concrete run of a workflow. It is mutated only by the
// orchestrator and step executor that own it, and becomes immutable once
// its status is terminal.
type Execution struct {
	ID         string          `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	UserID     string          `json:"user_id"`
	Status     ExecutionStatus `json:"status"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CurrentStepID    string `json:"current_step_id,omitempty"`
	CurrentStepIndex int    `json:"current_step_index"`

	Steps []*StepExecutionRecord `json:"steps"`

	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	Trigger TriggerSnapshot `json:"trigger"`
	IsTest  bool            `json:"is_test"`
}

// RecordForStep returns the most recent record for a step id, if any.
func (e *Execution) RecordForStep(stepID string) (*StepExecutionRecord, bool) {
	for i := len(e.Steps) - 1; i >= 0; i-- {
		if e.Steps[i].StepID == stepID {
			return e.Steps[i], true
		}
	}

	return nil, false
}

// StepOutcome is the normalized, non-throwing result the step executor
// hands back to the orchestrator.
type StepOutcome struct {
	StepID  string      `json:"step_id"`
	Success bool        `json:"success"`
	Result  *StepResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Skipped bool        `json:"skipped,omitempty"`
}

// StepResult is the per-step payload surfaced to callers and to later
// steps through the execution context.
type StepResult struct {
	Status            string    `json:"status"`
	Message           string    `json:"message,omitempty"`
	AgentResponse     string    `json:"agent_response,omitempty"`
	ToolsUsed         []string  `json:"tools_used,omitempty"`
	MCPToolsCount     int       `json:"mcp_tools_count"`
	ModelUsed         string    `json:"model_used,omitempty"`
	EndpointUsed      string    `json:"endpoint_used,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	ResponseMessageID string    `json:"response_message_id,omitempty"`
	ConversationID    string    `json:"conversation_id,omitempty"`
}

// ExecutionResult is the aggregate outcome of a whole run.
type ExecutionResult struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Error       string          `json:"error,omitempty"`
	Outcomes    []*StepOutcome  `json:"outcomes"`
}
