package models

import "time"

// StepContextEntry is the per-step slot in the execution context's steps
// map. Failed steps carry an error instead of a result.
type StepContextEntry struct {
	Success bool        `json:"success"`
	Result  *StepResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// MCPSummary reports tool availability for the current execution. A step
// requiring tools fails fast when Available is false or ToolCount is zero.
type MCPSummary struct {
	Available bool     `json:"available"`
	ToolCount int      `json:"tool_count"`
	ToolNames []string `json:"tool_names,omitempty"`
}

// User identifies the workflow owner for directive assembly and
// notification routing.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// ExecutionContext is the ephemeral, per-step view handed to the step
// executor and the directive builder. It is rebuilt before every step;
// nothing mutates it in place across steps.
type ExecutionContext struct {
	Workflow  *Workflow
	Execution *Execution
	User      User

	// Steps accumulates prior step outcomes keyed by step id.
	Steps map[string]StepContextEntry

	MCP MCPSummary

	CurrentStepIndex int
	TotalSteps       int

	// Variables is opaque passthrough config visible to the directive.
	Variables map[string]any
}

// ContextSnapshot is the serializable projection of an ExecutionContext.
// It is constructed directly from the domain context rather than derived
// by stripping fields from the live object.
type ContextSnapshot struct {
	WorkflowID       string                      `json:"workflow_id"`
	WorkflowName     string                      `json:"workflow_name"`
	ExecutionID      string                      `json:"execution_id"`
	UserID           string                      `json:"user_id"`
	Steps            map[string]StepContextEntry `json:"steps"`
	MCP              MCPSummary                  `json:"mcp"`
	CurrentStepIndex int                         `json:"current_step_index"`
	TotalSteps       int                         `json:"total_steps"`
	Variables        map[string]any              `json:"variables,omitempty"`
	CapturedAt       time.Time                   `json:"captured_at"`
}

// Snapshot builds the persistable projection of the context.
func (c *ExecutionContext) Snapshot() ContextSnapshot {
	steps := make(map[string]StepContextEntry, len(c.Steps))
	for id, entry := range c.Steps {
		steps[id] = entry
	}

	snapshot := ContextSnapshot{
		UserID:           c.User.ID,
		Steps:            steps,
		MCP:              c.MCP,
		CurrentStepIndex: c.CurrentStepIndex,
		TotalSteps:       c.TotalSteps,
		Variables:        c.Variables,
		CapturedAt:       time.Now().UTC(),
	}

	if c.Workflow != nil {
		snapshot.WorkflowID = c.Workflow.ID
		snapshot.WorkflowName = c.Workflow.Name
	}

	if c.Execution != nil {
		snapshot.ExecutionID = c.Execution.ID
	}

	return snapshot
}
