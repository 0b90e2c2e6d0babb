package models

import "fmt"

// StepType is a closed set of step variants. The executor only accepts
// StepTypeAgent in production; delay and condition are retained so older
// workflow documents still deserialize, but executing them is an error.
type StepType string

const (
	StepTypeAgent     StepType = "agent"
	StepTypeDelay     StepType = "delay"
	StepTypeCondition StepType = "condition"
)

// Valid reports whether the step type is one of the known variants.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeAgent, StepTypeDelay, StepTypeCondition:
		return true
	default:
		return false
	}
}

// StepConfig is the authoring-time payload of an agent step.
type StepConfig struct {
	// ToolName, when set, names the exact tool the agent must call.
	ToolName string `json:"tool_name,omitempty"`
	// Parameters are passed to the directive verbatim.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Instruction is the free-text objective of the step.
	Instruction string `json:"instruction,omitempty"`
}

// Step is one unit of work inside a workflow. Steps are immutable during a
// single execution.
type Step struct {
	ID     string     `json:"id"   validate:"required"`
	Name   string     `json:"name" validate:"required"`
	Type   StepType   `json:"type" validate:"required"`
	Config StepConfig `json:"config"`

	// AgentID overrides the workflow-level agent for this step.
	AgentID string `json:"agent_id,omitempty"`

	// Condition, when set, is evaluated against the execution context
	// before the step runs; false skips the step along the success edge.
	Condition string `json:"condition,omitempty"`

	OnSuccess *string `json:"on_success,omitempty"`
	OnFailure *string `json:"on_failure,omitempty"`
}

// IsTerminal reports whether the step ends the workflow on both outcomes.
func (s *Step) IsTerminal() bool {
	return s.OnSuccess == nil && s.OnFailure == nil
}

// ErrUnsupportedStepType is returned by the executor for any step type
// other than the agent action type.
type ErrUnsupportedStepType struct {
	Type StepType
}

func (e *ErrUnsupportedStepType) Error() string {
	return fmt.Sprintf("Unsupported step type: %s", e.Type)
}
