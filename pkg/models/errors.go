package models

import "errors"

var (
	// ErrWorkflowNotFound is returned when a workflow id resolves to nothing.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound is returned when an execution id resolves to nothing.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNoSteps is returned when a run is requested for a workflow
	// without any steps.
	ErrNoSteps = errors.New("workflow has no steps")

	// ErrNoAgentResolvable is returned when neither the step, the
	// workflow, nor the defaults yield a usable model/endpoint.
	ErrNoAgentResolvable = errors.New("no agent or model resolvable for step")

	// ErrNoToolsAvailable is returned when a step requires tools but the
	// context reports none.
	ErrNoToolsAvailable = errors.New("no MCP tools available for agent step")

	// ErrExecutionCancelled carries the fixed message the step layer uses
	// to surface cooperative cancellation. The orchestrator's own abort
	// check is what produces the execution-level cancelled status.
	ErrExecutionCancelled = errors.New("execution was cancelled by user")
)
