package engine

import (
	"encoding/json"

	"github.com/loomctl/loom/pkg/models"
)

// ContextBuilder assembles the ephemeral per-step ExecutionContext. The
// context is rebuilt from scratch before every step so no step ever sees
// a stale or half-mutated view of its predecessors.
type ContextBuilder struct {
	user      models.User
	mcp       models.MCPSummary
	variables map[string]any
}

func NewContextBuilder(user models.User, mcp models.MCPSummary, variables map[string]any) *ContextBuilder {
	return &ContextBuilder{
		user:      user,
		mcp:       mcp,
		variables: variables,
	}
}

// Build copies the accumulated step entries into a fresh context for the
// step at the given index.
func (b *ContextBuilder) Build(workflow *models.Workflow, execution *models.Execution, steps map[string]models.StepContextEntry, stepIndex int) *models.ExecutionContext {
	copied := make(map[string]models.StepContextEntry, len(steps))
	for id, entry := range steps {
		copied[id] = entry
	}

	return &models.ExecutionContext{
		Workflow:         workflow,
		Execution:        execution,
		User:             b.user,
		Steps:            copied,
		MCP:              b.mcp,
		CurrentStepIndex: stepIndex,
		TotalSteps:       len(workflow.Steps),
		Variables:        b.variables,
	}
}

// conditionData flattens the context snapshot into the plain map the
// condition evaluator resolves dotted paths against.
func conditionData(execCtx *models.ExecutionContext) map[string]any {
	snapshot := execCtx.Snapshot()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return map[string]any{}
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return map[string]any{}
	}

	return data
}
