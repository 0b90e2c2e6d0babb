package registry

import (
	"log/slog"
	"testing"

	"github.com/loomctl/loom/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(slog.Default())
}

func TestValidateStepAgentWithInstruction(t *testing.T) {
	r := newTestRegistry()

	err := r.ValidateStep(&models.Step{
		ID:   "summarize",
		Name: "Summarize",
		Type: models.StepTypeAgent,
		Config: models.StepConfig{
			Instruction: "Summarize the inbox",
		},
	})
	assert.NoError(t, err)
}

func TestValidateStepAgentWithToolOnly(t *testing.T) {
	r := newTestRegistry()

	err := r.ValidateStep(&models.Step{
		ID:   "fetch",
		Name: "Fetch",
		Type: models.StepTypeAgent,
		Config: models.StepConfig{
			ToolName:   "calendar_list_events",
			Parameters: map[string]any{"window": "today"},
		},
	})
	assert.NoError(t, err)
}

func TestValidateStepAgentEmptyConfig(t *testing.T) {
	r := newTestRegistry()

	err := r.ValidateStep(&models.Step{
		ID:   "empty",
		Name: "Empty",
		Type: models.StepTypeAgent,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestValidateStepUnregisteredType(t *testing.T) {
	r := newTestRegistry()

	err := r.ValidateStep(&models.Step{
		ID:   "odd",
		Name: "Odd",
		Type: models.StepType("webhook_call"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestValidateStepLegacyTypesStillLoad(t *testing.T) {
	r := newTestRegistry()

	assert.NoError(t, r.ValidateStep(&models.Step{
		ID:   "wait",
		Name: "Wait",
		Type: models.StepTypeDelay,
		Config: models.StepConfig{
			Parameters: map[string]any{"duration_seconds": 30},
		},
	}))

	definition, exists := r.Definition(models.StepTypeDelay)
	require.True(t, exists)
	assert.False(t, definition.Executable)
}

func TestValidateWorkflowStepsStopsAtFirstInvalid(t *testing.T) {
	r := newTestRegistry()

	workflow := &models.Workflow{
		ID: "wf-1",
		Steps: []*models.Step{
			{ID: "ok", Name: "OK", Type: models.StepTypeAgent, Config: models.StepConfig{Instruction: "go"}},
			{ID: "bad", Name: "Bad", Type: models.StepTypeAgent},
		},
	}

	err := r.ValidateWorkflowSteps(workflow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step bad")
}
