package directive

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/loomctl/loom/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func agentStep() *models.Step {
	return &models.Step{
		ID:   "compose",
		Name: "Compose Report",
		Type: models.StepTypeAgent,
		Config: models.StepConfig{
			ToolName:    "send_email",
			Instruction: "Compose the weekly report and send it.",
			Parameters: map[string]any{
				"to":      "team@example.com",
				"subject": "Weekly report",
			},
		},
	}
}

func contextWithPriorResult(result *models.StepResult) *models.ExecutionContext {
	return &models.ExecutionContext{
		User: models.User{ID: "user-1"},
		Steps: map[string]models.StepContextEntry{
			"fetch": {Success: true, Result: result},
		},
	}
}

func TestBuild_IncludesToolAndParametersVerbatim(t *testing.T) {
	output := Build(agentStep(), &models.ExecutionContext{}, testNow)

	assert.Contains(t, output, "Required tool: send_email")
	assert.Contains(t, output, "Do not substitute")
	assert.Contains(t, output, `"team@example.com"`)
	assert.Contains(t, output, `"Weekly report"`)
	assert.Contains(t, output, "Compose the weekly report")
}

func TestBuild_IncludesPriorStepResults(t *testing.T) {
	execCtx := contextWithPriorResult(&models.StepResult{
		Status:        "success",
		AgentResponse: `{"x": 1}`,
	})

	output := Build(agentStep(), execCtx, testNow)

	assert.Contains(t, output, `Step "fetch" (succeeded)`)
	assert.Contains(t, output, `"x": 1`)
}

func TestBuild_LabelsFailedSteps(t *testing.T) {
	execCtx := &models.ExecutionContext{
		Steps: map[string]models.StepContextEntry{
			"fetch": {Success: false, Error: "upstream timed out"},
		},
	}

	output := Build(agentStep(), execCtx, testNow)

	assert.Contains(t, output, `Step "fetch" (failed)`)
	assert.Contains(t, output, "upstream timed out")
}

func TestBuild_TruncatesLargeResults(t *testing.T) {
	execCtx := contextWithPriorResult(&models.StepResult{
		Status:        "success",
		AgentResponse: strings.Repeat("a", 5000),
	})

	output := Build(agentStep(), execCtx, testNow)

	assert.Contains(t, output, "[truncated")
	// The embedded payload stays bounded even though the input was 5000 chars.
	assert.Less(t, len(output), 4000)
}

func TestBuild_TruncationKeepsRuneBoundaries(t *testing.T) {
	// Three-byte runes sized so the byte limit lands mid-rune.
	execCtx := contextWithPriorResult(&models.StepResult{
		Status:        "success",
		AgentResponse: strings.Repeat("日", MaxResultChars),
	})

	output := Build(agentStep(), execCtx, testNow)

	assert.Contains(t, output, "[truncated")
	assert.True(t, utf8.ValidString(output))
}

func TestTruncate_ShortInputUntouched(t *testing.T) {
	assert.Equal(t, "café", truncate("café", 10))
}

func TestBuild_TimezoneLocalization(t *testing.T) {
	execCtx := &models.ExecutionContext{User: models.User{Timezone: "America/Sao_Paulo"}}

	output := Build(agentStep(), execCtx, testNow)
	assert.Contains(t, output, "America/Sao_Paulo")
	// 12:00 UTC is 09:00 in Sao Paulo (UTC-3).
	assert.Contains(t, output, "09:00")
}

func TestBuild_InvalidTimezoneFallsBackToUTC(t *testing.T) {
	execCtx := &models.ExecutionContext{User: models.User{Timezone: "Not/AZone"}}

	output := Build(agentStep(), execCtx, testNow)
	assert.Contains(t, output, "UTC")
	assert.Contains(t, output, "12:00")
}

func TestBuild_ExecutionRules(t *testing.T) {
	output := Build(agentStep(), &models.ExecutionContext{}, testNow)

	assert.Contains(t, output, "exactly once")
	assert.Contains(t, output, "Do not ask for clarification")
	assert.Contains(t, output, "Return immediately")
}

func TestBuild_Deterministic(t *testing.T) {
	execCtx := contextWithPriorResult(&models.StepResult{Status: "success"})
	execCtx.Steps["another"] = models.StepContextEntry{Success: true, Result: &models.StepResult{Status: "success"}}

	first := Build(agentStep(), execCtx, testNow)

	for range 10 {
		require.Equal(t, first, Build(agentStep(), execCtx, testNow))
	}
}

func TestBuild_ExecutionOrderPreserved(t *testing.T) {
	execCtx := &models.ExecutionContext{
		Execution: &models.Execution{
			Steps: []*models.StepExecutionRecord{
				{StepID: "zeta"},
				{StepID: "alpha"},
			},
		},
		Steps: map[string]models.StepContextEntry{
			"alpha": {Success: true},
			"zeta":  {Success: true},
		},
	}

	output := Build(agentStep(), execCtx, testNow)

	assert.Less(t, strings.Index(output, `"zeta"`), strings.Index(output, `"alpha"`))
}
