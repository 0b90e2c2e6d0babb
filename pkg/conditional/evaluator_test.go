package conditional

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testData() map[string]any {
	return map[string]any{
		"steps": map[string]any{
			"fetch": map[string]any{
				"success": true,
				"result": map[string]any{
					"status": "success",
					"count":  float64(3),
				},
			},
			"compose": map[string]any{
				"success": false,
				"error":   "timeout",
			},
		},
		"variables": map[string]any{
			"threshold": float64(2),
			"region":    "eu-west-1",
		},
	}
}

func TestEvaluate_EmptyExpressionIsTrue(t *testing.T) {
	result, err := Evaluate("", nil)
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_Expressions(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		expected   bool
	}{
		{"bool field", "steps.fetch.success", true},
		{"negation", "!steps.compose.success", true},
		{"string equality", "steps.fetch.result.status == 'success'", true},
		{"string inequality", "variables.region != 'us-east-1'", true},
		{"numeric comparison", "steps.fetch.result.count > variables.threshold", true},
		{"numeric comparison false", "steps.fetch.result.count < 2", false},
		{"and", "steps.fetch.success && steps.compose.success", false},
		{"or", "steps.fetch.success || steps.compose.success", true},
		{"parentheses", "(steps.compose.success || steps.fetch.success) && variables.threshold >= 2", true},
		{"missing path is falsy", "steps.unknown.success", false},
		{"missing path equals null", "steps.unknown.result == null", true},
		{"error message comparison", "steps.compose.error == 'timeout'", true},
		{"literal true", "true", true},
		{"literal false", "false", false},
		{"numeric equality across types", "steps.fetch.result.count == 3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Evaluate(tt.expression, testData())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"unterminated string", "steps.fetch.error == 'oops"},
		{"dangling operator", "steps.fetch.success &&"},
		{"missing paren", "(steps.fetch.success"},
		{"ordering on strings", "variables.region > 'a'"},
		{"garbage", "steps.fetch.success @ true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.expression, testData())
			assert.Error(t, err)
		})
	}
}

func TestEvaluate_UncomparableOperandsError(t *testing.T) {
	data := map[string]any{
		"steps": map[string]any{
			"fetch": map[string]any{"result": map[string]any{"items": []any{1.0, 2.0}}},
			"other": map[string]any{"result": map[string]any{"items": []any{1.0}}},
		},
	}

	tests := []struct {
		name       string
		expression string
	}{
		{"map equality", "steps.fetch == steps.other"},
		{"map inequality", "steps.fetch != steps.other"},
		{"slice equality", "steps.fetch.result.items == steps.other.result.items"},
		{"map against literal", "steps.fetch == 'done'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Evaluate(tt.expression, data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "comparable operands")
			assert.False(t, result)
		})
	}
}

func TestEvaluate_NilComparisonsStillWork(t *testing.T) {
	result, err := Evaluate("steps.missing == null && null == null", testData())
	require.NoError(t, err)
	assert.True(t, result)
}

func TestEvaluate_NoHostAccess(t *testing.T) {
	// Identifiers only resolve through the provided map; anything else
	// is nil, never a callable or ambient value.
	result, err := Evaluate("os.Getenv == null", testData())
	require.NoError(t, err)
	assert.True(t, result)
}
