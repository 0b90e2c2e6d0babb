package registry

import "github.com/loomctl/loom/pkg/models"

func registerDefaults(r *Registry) {
	r.Register(StepDefinition{
		Type:        models.StepTypeAgent,
		Description: "Runs an AI agent against the step instruction, optionally pinned to one tool.",
		Executable:  true,
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instruction": map[string]any{
					"type":      "string",
					"minLength": 1,
				},
				"tool_name": map[string]any{
					"type":      "string",
					"minLength": 1,
				},
				"parameters": map[string]any{
					"type": "object",
				},
			},
			"anyOf": []any{
				map[string]any{"required": []any{"instruction"}},
				map[string]any{"required": []any{"tool_name"}},
			},
		},
	})

	// Legacy types. Documents containing them still validate so old
	// workflows load, but the executor rejects them at run time.
	r.Register(StepDefinition{
		Type:        models.StepTypeDelay,
		Description: "Legacy pause step.",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"duration_seconds": map[string]any{
							"type":    "number",
							"minimum": 0,
						},
					},
				},
			},
		},
	})

	r.Register(StepDefinition{
		Type:        models.StepTypeCondition,
		Description: "Legacy branch step, superseded by per-step conditions.",
		ConfigSchema: map[string]any{
			"type": "object",
		},
	})
}
