// Package registry holds the catalog of known step types and validates
// step configurations against their JSON schemas before a workflow is
// accepted for execution.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomctl/loom/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// StepDefinition describes one step type: what it does and the schema
// its config must satisfy.
type StepDefinition struct {
	Type        models.StepType
	Description string
	// ConfigSchema is a JSON schema document applied to the step config.
	ConfigSchema map[string]any
	// Executable marks types the step executor implements. Types kept
	// only for backward-compatible deserialization are not executable.
	Executable bool
}

type Registry struct {
	logger      *slog.Logger
	definitions map[models.StepType]StepDefinition
}

func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger:      logger,
		definitions: make(map[models.StepType]StepDefinition),
	}

	registerDefaults(r)

	return r
}

func (r *Registry) Register(definition StepDefinition) {
	r.definitions[definition.Type] = definition
}

func (r *Registry) Definition(stepType models.StepType) (StepDefinition, bool) {
	definition, exists := r.definitions[stepType]

	return definition, exists
}

// ValidateStep checks the step type is registered and its config
// satisfies the registered schema.
func (r *Registry) ValidateStep(step *models.Step) error {
	definition, exists := r.definitions[step.Type]
	if !exists {
		return fmt.Errorf("step %s: type '%s' not registered", step.ID, step.Type)
	}

	if definition.ConfigSchema == nil {
		return nil
	}

	configData, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("step %s: failed to marshal config: %w", step.ID, err)
	}

	var configMap map[string]any
	if err := json.Unmarshal(configData, &configMap); err != nil {
		return fmt.Errorf("step %s: failed to decode config: %w", step.ID, err)
	}

	if configMap == nil {
		configMap = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(definition.ConfigSchema)
	dataLoader := gojsonschema.NewGoLoader(configMap)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("step %s: schema validation failed: %w", step.ID, err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("step %s: invalid config: %s", step.ID, strings.Join(descriptions, "; "))
	}

	return nil
}

// ValidateWorkflowSteps validates every step of a workflow.
func (r *Registry) ValidateWorkflowSteps(workflow *models.Workflow) error {
	for _, step := range workflow.Steps {
		if err := r.ValidateStep(step); err != nil {
			return err
		}
	}

	return nil
}
