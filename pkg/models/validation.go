package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateWorkflow checks struct tags plus the structural invariants the
// orchestrator relies on: unique step ids, edges referencing existing
// steps, known step types, and trigger config matching the trigger type.
func ValidateWorkflow(workflow *Workflow) error {
	if workflow == nil {
		return errors.New("workflow is nil")
	}

	if err := validate.Struct(workflow); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}

	seen := make(map[string]bool, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}

		seen[step.ID] = true

		if !step.Type.Valid() {
			return fmt.Errorf("step %q has unknown type %q", step.ID, step.Type)
		}
	}

	for _, step := range workflow.Steps {
		if step.OnSuccess != nil && !seen[*step.OnSuccess] {
			return fmt.Errorf("step %q onSuccess references missing step %q", step.ID, *step.OnSuccess)
		}

		if step.OnFailure != nil && !seen[*step.OnFailure] {
			return fmt.Errorf("step %q onFailure references missing step %q", step.ID, *step.OnFailure)
		}
	}

	return validateTrigger(&workflow.Trigger)
}

func validateTrigger(trigger *Trigger) error {
	switch trigger.Type {
	case TriggerTypeManual:
		return nil
	case TriggerTypeSchedule:
		if trigger.Schedule == nil {
			return errors.New("schedule trigger requires schedule config")
		}

		return validate.Struct(trigger.Schedule)
	case TriggerTypeWebhook:
		if trigger.Webhook == nil {
			return errors.New("webhook trigger requires webhook config")
		}

		return validate.Struct(trigger.Webhook)
	default:
		return fmt.Errorf("unknown trigger type %q", trigger.Type)
	}
}
