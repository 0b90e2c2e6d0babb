// Package persistence provides the storage abstraction for workflows
// and execution records.
package persistence

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/loomctl/loom/pkg/models"
)

// ExecutionUpdate is a field-level patch applied to a stored execution.
// Nil fields are left untouched, so concurrent writers updating disjoint
// fields do not clobber each other and re-applying the same patch is a
// no-op.
type ExecutionUpdate struct {
	Status           *models.ExecutionStatus
	CurrentStepID    *string
	CurrentStepIndex *int
	Error            *string
	Result           any
	FinishedAt       *time.Time

	// StepRecord upserts one step record by its record ID: an existing
	// record with the same ID is replaced in place, otherwise the record
	// is appended.
	StepRecord *models.StepExecutionRecord
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowsByUser(ctx context.Context, userID string) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

// ExecutionRepository stores execution records.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
}

// Persistence aggregates the repositories behind one backend.
type Persistence interface {
	WorkflowRepository
	ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Apply mutates an execution with the patch. Terminal executions only
// accept step-record upserts for records that already exist, keeping
// terminal status transitions monotonic.
func (u ExecutionUpdate) Apply(execution *models.Execution) {
	terminal := execution.Status.IsTerminal()

	if !terminal {
		if u.Status != nil {
			execution.Status = *u.Status
		}

		if u.CurrentStepID != nil {
			execution.CurrentStepID = *u.CurrentStepID
		}

		if u.CurrentStepIndex != nil {
			execution.CurrentStepIndex = *u.CurrentStepIndex
		}

		if u.Error != nil {
			execution.Error = *u.Error
		}

		if u.Result != nil {
			execution.Result = u.Result
		}

		if u.FinishedAt != nil {
			execution.FinishedAt = u.FinishedAt
		}
	}

	if u.StepRecord != nil {
		for i, record := range execution.Steps {
			if record.ID == u.StepRecord.ID {
				execution.Steps[i] = u.StepRecord

				return
			}
		}

		if !terminal {
			execution.Steps = append(execution.Steps, u.StepRecord)
		}
	}
}

// Factory builds a backend from a URL, for example file:///var/loom or
// memory://.
type Factory func(persistenceURL string) (Persistence, error)

func ParseScheme(persistenceURL string) (string, error) {
	parsed, err := url.Parse(persistenceURL)
	if err != nil {
		return "", fmt.Errorf("invalid persistence url: %w", err)
	}

	return parsed.Scheme, nil
}
