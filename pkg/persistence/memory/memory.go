// Package memory provides an in-process persistence backend for tests
// and ephemeral single-node runs.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/persistence"
)

// Persistence keeps everything in maps. Values are deep-copied through
// JSON on the way in and out so callers never share memory with the
// store.
type Persistence struct {
	mu         sync.RWMutex
	workflows  map[string]*models.Workflow
	executions map[string]*models.Execution
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:  make(map[string]*models.Workflow),
		executions: make(map[string]*models.Execution),
	}
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(p.workflows))
	for _, workflow := range p.workflows {
		workflows = append(workflows, copyValue(workflow))
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (p *Persistence) WorkflowsByUser(ctx context.Context, userID string) ([]*models.Workflow, error) {
	all, err := p.Workflows(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if workflow.UserID == userID {
			filtered = append(filtered, workflow)
		}
	}

	return filtered, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	workflow, exists := p.workflows[id]
	if !exists {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, models.ErrWorkflowNotFound)
	}

	return copyValue(workflow), nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now
	p.workflows[workflow.ID] = copyValue(workflow)

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.workflows, id)

	return nil
}

func (p *Persistence) CreateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions[execution.ID] = copyValue(execution)

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, exists := p.executions[id]
	if !exists {
		return nil, persistence.NewExecutionError("ExecutionByID", id, models.ErrExecutionNotFound)
	}

	return copyValue(execution), nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.Execution, 0)

	for _, execution := range p.executions {
		if execution.WorkflowID == workflowID {
			executions = append(executions, copyValue(execution))
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (p *Persistence) UpdateExecution(_ context.Context, id string, update persistence.ExecutionUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	execution, exists := p.executions[id]
	if !exists {
		return persistence.NewExecutionError("UpdateExecution", id, models.ErrExecutionNotFound)
	}

	if update.StepRecord != nil {
		update.StepRecord = copyValue(update.StepRecord)
	}

	update.Apply(execution)

	return nil
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

func copyValue[T any](value *T) *T {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}

	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}

	return out
}
