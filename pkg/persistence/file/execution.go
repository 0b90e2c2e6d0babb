package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/persistence"
)

type executionStore struct {
	root string
	mu   *sync.Mutex
}

func (s *executionStore) dir() string {
	return path.Join(s.root, "executions")
}

func (s *executionStore) read(executionID string) (*models.Execution, error) {
	filePath := filepath.Clean(path.Join(s.dir(), executionID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ExecutionByID", executionID, models.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", executionID, err)
	}

	var execution models.Execution

	err = json.Unmarshal(body, &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}

	return &execution, nil
}

func (s *executionStore) write(execution *models.Execution) error {
	err := os.MkdirAll(s.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", execution.ID, err)
	}

	return os.WriteFile(path.Join(s.dir(), execution.ID+".json"), data, 0600)
}

func (p *Persistence) CreateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.executions.write(execution)
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.executions.read(id)
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.Execution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := os.DirFS(p.executions.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		execution, err := p.executions.read(file[:len(file)-len(".json")])
		if err != nil {
			return nil, err
		}

		if execution.WorkflowID == workflowID {
			executions = append(executions, execution)
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

	execution, err := p.executions.read(id)
	if err != nil {
		return err
	}

	update.Apply(execution)

	return p.executions.write(execution)
}
