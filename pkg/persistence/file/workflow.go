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
	"time"

	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/persistence"
)

type workflowStore struct {
	root string
}

func (s *workflowStore) dir() string {
	return path.Join(s.root, "workflows")
}

func (s *workflowStore) all(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(s.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-len(".json")]

		workflow, err := s.byID(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (s *workflowStore) byID(_ context.Context, workflowID string) (*models.Workflow, error) {
	filePath := filepath.Clean(path.Join(s.dir(), workflowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("WorkflowByID", workflowID, models.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to read workflow %s: %w", workflowID, err)
	}

	var workflow models.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

func (s *workflowStore) save(_ context.Context, workflow *models.Workflow) error {
	err := os.MkdirAll(s.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	return os.WriteFile(path.Join(s.dir(), workflow.ID+".json"), data, 0600)
}

func (s *workflowStore) delete(_ context.Context, id string) error {
	err := os.Remove(path.Join(s.dir(), id+".json"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	return p.workflows.all(ctx)
}

func (p *Persistence) WorkflowsByUser(ctx context.Context, userID string) ([]*models.Workflow, error) {
	all, err := p.workflows.all(ctx)
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

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	return p.workflows.byID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	return p.workflows.save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflows.delete(ctx, id)
}
