// Package file provides file-based persistence for single-node
// deployments. Workflows and executions are stored as one JSON file
// each under the configured root directory.
package file

import (
	"context"
	"os"
	"strings"
	"sync"
)

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string

	// mu serializes read-modify-write cycles on execution files so
	// field-level updates from the orchestrator never interleave.
	mu sync.Mutex

	workflows  *workflowStore
	executions *executionStore
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflows = &workflowStore{root: cleanRoot}
	p.executions = &executionStore{root: cleanRoot, mu: &p.mu}

	return p
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}
