package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EphemeralAgentID identifies definitions synthesized from a load
// request instead of loaded from storage.
const EphemeralAgentID = "ephemeral"

// FileLoader resolves agent definitions from JSON files under a root
// directory, one file per agent id. A request without an agent id gets
// an ephemeral definition carrying only the requested endpoint and
// model; the adapter fills in defaults from there.
type FileLoader struct {
	root string
}

func NewFileLoader(root string) *FileLoader {
	return &FileLoader{root: root}
}

func (l *FileLoader) LoadAgent(_ context.Context, req LoadRequest) (*Definition, error) {
	if req.AgentID == "" {
		return &Definition{
			ID:       EphemeralAgentID,
			Name:     "Ephemeral Agent",
			Provider: req.Endpoint,
			Model:    req.Model,
		}, nil
	}

	path := filepath.Join(l.root, req.AgentID+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("agent not found: %s", req.AgentID)
		}

		return nil, fmt.Errorf("failed to read agent %s: %w", req.AgentID, err)
	}

	var definition Definition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("failed to parse agent %s: %w", req.AgentID, err)
	}

	if definition.ID == "" {
		definition.ID = req.AgentID
	}

	return &definition, nil
}
