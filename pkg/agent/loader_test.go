package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoaderReturnsEphemeralDefinitionWithoutAgentID(t *testing.T) {
	loader := NewFileLoader(t.TempDir())

	definition, err := loader.LoadAgent(context.Background(), LoadRequest{
		UserID:   "user-1",
		Endpoint: "anthropic",
		Model:    "claude-sonnet-4-20250514",
	})
	require.NoError(t, err)

	assert.Equal(t, EphemeralAgentID, definition.ID)
	assert.Equal(t, "anthropic", definition.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", definition.Model)
}

func TestFileLoaderLoadsStoredDefinition(t *testing.T) {
	root := t.TempDir()

	stored := `{
		"Name": "Researcher",
		"Instructions": "Search before answering.",
		"Provider": "anthropic",
		"Model": "claude-sonnet-4-20250514",
		"Tools": ["web_search"]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(root, "agent-1.json"), []byte(stored), 0o644))

	loader := NewFileLoader(root)

	definition, err := loader.LoadAgent(context.Background(), LoadRequest{AgentID: "agent-1"})
	require.NoError(t, err)

	assert.Equal(t, "agent-1", definition.ID)
	assert.Equal(t, "Researcher", definition.Name)
	assert.Equal(t, []string{"web_search"}, definition.Tools)
}

func TestFileLoaderUnknownAgent(t *testing.T) {
	loader := NewFileLoader(t.TempDir())

	_, err := loader.LoadAgent(context.Background(), LoadRequest{AgentID: "nope"})
	assert.ErrorContains(t, err, "agent not found")
}
