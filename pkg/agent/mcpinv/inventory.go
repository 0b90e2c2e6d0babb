// Package mcpinv maintains connections to MCP servers and exposes the
// pool of callable tools available to an execution.
package mcpinv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomctl/loom/pkg/models"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	listToolsTimeout = 5 * time.Second
	callToolTimeout  = 60 * time.Second
	protocolVersion  = "2024-11-05"
)

// ServerConfig describes one stdio MCP server to launch and connect to.
type ServerConfig struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

type connection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// Inventory aggregates tools across all connected MCP servers. It is
// safe for concurrent use by multiple executions.
type Inventory struct {
	mu          sync.RWMutex
	connections map[string]*connection
	logger      *slog.Logger
}

// NewInventory returns an empty inventory; call Connect per server.
func NewInventory(logger *slog.Logger) *Inventory {
	return &Inventory{
		connections: make(map[string]*connection),
		logger:      logger.With("module", "mcp_inventory"),
	}
}

// Connect launches the server process, initializes the MCP session, and
// caches its tool list.
func (inv *Inventory) Connect(ctx context.Context, config ServerConfig) error {
	mcpClient, err := client.NewStdioMCPClient(config.Command, config.Env, config.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client for %s: %w", config.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client for %s: %w", config.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "loom",
		Version: "1.0.0",
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize MCP client for %s: %w", config.Name, err)
	}

	toolsCtx, cancel := context.WithTimeout(ctx, listToolsTimeout)
	defer cancel()

	listResult, err := mcpClient.ListTools(toolsCtx, mcp.ListToolsRequest{})
	if err != nil {
		inv.logger.Warn("Failed to list tools from MCP server", "server", config.Name, "error", err)
	}

	var tools []mcp.Tool
	if listResult != nil {
		tools = listResult.Tools
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	inv.connections[config.Name] = &connection{
		name:   config.Name,
		client: mcpClient,
		tools:  tools,
	}

	inv.logger.Info("Connected to MCP server", "server", config.Name, "tool_count", len(tools))

	return nil
}

// Tools returns the flat tool list across all servers.
func (inv *Inventory) Tools() []mcp.Tool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	var all []mcp.Tool
	for _, conn := range inv.connections {
		all = append(all, conn.tools...)
	}

	return all
}

// Summary produces the tool-availability view carried in the execution
// context. A step requiring tools fails fast when Available is false.
func (inv *Inventory) Summary() models.MCPSummary {
	tools := inv.Tools()

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}

	return models.MCPSummary{
		Available: len(names) > 0,
		ToolCount: len(names),
		ToolNames: names,
	}
}

// CallTool routes a tool invocation to the server that owns it.
func (inv *Inventory) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	inv.mu.RLock()

	var target *connection

	for _, conn := range inv.connections {
		for _, tool := range conn.tools {
			if tool.Name == name {
				target = conn

				break
			}
		}

		if target != nil {
			break
		}
	}

	inv.mu.RUnlock()

	if target == nil {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, callToolTimeout)
	defer cancel()

	return target.client.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
}

// Close shuts down every server connection.
func (inv *Inventory) Close() error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for name, conn := range inv.connections {
		if err := conn.client.Close(); err != nil {
			inv.logger.Warn("Failed to close MCP client", "server", name, "error", err)
		}

		delete(inv.connections, name)
	}

	return nil
}
