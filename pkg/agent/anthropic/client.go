// Package anthropic implements the agent client interfaces on top of the
// Anthropic Messages API, bridging the scoped MCP tool set into native
// tool definitions the model can call.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/loomctl/loom/pkg/agent"
	"github.com/loomctl/loom/pkg/agent/mcpinv"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultMaxTokens = 4096
	maxToolRounds    = 16
)

// ToolDefinition is one callable tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
	Call        func(ctx context.Context, args map[string]any) (string, error)
}

// Factory builds clients bound to the Anthropic API and an MCP tool
// inventory. It satisfies agent.ClientFactory.
type Factory struct {
	apiKey    string
	baseURL   string
	inventory *mcpinv.Inventory
	logger    *slog.Logger
}

// NewFactory wires the factory. The inventory may be nil when tool
// access is not configured; steps requiring tools then fail fast in the
// executor before any client is built.
func NewFactory(apiKey, baseURL string, inventory *mcpinv.Inventory, logger *slog.Logger) *Factory {
	return &Factory{
		apiKey:    apiKey,
		baseURL:   baseURL,
		inventory: inventory,
		logger:    logger.With("module", "anthropic_factory"),
	}
}

// NewClient builds a fresh send-capable client scoped to cfg.Tools.
func (f *Factory) NewClient(_ context.Context, cfg agent.ClientConfig) (agent.Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(f.apiKey)}
	if f.baseURL != "" {
		opts = append(opts, option.WithBaseURL(f.baseURL))
	}

	var tools []ToolDefinition
	if f.inventory != nil {
		tools = toolsFromInventory(f.inventory, cfg.Tools)
	}

	system := ""
	if cfg.Definition != nil {
		system = cfg.Definition.Instructions
	}

	return &Client{
		api:    sdk.NewClient(opts...),
		model:  cfg.Model,
		system: system,
		tools:  tools,
		logger: f.logger.With("model", cfg.Model),
	}, nil
}

// toolsFromInventory bridges the allowed subset of the MCP inventory
// into model-facing tool definitions.
func toolsFromInventory(inventory *mcpinv.Inventory, allowed []string) []ToolDefinition {
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	var definitions []ToolDefinition

	for _, tool := range inventory.Tools() {
		if !allowedSet[tool.Name] {
			continue
		}

		name := tool.Name

		definitions = append(definitions, ToolDefinition{
			Name:        name,
			Description: tool.Description,
			Properties:  tool.InputSchema.Properties,
			Required:    tool.InputSchema.Required,
			Call: func(ctx context.Context, args map[string]any) (string, error) {
				result, err := inventory.CallTool(ctx, name, args)
				if err != nil {
					return "", err
				}

				return flattenToolResult(result), nil
			},
		})
	}

	return definitions
}

func flattenToolResult(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}

	out := ""

	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			if out != "" {
				out += "\n"
			}

			out += text.Text
		}
	}

	return out
}

// Client runs one directive through the Messages API with a bounded
// tool-use loop. Instances are built fresh per step and never reused.
type Client struct {
	api    sdk.Client
	model  string
	system string
	tools  []ToolDefinition
	logger *slog.Logger
}

// SendMessage sends the directive and drives tool calls to completion.
// opts.OnProgress fires before the first request and after every tool
// round, so cancellation is honored between rounds.
func (c *Client) SendMessage(ctx context.Context, directiveText string, opts agent.SendOptions) (*agent.Response, error) {
	params := sdk.BetaMessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: defaultMaxTokens,
		Messages: []sdk.BetaMessageParam{
			sdk.NewBetaUserMessage(sdk.NewBetaTextBlock(directiveText)),
		},
	}

	if c.system != "" {
		params.System = []sdk.BetaTextBlockParam{{Text: c.system}}
	}

	for _, tool := range c.tools {
		params.Tools = append(params.Tools, sdk.BetaToolUnionParam{
			OfTool: &sdk.BetaToolParam{
				Name:        tool.Name,
				Description: sdk.String(tool.Description),
				InputSchema: sdk.BetaToolInputSchemaParam{
					Properties: tool.Properties,
					Required:   tool.Required,
				},
			},
		})
	}

	var toolsUsed []string

	for round := 0; ; round++ {
		if opts.OnProgress != nil {
			if err := opts.OnProgress(); err != nil {
				return nil, err
			}
		}

		if round >= maxToolRounds {
			return nil, fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds)
		}

		message, err := c.api.Beta.Messages.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("anthropic send failed: %w", err)
		}

		if message.StopReason != sdk.BetaStopReasonToolUse {
			return &agent.Response{
				Text:           extractText(message),
				ToolsUsed:      toolsUsed,
				MessageID:      "msg-" + uuid.New().String(),
				ConversationID: opts.ConversationID,
			}, nil
		}

		params.Messages = append(params.Messages, message.ToParam())

		var results []sdk.BetaContentBlockParamUnion

		for _, block := range message.Content {
			toolUse, ok := block.AsAny().(sdk.BetaToolUseBlock)
			if !ok {
				continue
			}

			toolsUsed = append(toolsUsed, toolUse.Name)

			output, isError := c.runTool(ctx, toolUse)
			results = append(results, sdk.NewBetaToolResultBlock(toolUse.ID, output, isError))
		}

		params.Messages = append(params.Messages, sdk.NewBetaUserMessage(results...))
	}
}

func (c *Client) runTool(ctx context.Context, toolUse sdk.BetaToolUseBlock) (output string, isError bool) {
	var definition *ToolDefinition

	for i := range c.tools {
		if c.tools[i].Name == toolUse.Name {
			definition = &c.tools[i]

			break
		}
	}

	if definition == nil {
		return fmt.Sprintf("tool %q is not available", toolUse.Name), true
	}

	var args map[string]any
	if raw := toolUse.JSON.Input.Raw(); len(raw) > 0 {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Sprintf("invalid tool input: %v", err), true
		}
	}

	result, err := definition.Call(ctx, args)
	if err != nil {
		c.logger.Warn("Tool call failed", "tool", toolUse.Name, "error", err)

		return err.Error(), true
	}

	return result, false
}

func extractText(message *sdk.BetaMessage) string {
	if message == nil {
		return ""
	}

	out := ""

	for _, block := range message.Content {
		if text, ok := block.AsAny().(sdk.BetaTextBlock); ok && text.Text != "" {
			if out != "" {
				out += "\n"
			}

			out += text.Text
		}
	}

	return out
}
