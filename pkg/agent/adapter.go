package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/loomctl/loom/pkg/models"
)

// blockedToolPrefixes are tool names an agent step may never call, even
// when the MCP inventory exposes them. Allowing a step to create or
// mutate workflows would let a workflow spawn workflows recursively.
var blockedToolPrefixes = []string{
	"create_workflow",
	"update_workflow",
	"delete_workflow",
	"workflow_builder",
}

// Adapter creates a fresh, isolated agent/client pair per step and runs
// one request/response cycle against it. Instances are never reused
// across steps; all cross-step information flows through the execution
// context's steps map, not agent memory.
type Adapter struct {
	loader          Loader
	factory         ClientFactory
	defaultEndpoint string
	defaultModel    string
	logger          *slog.Logger
}

// NewAdapter wires the adapter with its collaborators. The defaults are
// the last resort of model/endpoint resolution.
func NewAdapter(loader Loader, factory ClientFactory, defaultEndpoint, defaultModel string, logger *slog.Logger) *Adapter {
	return &Adapter{
		loader:          loader,
		factory:         factory,
		defaultEndpoint: defaultEndpoint,
		defaultModel:    defaultModel,
		logger:          logger.With("module", "agent_adapter"),
	}
}

// FreshAgent is the per-step agent/client pair with its resolved
// model/endpoint.
type FreshAgent struct {
	Definition *Definition
	Client     Client
	Model      string
	Endpoint   string
}

// CreateFreshAgent resolves the model/endpoint for a step, loads the
// agent definition, scopes its tool set to the tools available in the
// context, and initializes a send-capable client bound to it.
//
// Resolution order: the step's explicit agent reference, then the
// workflow's stored endpoint/model, then the loaded agent's own
// provider/model, then the adapter defaults.
func (a *Adapter) CreateFreshAgent(ctx context.Context, workflow *models.Workflow, step *models.Step, execCtx *models.ExecutionContext) (*FreshAgent, error) {
	agentID := step.AgentID
	if agentID == "" {
		agentID = workflow.AgentID
	}

	definition, err := a.loader.LoadAgent(ctx, LoadRequest{
		UserID:   workflow.UserID,
		AgentID:  agentID,
		Endpoint: workflow.Endpoint,
		Model:    workflow.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load agent for step %s: %w", step.ID, err)
	}

	endpoint, model := a.resolveModel(workflow, definition)
	if endpoint == "" || model == "" {
		return nil, models.ErrNoAgentResolvable
	}

	tools := scopeTools(definition.Tools, execCtx.MCP.ToolNames)

	client, err := a.factory.NewClient(ctx, ClientConfig{
		Definition:             definition,
		Endpoint:               endpoint,
		Model:                  model,
		Tools:                  tools,
		DisableTitleGeneration: true,
		DisablePersistence:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client for step %s: %w", step.ID, err)
	}

	a.logger.Debug("Created fresh agent for step",
		"step_id", step.ID,
		"agent_id", definition.ID,
		"endpoint", endpoint,
		"model", model,
		"tool_count", len(tools))

	return &FreshAgent{
		Definition: definition,
		Client:     client,
		Model:      model,
		Endpoint:   endpoint,
	}, nil
}

func (a *Adapter) resolveModel(workflow *models.Workflow, definition *Definition) (endpoint, model string) {
	endpoint = workflow.Endpoint
	model = workflow.Model

	if endpoint == "" {
		endpoint = definition.Provider
	}

	if model == "" {
		model = definition.Model
	}

	if endpoint == "" {
		endpoint = a.defaultEndpoint
	}

	if model == "" {
		model = a.defaultModel
	}

	return endpoint, model
}

// scopeTools intersects the agent's own tool list with the tools the
// context reports as available, and strips workflow-mutation tools. An
// agent definition without an explicit tool list gets every available
// tool (minus the blocked ones).
func scopeTools(agentTools, availableTools []string) []string {
	scoped := make([]string, 0, len(availableTools))

	for _, tool := range availableTools {
		if isBlockedTool(tool) {
			continue
		}

		if len(agentTools) > 0 && !slices.Contains(agentTools, tool) {
			continue
		}

		scoped = append(scoped, tool)
	}

	return scoped
}

func isBlockedTool(name string) bool {
	lower := strings.ToLower(name)

	for _, prefix := range blockedToolPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}

	return false
}

// ExecuteStepWithAgent sends the task directive through the fresh client
// and normalizes the response. The progress callback re-checks the
// context on every tick so a long-running call can be cooperatively
// cancelled between progress events.
func (a *Adapter) ExecuteStepWithAgent(ctx context.Context, fresh *FreshAgent, directiveText string, execCtx *models.ExecutionContext) (*models.StepResult, error) {
	workflow := execCtx.Workflow

	response, err := fresh.Client.SendMessage(ctx, directiveText, SendOptions{
		UserID:          workflow.UserID,
		ConversationID:  workflow.ConversationID,
		ParentMessageID: workflow.ParentMessageID,
		OnProgress: func() error {
			select {
			case <-ctx.Done():
				return models.ErrExecutionCancelled
			default:
				return nil
			}
		},
	})
	if err != nil {
		// Load, init, and send errors propagate unchanged; the step
		// executor converts them into failed outcomes.
		return nil, err
	}

	return &models.StepResult{
		Status:            "success",
		Message:           fmt.Sprintf("Step completed via %s/%s", fresh.Endpoint, fresh.Model),
		AgentResponse:     response.Text,
		ToolsUsed:         response.ToolsUsed,
		MCPToolsCount:     execCtx.MCP.ToolCount,
		ModelUsed:         fresh.Model,
		EndpointUsed:      fresh.Endpoint,
		Timestamp:         time.Now().UTC(),
		ResponseMessageID: response.MessageID,
		ConversationID:    response.ConversationID,
	}, nil
}
