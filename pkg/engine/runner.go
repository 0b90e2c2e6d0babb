package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/persistence"
	"github.com/loomctl/loom/pkg/registry"
)

// MCPSummaryFunc reports current tool availability. It is called once
// per run so a reconnected MCP server is picked up without restarting.
type MCPSummaryFunc func() models.MCPSummary

// Runner consumes workflow run requests from the event bus and drives
// the orchestrator. Each request runs on its own goroutine; overlapping
// runs of the same workflow are allowed and produce independent
// execution records.
type Runner struct {
	bus          eventbus.EventBus
	workflows    persistence.WorkflowRepository
	orchestrator *Orchestrator
	registry     *registry.Registry
	mcpSummary   MCPSummaryFunc
	logger       *slog.Logger
}

func NewRunner(bus eventbus.EventBus, workflows persistence.WorkflowRepository, orchestrator *Orchestrator, reg *registry.Registry, mcpSummary MCPSummaryFunc, logger *slog.Logger) *Runner {
	return &Runner{
		bus:          bus,
		workflows:    workflows,
		orchestrator: orchestrator,
		registry:     reg,
		mcpSummary:   mcpSummary,
		logger:       logger.With("module", "runner"),
	}
}

// Start registers the run-request handler and begins consuming.
func (r *Runner) Start(ctx context.Context) error {
	r.bus.Handle(events.WorkflowRunRequestedEvent, func(ctx context.Context, event any) error {
		request, ok := event.(*events.WorkflowRunRequested)
		if !ok {
			return fmt.Errorf("unexpected event payload for %s", events.WorkflowRunRequestedEvent)
		}

		return r.handleRunRequest(ctx, request)
	})

	return r.bus.Subscribe(ctx)
}

func (r *Runner) handleRunRequest(ctx context.Context, request *events.WorkflowRunRequested) error {
	logger := r.logger.With(
		"workflow_id", request.WorkflowID,
		"trigger_type", request.TriggerType,
	)

	workflow, err := r.workflows.WorkflowByID(ctx, request.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			logger.Warn("Run requested for unknown workflow, dropping")

			return nil
		}

		return fmt.Errorf("failed to load workflow %s: %w", request.WorkflowID, err)
	}

	if !workflow.IsExecutable() {
		logger.Info("Workflow not executable, dropping run request", "status", workflow.Status)

		return nil
	}

	if err := models.ValidateWorkflow(workflow); err != nil {
		logger.Warn("Workflow failed validation, dropping run request", "error", err)

		return nil
	}

	if err := r.registry.ValidateWorkflowSteps(workflow); err != nil {
		logger.Warn("Workflow step config rejected, dropping run request", "error", err)

		return nil
	}

	trigger := models.TriggerSnapshot{
		Type: models.TriggerType(request.TriggerType),
		Data: request.TriggerData,
	}

	go func() {
		result, runErr := r.orchestrator.Run(ctx, workflow, trigger, RunOptions{
			User:   models.User{ID: workflow.UserID},
			MCP:    r.mcpSummary(),
			IsTest: request.IsTest,
		})
		if runErr != nil {
			logger.Error("Run rejected", "error", runErr)

			return
		}

		logger.Info("Run finished",
			"execution_id", result.ExecutionID,
			"status", result.Status)
	}()

	return nil
}
