package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loomctl/loom/pkg/agent"
	"github.com/loomctl/loom/pkg/directive"
	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/notifier"
	"github.com/loomctl/loom/pkg/otelhelper"
	"github.com/loomctl/loom/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AgentAdapter is the per-step agent lifecycle the executor depends on.
// Satisfied by agent.Adapter; injected so tests can count and fake the
// created instances.
type AgentAdapter interface {
	CreateFreshAgent(ctx context.Context, workflow *models.Workflow, step *models.Step, execCtx *models.ExecutionContext) (*agent.FreshAgent, error)
	ExecuteStepWithAgent(ctx context.Context, fresh *agent.FreshAgent, directiveText string, execCtx *models.ExecutionContext) (*models.StepResult, error)
}

// StepExecutor runs exactly one step and produces a normalized outcome.
// It never returns an error: every failure mode, including cancellation
// mid-flight, is folded into the outcome's error field. Only the
// orchestrator's own abort check yields the cancelled execution status.
type StepExecutor struct {
	adapter  AgentAdapter
	store    persistence.ExecutionRepository
	notifier notifier.Notifier
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewStepExecutor wires the executor. The tracer may be nil; step spans
// are then skipped.
func NewStepExecutor(adapter AgentAdapter, store persistence.ExecutionRepository, n notifier.Notifier, tracer trace.Tracer, logger *slog.Logger) *StepExecutor {
	return &StepExecutor{
		adapter:  adapter,
		store:    store,
		notifier: n,
		tracer:   tracer,
		logger:   logger.With("module", "step_executor"),
	}
}

func (e *StepExecutor) ExecuteStep(ctx context.Context, workflow *models.Workflow, execution *models.Execution, step *models.Step, execCtx *models.ExecutionContext) *models.StepOutcome {
	logger := e.logger.With(
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"step_id", step.ID,
	)

	if ctx.Err() != nil {
		return &models.StepOutcome{
			StepID:  step.ID,
			Success: false,
			Error:   models.ErrExecutionCancelled.Error(),
		}
	}

	if e.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.StepIDKey, step.ID),
			attribute.String(otelhelper.StepNameKey, step.Name),
			attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		)
		defer span.End()
	}

	startedAt := time.Now().UTC()
	record := &models.StepExecutionRecord{
		ID:        uuid.New().String(),
		StepID:    step.ID,
		Name:      step.Name,
		Type:      step.Type,
		Status:    models.StepStatusRunning,
		StartedAt: startedAt,
		Input:     step.Config,
	}

	// Configuration errors fail before any notification or agent work.
	if step.Type != models.StepTypeAgent {
		err := &models.ErrUnsupportedStepType{Type: step.Type}
		logger.Warn("Rejecting step with unsupported type", "step_type", step.Type)

		return e.fail(ctx, workflow, execution, step, record, startedAt, err.Error())
	}

	e.sendStepNotification(ctx, workflow, notifier.NotificationStepStarted, &notifier.StepData{
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepName:    step.Name,
	})
	e.persistRecord(ctx, execution.ID, record)

	if !execCtx.MCP.Available || execCtx.MCP.ToolCount == 0 {
		logger.Warn("No MCP tools available for step")

		return e.fail(ctx, workflow, execution, step, record, startedAt, models.ErrNoToolsAvailable.Error())
	}

	directiveText := directive.Build(step, execCtx, time.Now())

	fresh, err := e.adapter.CreateFreshAgent(ctx, workflow, step, execCtx)
	if err != nil {
		logger.Error("Failed to create agent for step", "error", err)

		return e.fail(ctx, workflow, execution, step, record, startedAt, err.Error())
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(otelhelper.AgentIDKey, fresh.Definition.ID),
		attribute.String(otelhelper.ModelKey, fresh.Model),
	)

	// Re-check immediately before the send so an abort that landed while
	// the agent was being prepared never reaches the model.
	if ctx.Err() != nil {
		return e.fail(ctx, workflow, execution, step, record, startedAt, models.ErrExecutionCancelled.Error())
	}

	result, err := e.adapter.ExecuteStepWithAgent(ctx, fresh, directiveText, execCtx)
	if err != nil {
		if errors.Is(err, models.ErrExecutionCancelled) {
			logger.Info("Step cancelled mid-flight")
		} else {
			logger.Error("Step execution failed", "error", err)
		}

		return e.fail(ctx, workflow, execution, step, record, startedAt, err.Error())
	}

	finishedAt := time.Now().UTC()
	record.Status = models.StepStatusSuccess
	record.FinishedAt = &finishedAt
	record.Output = result
	e.persistRecord(ctx, execution.ID, record)

	e.sendStepNotification(ctx, workflow, notifier.NotificationStepCompleted, &notifier.StepData{
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Result:      result,
		DurationMs:  finishedAt.Sub(startedAt).Milliseconds(),
	})

	logger.Info("Step completed", "duration_ms", finishedAt.Sub(startedAt).Milliseconds())

	return &models.StepOutcome{
		StepID:  step.ID,
		Success: true,
		Result:  result,
	}
}

func (e *StepExecutor) fail(ctx context.Context, workflow *models.Workflow, execution *models.Execution, step *models.Step, record *models.StepExecutionRecord, startedAt time.Time, errMsg string) *models.StepOutcome {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		otelhelper.SetError(span, errors.New(errMsg),
			attribute.String(otelhelper.StepIDKey, step.ID))
	}

	finishedAt := time.Now().UTC()
	record.Status = models.StepStatusFailed
	record.FinishedAt = &finishedAt
	record.Error = errMsg
	e.persistRecord(ctx, execution.ID, record)

	e.sendStepNotification(ctx, workflow, notifier.NotificationStepFailed, &notifier.StepData{
		ExecutionID: execution.ID,
		StepID:      step.ID,
		StepName:    step.Name,
		Error:       errMsg,
		DurationMs:  finishedAt.Sub(startedAt).Milliseconds(),
	})

	return &models.StepOutcome{
		StepID:  step.ID,
		Success: false,
		Error:   errMsg,
	}
}

// persistRecord upserts the step record. Persistence hiccups are logged
// and tolerated here; the orchestrator still finalizes the execution.
func (e *StepExecutor) persistRecord(ctx context.Context, executionID string, record *models.StepExecutionRecord) {
	err := e.store.UpdateExecution(ctx, executionID, persistence.ExecutionUpdate{StepRecord: record})
	if err != nil {
		e.logger.Error("Failed to persist step record",
			"execution_id", executionID,
			"step_id", record.StepID,
			"error", err)
	}
}

func (e *StepExecutor) sendStepNotification(ctx context.Context, workflow *models.Workflow, notificationType notifier.NotificationType, stepData *notifier.StepData) {
	err := e.notifier.SendWorkflowStatusUpdate(ctx, notifier.StatusUpdate{
		UserID:           workflow.UserID,
		WorkflowID:       workflow.ID,
		WorkflowName:     workflow.Name,
		NotificationType: notificationType,
		StepData:         stepData,
	})
	if err != nil {
		e.logger.Warn("Step notification failed", "notification_type", notificationType, "error", err)
	}
}
