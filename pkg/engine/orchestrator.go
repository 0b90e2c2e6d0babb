package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loomctl/loom/pkg/conditional"
	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/notifier"
	"github.com/loomctl/loom/pkg/otelhelper"
	"github.com/loomctl/loom/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StepRunner abstracts the step executor for the orchestrator.
type StepRunner interface {
	ExecuteStep(ctx context.Context, workflow *models.Workflow, execution *models.Execution, step *models.Step, execCtx *models.ExecutionContext) *models.StepOutcome
}

// RunOptions carries the per-run inputs the orchestrator cannot derive
// from the workflow itself.
type RunOptions struct {
	User      models.User
	MCP       models.MCPSummary
	Variables map[string]any
	IsTest    bool
}

// Orchestrator drives one workflow execution from entry step to a
// terminal status. Steps within a run are strictly sequential; separate
// runs are independent and may overlap, including runs of the same
// workflow.
type Orchestrator struct {
	runner   StepRunner
	store    persistence.ExecutionRepository
	notifier notifier.Notifier
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewOrchestrator(runner StepRunner, store persistence.ExecutionRepository, n notifier.Notifier, tracer trace.Tracer, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		runner:   runner,
		store:    store,
		notifier: n,
		tracer:   tracer,
		logger:   logger.With("module", "orchestrator"),
	}
}

// Run executes the workflow and always leaves the execution record in a
// terminal status, whatever path the run takes. The returned result is
// non-throwing: step failures and cancellation are reported through the
// result's status, and the error return is reserved for preconditions
// that prevent creating an execution at all.
func (o *Orchestrator) Run(ctx context.Context, workflow *models.Workflow, trigger models.TriggerSnapshot, opts RunOptions) (result *models.ExecutionResult, err error) {
	if len(workflow.Steps) == 0 {
		return nil, models.ErrNoSteps
	}

	execution := &models.Execution{
		ID:         "exec-" + uuid.New().String(),
		WorkflowID: workflow.ID,
		UserID:     workflow.UserID,
		Status:     models.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
		Trigger:    trigger,
		IsTest:     opts.IsTest,
	}

	if err := o.store.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution for workflow %s: %w", workflow.ID, err)
	}

	logger := o.logger.With(
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"trigger_type", trigger.Type,
	)
	logger.Info("Starting workflow execution", "steps", len(workflow.Steps))

	if o.tracer != nil {
		var span trace.Span

		ctx, span = otelhelper.StartSpan(ctx, o.tracer, "workflow.run",
			attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
			attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
			attribute.String(otelhelper.ExecutionIDKey, execution.ID),
			attribute.String(otelhelper.TriggerTypeKey, string(trigger.Type)),
			attribute.String(otelhelper.UserIDKey, workflow.UserID),
		)
		defer span.End()
	}

	o.sendExecutionNotification(ctx, workflow, notifier.NotificationExecutionStarted, "", execution, nil)

	outcomes := make([]*models.StepOutcome, 0, len(workflow.Steps))
	steps := make(map[string]models.StepContextEntry)
	builder := NewContextBuilder(opts.User, opts.MCP, opts.Variables)

	// Whatever happens below, the record must end terminal. A panic in
	// engine or collaborator code is mapped to a failed execution.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic during execution", "panic", r)
			result = o.finalize(ctx, workflow, execution, models.ExecutionStatusFailed,
				fmt.Sprintf("internal error: %v", r), outcomes)
			err = nil
		}
	}()

	entry, ok := workflow.EntryStep()
	if !ok {
		return o.finalize(ctx, workflow, execution, models.ExecutionStatusFailed,
			models.ErrNoSteps.Error(), outcomes), nil
	}

	currentStepID := entry.ID
	stepIndex := 0
	lastError := ""

	for currentStepID != "" {
		// Abort check at the loop head: a set signal means no further
		// step begins, and the whole run resolves to cancelled.
		if ctx.Err() != nil {
			logger.Info("Execution aborted before next step", "next_step_id", currentStepID)

			return o.finalize(ctx, workflow, execution, models.ExecutionStatusCancelled, "", outcomes), nil
		}

		step, found := workflow.StepByID(currentStepID)
		if !found {
			logger.Error("Edge references unknown step", "step_id", currentStepID)

			return o.finalize(ctx, workflow, execution, models.ExecutionStatusFailed,
				fmt.Sprintf("step %s not found in workflow %s", currentStepID, workflow.ID), outcomes), nil
		}

		execCtx := builder.Build(workflow, execution, steps, stepIndex)
		o.persistProgress(ctx, execution, step.ID, stepIndex)

		if step.Condition != "" {
			proceed, evalErr := conditional.Evaluate(step.Condition, conditionData(execCtx))
			if evalErr != nil {
				logger.Error("Condition evaluation failed", "step_id", step.ID, "error", evalErr)

				outcome := &models.StepOutcome{
					StepID:  step.ID,
					Success: false,
					Error:   fmt.Sprintf("condition evaluation failed: %v", evalErr),
				}
				outcomes = append(outcomes, outcome)
				steps[step.ID] = models.StepContextEntry{Success: false, Error: outcome.Error}
				lastError = outcome.Error

				if step.OnFailure == nil {
					return o.finalize(ctx, workflow, execution, models.ExecutionStatusFailed, lastError, outcomes), nil
				}

				currentStepID = *step.OnFailure
				stepIndex++

				continue
			}

			if !proceed {
				logger.Info("Condition false, skipping step", "step_id", step.ID, "condition", step.Condition)
				o.recordSkip(ctx, execution, step)
				outcomes = append(outcomes, &models.StepOutcome{StepID: step.ID, Success: true, Skipped: true})

				// A skipped step follows its success edge.
				if step.OnSuccess == nil {
					return o.finalize(ctx, workflow, execution, models.ExecutionStatusSuccess, "", outcomes), nil
				}

				currentStepID = *step.OnSuccess
				stepIndex++

				continue
			}
		}

		outcome := o.runner.ExecuteStep(ctx, workflow, execution, step, execCtx)
		outcomes = append(outcomes, outcome)

		if outcome.Success {
			steps[step.ID] = models.StepContextEntry{Success: true, Result: outcome.Result}

			if step.OnSuccess == nil {
				return o.finalize(ctx, workflow, execution, models.ExecutionStatusSuccess, "", outcomes), nil
			}

			currentStepID = *step.OnSuccess
		} else {
			steps[step.ID] = models.StepContextEntry{Success: false, Error: outcome.Error}
			lastError = outcome.Error

			if step.OnFailure == nil {
				return o.finalize(ctx, workflow, execution, models.ExecutionStatusFailed, lastError, outcomes), nil
			}

			// The failure edge is a recovery path; its own outcome
			// determines the final status.
			currentStepID = *step.OnFailure
		}

		stepIndex++
	}

	return o.finalize(ctx, workflow, execution, models.ExecutionStatusSuccess, "", outcomes), nil
}

// finalize writes the terminal status and emits the matching
// execution-level notification.
func (o *Orchestrator) finalize(ctx context.Context, workflow *models.Workflow, execution *models.Execution, status models.ExecutionStatus, errMsg string, outcomes []*models.StepOutcome) *models.ExecutionResult {
	if status == models.ExecutionStatusFailed && errMsg != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			otelhelper.SetError(span, errors.New(errMsg),
				attribute.String(otelhelper.ExecutionIDKey, execution.ID))
		}
	}

	finishedAt := time.Now().UTC()

	update := persistence.ExecutionUpdate{
		Status:     &status,
		FinishedAt: &finishedAt,
	}
	if errMsg != "" {
		update.Error = &errMsg
	}

	// Terminal persistence runs on a detached context so a cancelled run
	// still gets its record closed out.
	if err := o.store.UpdateExecution(context.WithoutCancel(ctx), execution.ID, update); err != nil {
		o.logger.Error("Failed to finalize execution record",
			"execution_id", execution.ID,
			"status", status,
			"error", err)
	}

	execution.Status = status
	execution.FinishedAt = &finishedAt
	execution.Error = errMsg

	notificationType := notifier.NotificationExecutionCompleted

	switch status {
	case models.ExecutionStatusFailed:
		notificationType = notifier.NotificationExecutionFailed
	case models.ExecutionStatusCancelled:
		notificationType = notifier.NotificationExecutionCancelled
	}

	o.sendExecutionNotification(context.WithoutCancel(ctx), workflow, notificationType, errMsg, execution, outcomes)

	o.logger.Info("Workflow execution finished",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"status", status,
		"steps_executed", len(outcomes),
		"duration_ms", finishedAt.Sub(execution.StartedAt).Milliseconds())

	return &models.ExecutionResult{
		ExecutionID: execution.ID,
		Status:      status,
		StartedAt:   execution.StartedAt,
		FinishedAt:  finishedAt,
		Error:       errMsg,
		Outcomes:    outcomes,
	}
}

func (o *Orchestrator) persistProgress(ctx context.Context, execution *models.Execution, stepID string, stepIndex int) {
	err := o.store.UpdateExecution(ctx, execution.ID, persistence.ExecutionUpdate{
		CurrentStepID:    &stepID,
		CurrentStepIndex: &stepIndex,
	})
	if err != nil {
		o.logger.Error("Failed to persist execution progress",
			"execution_id", execution.ID,
			"step_id", stepID,
			"error", err)
	}

	execution.CurrentStepID = stepID
	execution.CurrentStepIndex = stepIndex
}

func (o *Orchestrator) recordSkip(ctx context.Context, execution *models.Execution, step *models.Step) {
	now := time.Now().UTC()
	record := &models.StepExecutionRecord{
		ID:         uuid.New().String(),
		StepID:     step.ID,
		Name:       step.Name,
		Type:       step.Type,
		Status:     models.StepStatusSkipped,
		StartedAt:  now,
		FinishedAt: &now,
		Input:      step.Config,
	}

	err := o.store.UpdateExecution(ctx, execution.ID, persistence.ExecutionUpdate{StepRecord: record})
	if err != nil {
		o.logger.Error("Failed to persist skipped step record",
			"execution_id", execution.ID,
			"step_id", step.ID,
			"error", err)
	}
}

func (o *Orchestrator) sendExecutionNotification(ctx context.Context, workflow *models.Workflow, notificationType notifier.NotificationType, details string, execution *models.Execution, outcomes []*models.StepOutcome) {
	stepData := &notifier.StepData{ExecutionID: execution.ID}
	if execution.FinishedAt != nil {
		stepData.DurationMs = execution.FinishedAt.Sub(execution.StartedAt).Milliseconds()
	}

	if details == "" && execution.Error != "" {
		details = execution.Error
	}

	if execution.Error != "" {
		stepData.Error = execution.Error
	}

	update := notifier.StatusUpdate{
		UserID:           workflow.UserID,
		WorkflowID:       workflow.ID,
		WorkflowName:     workflow.Name,
		NotificationType: notificationType,
		Details:          details,
		StepsExecuted:    len(outcomes),
		StepData:         stepData,
	}

	if notificationType == notifier.NotificationExecutionStarted {
		update.TriggerType = string(execution.Trigger.Type)
	}

	if notificationType == notifier.NotificationExecutionFailed {
		update.FailedStepID = failedStepID(outcomes)
	}

	err := o.notifier.SendWorkflowStatusUpdate(ctx, update)
	if err != nil {
		o.logger.Warn("Execution notification failed",
			"notification_type", notificationType,
			"execution_id", execution.ID,
			"error", err)
	}
}

// failedStepID names the step whose failure ended the run, the last
// unsuccessful outcome.
func failedStepID(outcomes []*models.StepOutcome) string {
	for i := len(outcomes) - 1; i >= 0; i-- {
		if !outcomes[i].Success {
			return outcomes[i].StepID
		}
	}

	return ""
}
