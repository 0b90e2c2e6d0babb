package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/loomctl/loom/pkg/channels/gochannel"
	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/notifier"
	"github.com/loomctl/loom/pkg/persistence/memory"
	"github.com/loomctl/loom/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerExecutesRequestedWorkflow(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	workflow := chainWorkflow()
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))

	executor := NewStepExecutor(adapter, store, notifier.Nop{}, nil, slog.Default())
	orchestrator := NewOrchestrator(executor, store, notifier.Nop{}, nil, slog.Default())

	mcp := func() models.MCPSummary {
		return models.MCPSummary{Available: true, ToolCount: 1, ToolNames: []string{"mail_search"}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := NewRunner(bus, store, orchestrator, registry.NewRegistry(slog.Default()), mcp, slog.Default())
	require.NoError(t, runner.Start(ctx))

	event := events.WorkflowRunRequested{
		BaseEvent:   events.NewBaseEvent(events.WorkflowRunRequestedEvent, workflow.ID),
		TriggerType: string(models.TriggerTypeManual),
	}
	require.NoError(t, bus.Publish(ctx, workflow.ID, event))

	require.Eventually(t, func() bool {
		executions, listErr := store.ExecutionsByWorkflow(context.Background(), workflow.ID)

		return listErr == nil && len(executions) == 1 && executions[0].Status.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	executions, err := store.ExecutionsByWorkflow(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, executions[0].Status)
	assert.Equal(t, 2, adapter.callCount())
}

func TestRunnerDropsWorkflowWithInvalidStepConfig(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	workflow := chainWorkflow()
	workflow.Steps[0].Config = models.StepConfig{}
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))

	executor := NewStepExecutor(adapter, store, notifier.Nop{}, nil, slog.Default())
	orchestrator := NewOrchestrator(executor, store, notifier.Nop{}, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := NewRunner(bus, store, orchestrator, registry.NewRegistry(slog.Default()), func() models.MCPSummary { return models.MCPSummary{} }, slog.Default())
	require.NoError(t, runner.Start(ctx))

	event := events.WorkflowRunRequested{
		BaseEvent:   events.NewBaseEvent(events.WorkflowRunRequestedEvent, workflow.ID),
		TriggerType: string(models.TriggerTypeManual),
	}
	require.NoError(t, bus.Publish(ctx, workflow.ID, event))

	time.Sleep(100 * time.Millisecond)

	executions, err := store.ExecutionsByWorkflow(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, executions)
	assert.Zero(t, adapter.callCount())
}

func TestRunnerDropsInactiveWorkflow(t *testing.T) {
	publisher, subscriber, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(publisher, subscriber)
	store := memory.NewPersistence()
	adapter := &fakeAdapter{}

	workflow := chainWorkflow()
	workflow.Status = models.WorkflowStatusInactive
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))

	executor := NewStepExecutor(adapter, store, notifier.Nop{}, nil, slog.Default())
	orchestrator := NewOrchestrator(executor, store, notifier.Nop{}, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := NewRunner(bus, store, orchestrator, registry.NewRegistry(slog.Default()), func() models.MCPSummary { return models.MCPSummary{} }, slog.Default())
	require.NoError(t, runner.Start(ctx))

	event := events.WorkflowRunRequested{
		BaseEvent:   events.NewBaseEvent(events.WorkflowRunRequestedEvent, workflow.ID),
		TriggerType: string(models.TriggerTypeManual),
	}
	require.NoError(t, bus.Publish(ctx, workflow.ID, event))

	time.Sleep(100 * time.Millisecond)

	executions, err := store.ExecutionsByWorkflow(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Empty(t, executions)
	assert.Zero(t, adapter.callCount())
}
