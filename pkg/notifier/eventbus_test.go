package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu       sync.Mutex
	events   []eventbus.Event
	failures int
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures > 0 {
		p.failures--

		return errors.New("broker unavailable")
	}

	p.events = append(p.events, event)

	return nil
}

func TestEventBusNotifierStepCompleted(t *testing.T) {
	pub := &capturePublisher{}
	n := NewEventBusNotifier(pub)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		UserID:           "user-1",
		WorkflowID:       "wf-1",
		WorkflowName:     "Daily digest",
		NotificationType: NotificationStepCompleted,
		StepData: &StepData{
			ExecutionID: "exec-1",
			StepID:      "step-a",
			StepName:    "Summarize",
			DurationMs:  1200,
		},
	})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	event, ok := pub.events[0].(events.StepCompleted)
	require.True(t, ok)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, "step-a", event.StepID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, int64(1200), event.DurationMs)
}

func TestEventBusNotifierExecutionStartedCarriesTriggerType(t *testing.T) {
	pub := &capturePublisher{}
	n := NewEventBusNotifier(pub)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		UserID:           "user-1",
		WorkflowID:       "wf-1",
		WorkflowName:     "Daily digest",
		NotificationType: NotificationExecutionStarted,
		TriggerType:      "schedule",
		StepData:         &StepData{ExecutionID: "exec-1"},
	})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	event, ok := pub.events[0].(events.ExecutionStarted)
	require.True(t, ok)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, "schedule", event.TriggerType)
}

func TestEventBusNotifierTerminalUpdatesCarryRunTotals(t *testing.T) {
	pub := &capturePublisher{}
	n := NewEventBusNotifier(pub)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		WorkflowID:       "wf-1",
		NotificationType: NotificationExecutionCompleted,
		StepsExecuted:    3,
		StepData:         &StepData{ExecutionID: "exec-1", DurationMs: 900},
	})
	require.NoError(t, err)

	err = n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		WorkflowID:       "wf-1",
		NotificationType: NotificationExecutionFailed,
		StepsExecuted:    2,
		FailedStepID:     "summarize",
		StepData:         &StepData{ExecutionID: "exec-2", Error: "model unavailable"},
	})
	require.NoError(t, err)

	err = n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		WorkflowID:       "wf-1",
		NotificationType: NotificationExecutionCancelled,
		StepsExecuted:    1,
		StepData:         &StepData{ExecutionID: "exec-3"},
	})
	require.NoError(t, err)
	require.Len(t, pub.events, 3)

	completed, ok := pub.events[0].(events.ExecutionCompleted)
	require.True(t, ok)
	assert.Equal(t, 3, completed.StepsExecuted)

	failed, ok := pub.events[1].(events.ExecutionFailed)
	require.True(t, ok)
	assert.Equal(t, 2, failed.StepsExecuted)
	assert.Equal(t, "summarize", failed.FailedStepID)
	assert.Equal(t, "model unavailable", failed.Error)

	cancelled, ok := pub.events[2].(events.ExecutionCancelled)
	require.True(t, ok)
	assert.Equal(t, 1, cancelled.StepsExecuted)
}

func TestEventBusNotifierRetriesThenSucceeds(t *testing.T) {
	pub := &capturePublisher{failures: 2}
	n := NewEventBusNotifier(pub)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		UserID:           "user-1",
		WorkflowID:       "wf-1",
		NotificationType: NotificationExecutionStarted,
		StepData:         &StepData{ExecutionID: "exec-1"},
	})
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

func TestEventBusNotifierSwallowsPersistentFailure(t *testing.T) {
	pub := &capturePublisher{failures: 100}
	n := NewEventBusNotifier(pub)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		WorkflowID:       "wf-1",
		NotificationType: NotificationExecutionCompleted,
	})

	assert.NoError(t, err)
	assert.Empty(t, pub.events)
}

func TestEventBusNotifierGivesUpAfterMaxAttempts(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "wf-1", mock.Anything).
		Return(assert.AnError).
		Times(maxPublishAttempts)

	n := NewEventBusNotifier(bus)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		WorkflowID:       "wf-1",
		NotificationType: NotificationExecutionFailed,
	})

	assert.NoError(t, err)
	bus.AssertExpectations(t)
}

func TestEventBusNotifierDropsStepUpdateWithoutStepData(t *testing.T) {
	pub := &capturePublisher{}
	n := NewEventBusNotifier(pub)

	err := n.SendWorkflowStatusUpdate(context.Background(), StatusUpdate{
		WorkflowID:       "wf-1",
		NotificationType: NotificationStepStarted,
	})

	assert.NoError(t, err)
	assert.Empty(t, pub.events)
}
