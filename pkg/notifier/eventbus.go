package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/log"
)

const (
	maxPublishAttempts = 3
	retryBackoff       = 200 * time.Millisecond
)

// EventBusNotifier translates status updates into typed bus events.
// Publish failures are retried a few times with a short backoff and
// then dropped; a missed notification must never fail an execution.
type EventBusNotifier struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewEventBusNotifier(publisher eventbus.EventPublisher) *EventBusNotifier {
	return &EventBusNotifier{
		publisher: publisher,
		logger:    log.WithModule("notifier"),
	}
}

func (n *EventBusNotifier) SendWorkflowStatusUpdate(ctx context.Context, update StatusUpdate) error {
	event, err := n.toEvent(update)
	if err != nil {
		n.logger.Warn("Dropping unmappable status update",
			"notification_type", update.NotificationType,
			"workflow_id", update.WorkflowID,
			"error", err)

		return nil
	}

	key := update.WorkflowID

	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		err = n.publisher.Publish(ctx, key, event)
		if err == nil {
			return nil
		}

		if attempt < maxPublishAttempts {
			select {
			case <-ctx.Done():
				attempt = maxPublishAttempts
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}

	n.logger.Warn("Failed to deliver status update, giving up",
		"notification_type", update.NotificationType,
		"workflow_id", update.WorkflowID,
		"attempts", maxPublishAttempts,
		"error", err)

	return nil
}

func (n *EventBusNotifier) toEvent(update StatusUpdate) (eventbus.Event, error) {
	base := func(eventType events.EventType) events.BaseEvent {
		b := events.NewBaseEvent(eventType, update.WorkflowID)
		b.UserID = update.UserID
		b.Metadata["workflow_name"] = update.WorkflowName
		if update.Details != "" {
			b.Metadata["details"] = update.Details
		}

		return b
	}

	step := update.StepData

	switch update.NotificationType {
	case NotificationExecutionStarted:
		return events.ExecutionStarted{
			BaseEvent:    base(events.ExecutionStartedEvent),
			ExecutionID:  executionID(step),
			WorkflowName: update.WorkflowName,
			TriggerType:  update.TriggerType,
		}, nil
	case NotificationExecutionCompleted:
		return events.ExecutionCompleted{
			BaseEvent:     base(events.ExecutionCompletedEvent),
			ExecutionID:   executionID(step),
			Status:        "success",
			DurationMs:    durationMs(step),
			StepsExecuted: update.StepsExecuted,
		}, nil
	case NotificationExecutionFailed:
		return events.ExecutionFailed{
			BaseEvent:     base(events.ExecutionFailedEvent),
			ExecutionID:   executionID(step),
			Status:        "failed",
			Error:         stepError(step),
			FailedStepID:  update.FailedStepID,
			DurationMs:    durationMs(step),
			StepsExecuted: update.StepsExecuted,
		}, nil
	case NotificationExecutionCancelled:
		return events.ExecutionCancelled{
			BaseEvent:     base(events.ExecutionCancelledEvent),
			ExecutionID:   executionID(step),
			Status:        "cancelled",
			Reason:        update.Details,
			DurationMs:    durationMs(step),
			StepsExecuted: update.StepsExecuted,
		}, nil
	case NotificationStepStarted:
		if step == nil {
			return nil, fmt.Errorf("step notification without step data")
		}

		return events.StepStarted{
			BaseEvent:   base(events.StepStartedEvent),
			ExecutionID: step.ExecutionID,
			StepID:      step.StepID,
			StepName:    step.StepName,
		}, nil
	case NotificationStepCompleted:
		if step == nil {
			return nil, fmt.Errorf("step notification without step data")
		}

		return events.StepCompleted{
			BaseEvent:   base(events.StepCompletedEvent),
			ExecutionID: step.ExecutionID,
			StepID:      step.StepID,
			StepName:    step.StepName,
			Result:      step.Result,
			DurationMs:  step.DurationMs,
		}, nil
	case NotificationStepFailed:
		if step == nil {
			return nil, fmt.Errorf("step notification without step data")
		}

		return events.StepFailed{
			BaseEvent:   base(events.StepFailedEvent),
			ExecutionID: step.ExecutionID,
			StepID:      step.StepID,
			StepName:    step.StepName,
			Error:       step.Error,
			DurationMs:  step.DurationMs,
		}, nil
	default:
		return nil, fmt.Errorf("unknown notification type: %s", update.NotificationType)
	}
}

func executionID(step *StepData) string {
	if step == nil {
		return ""
	}

	return step.ExecutionID
}

func durationMs(step *StepData) int64 {
	if step == nil {
		return 0
	}

	return step.DurationMs
}

func stepError(step *StepData) string {
	if step == nil {
		return ""
	}

	return step.Error
}
