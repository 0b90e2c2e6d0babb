package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/models"
)

const defaultPollInterval = time.Minute

// Provider is the centralized schedule poller. One ticker checks the
// store for due entries and publishes a run request per due workflow;
// individual cron expressions never get their own timers.
type Provider struct {
	store     Store
	publisher eventbus.EventPublisher
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

func NewProvider(store Store, publisher eventbus.EventPublisher, interval time.Duration, logger *slog.Logger) *Provider {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Provider{
		store:     store,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("module", "schedule_provider"),
	}
}

// Materialize reconciles the schedule store against the current
// workflow set: active workflows with schedule triggers get an entry
// with a computed next-run time, everything else is removed. Active
// schedule-triggered workflows must always have a materialized entry.
func (p *Provider) Materialize(ctx context.Context, workflows []*models.Workflow) error {
	for _, workflow := range workflows {
		trigger := workflow.Trigger

		if workflow.Status != models.WorkflowStatusActive || trigger.Type != models.TriggerTypeSchedule || trigger.Schedule == nil {
			if err := p.store.DeleteByWorkflowID(ctx, workflow.ID); err != nil {
				return err
			}

			continue
		}

		existing, err := p.store.ScheduleByWorkflowID(ctx, workflow.ID)
		if err != nil {
			return err
		}

		if existing != nil &&
			existing.CronExpression == trigger.Schedule.Cron &&
			existing.Timezone == trigger.Schedule.Timezone {
			continue
		}

		schedule, err := NewSchedule(uuid.New().String(), workflow.ID, trigger.Schedule.Cron, trigger.Schedule.Timezone)
		if err != nil {
			p.logger.Error("Skipping workflow with invalid cron expression",
				"workflow_id", workflow.ID,
				"cron", trigger.Schedule.Cron,
				"error", err)

			continue
		}

		if err := p.store.SaveSchedule(ctx, schedule); err != nil {
			return err
		}

		p.logger.Info("Materialized schedule",
			"workflow_id", workflow.ID,
			"cron", schedule.CronExpression,
			"next_due_at", schedule.NextDueAt)
	}

	return nil
}

// Start launches the poll loop. It returns immediately; polling stops
// when ctx is cancelled or Stop is called.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.started = true
	p.done = make(chan struct{})

	go p.poll(ctx)

	p.logger.Info("Schedule poller started", "interval", p.interval)
}

func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	close(p.done)
	p.started = false
}

func (p *Provider) poll(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessDue(ctx, time.Now().UTC())
		}
	}
}

// ProcessDue fires every due schedule once and advances its next-run
// time. Exposed for the poll loop and for tests to drive directly.
func (p *Provider) ProcessDue(ctx context.Context, now time.Time) {
	due, err := p.store.DueSchedules(ctx, now)
	if err != nil {
		p.logger.Error("Failed to query due schedules", "error", err)

		return
	}

	for _, schedule := range due {
		event := events.WorkflowRunRequested{
			BaseEvent:   events.NewBaseEvent(events.WorkflowRunRequestedEvent, schedule.WorkflowID),
			TriggerType: string(models.TriggerTypeSchedule),
			TriggerData: map[string]any{
				"cron_expression": schedule.CronExpression,
				"due_at":          schedule.NextDueAt.Format(time.RFC3339),
			},
		}

		if err := p.publisher.Publish(ctx, schedule.WorkflowID, event); err != nil {
			p.logger.Error("Failed to publish run request for due schedule",
				"workflow_id", schedule.WorkflowID,
				"error", err)

			// Leave NextDueAt untouched so the next tick retries.
			continue
		}

		if err := schedule.UpdateNextDueAt(); err != nil {
			p.logger.Error("Failed to advance schedule",
				"workflow_id", schedule.WorkflowID,
				"error", err)

			continue
		}

		if err := p.store.SaveSchedule(ctx, schedule); err != nil {
			p.logger.Error("Failed to save advanced schedule",
				"workflow_id", schedule.WorkflowID,
				"error", err)
		}
	}
}
