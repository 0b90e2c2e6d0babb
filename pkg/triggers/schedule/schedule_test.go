package schedule

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduleComputesNextDueAt(t *testing.T) {
	schedule, err := NewSchedule("sched-1", "wf-1", "0 9 * * *", "")
	require.NoError(t, err)

	assert.True(t, schedule.Active)
	assert.False(t, schedule.NextDueAt.IsZero())
	assert.True(t, schedule.NextDueAt.After(time.Now().UTC().Add(-time.Minute)))
}

func TestNewScheduleRejectsBadCron(t *testing.T) {
	_, err := NewSchedule("sched-1", "wf-1", "not a cron", "")
	assert.Error(t, err)
}

func TestScheduleIsDue(t *testing.T) {
	schedule, err := NewSchedule("sched-1", "wf-1", "* * * * *", "")
	require.NoError(t, err)

	assert.False(t, schedule.IsDue(time.Now().UTC().Add(-time.Hour)))
	assert.True(t, schedule.IsDue(schedule.NextDueAt))
	assert.True(t, schedule.IsDue(schedule.NextDueAt.Add(time.Minute)))

	schedule.Active = false
	assert.False(t, schedule.IsDue(schedule.NextDueAt.Add(time.Minute)))
}

func TestScheduleInvalidTimezoneFallsBackToUTC(t *testing.T) {
	schedule, err := NewSchedule("sched-1", "wf-1", "0 12 * * *", "Not/AZone")
	require.NoError(t, err)
	assert.False(t, schedule.NextDueAt.IsZero())
}

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.events = append(p.events, event)

	return nil
}

func scheduledWorkflow(id, cronExpr string) *models.Workflow {
	return &models.Workflow{
		ID:     id,
		UserID: "user-1",
		Name:   "Scheduled " + id,
		Status: models.WorkflowStatusActive,
		Trigger: models.Trigger{
			Type:     models.TriggerTypeSchedule,
			Schedule: &models.ScheduleTrigger{Cron: cronExpr},
		},
		Steps: []*models.Step{
			{ID: "run", Name: "Run", Type: models.StepTypeAgent, Config: models.StepConfig{Instruction: "go"}},
		},
	}
}

func TestMaterializeCreatesAndRemovesEntries(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturePublisher{}
	provider := NewProvider(store, pub, time.Minute, slog.Default())

	ctx := context.Background()

	active := scheduledWorkflow("wf-active", "0 9 * * *")
	inactive := scheduledWorkflow("wf-inactive", "0 9 * * *")
	inactive.Status = models.WorkflowStatusInactive
	manual := scheduledWorkflow("wf-manual", "0 9 * * *")
	manual.Trigger = models.Trigger{Type: models.TriggerTypeManual}

	require.NoError(t, provider.Materialize(ctx, []*models.Workflow{active, inactive, manual}))

	entry, err := store.ScheduleByWorkflowID(ctx, "wf-active")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "0 9 * * *", entry.CronExpression)

	for _, id := range []string{"wf-inactive", "wf-manual"} {
		entry, err := store.ScheduleByWorkflowID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, entry)
	}

	// Deactivation removes the materialized entry.
	active.Status = models.WorkflowStatusInactive
	require.NoError(t, provider.Materialize(ctx, []*models.Workflow{active}))

	entry, err = store.ScheduleByWorkflowID(ctx, "wf-active")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMaterializeIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	provider := NewProvider(store, &capturePublisher{}, time.Minute, slog.Default())

	ctx := context.Background()
	workflow := scheduledWorkflow("wf-1", "30 8 * * 1")

	require.NoError(t, provider.Materialize(ctx, []*models.Workflow{workflow}))

	first, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, provider.Materialize(ctx, []*models.Workflow{workflow}))

	second, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.NextDueAt, second.NextDueAt)
}

func TestProcessDuePublishesAndAdvances(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturePublisher{}
	provider := NewProvider(store, pub, time.Minute, slog.Default())

	ctx := context.Background()

	schedule, err := NewSchedule("sched-1", "wf-1", "* * * * *", "")
	require.NoError(t, err)
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	fireAt := schedule.NextDueAt.Add(time.Second)
	provider.ProcessDue(ctx, fireAt)

	require.Len(t, pub.events, 1)
	request, ok := pub.events[0].(events.WorkflowRunRequested)
	require.True(t, ok)
	assert.Equal(t, "wf-1", request.WorkflowID)
	assert.Equal(t, string(models.TriggerTypeSchedule), request.TriggerType)

	advanced, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, advanced.NextDueAt.After(fireAt.Add(-time.Second)))
}

func TestProcessDueKeepsDueTimeOnPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	pub := &capturePublisher{err: assert.AnError}
	provider := NewProvider(store, pub, time.Minute, slog.Default())

	ctx := context.Background()

	schedule, err := NewSchedule("sched-1", "wf-1", "* * * * *", "")
	require.NoError(t, err)
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	before := schedule.NextDueAt
	provider.ProcessDue(ctx, before.Add(time.Second))

	after, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, before, after.NextDueAt)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	schedule, err := NewSchedule("sched-1", "wf-1", "0 9 * * *", "America/Sao_Paulo")
	require.NoError(t, err)
	require.NoError(t, store.SaveSchedule(ctx, schedule))

	loaded, err := store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, schedule.CronExpression, loaded.CronExpression)
	assert.Equal(t, "America/Sao_Paulo", loaded.Timezone)

	due, err := store.DueSchedules(ctx, schedule.NextDueAt.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	require.NoError(t, store.DeleteByWorkflowID(ctx, "wf-1"))

	loaded, err = store.ScheduleByWorkflowID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
