package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/kvstore"
	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func webhookWorkflow(id, appSlug, triggerKey string) *models.Workflow {
	return &models.Workflow{
		ID:     id,
		UserID: "user-1",
		Name:   "Hooked " + id,
		Status: models.WorkflowStatusActive,
		Trigger: models.Trigger{
			Type:    models.TriggerTypeWebhook,
			Webhook: &models.WebhookTrigger{AppSlug: appSlug, TriggerKey: triggerKey},
		},
		Steps: []*models.Step{
			{ID: "run", Name: "Run", Type: models.StepTypeAgent, Config: models.StepConfig{Instruction: "go"}},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *capturePublisher, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	pub := &capturePublisher{}
	dedup := kvstore.NewMemoryStore()
	t.Cleanup(func() { _ = dedup.Close() })

	server := NewServer(store, pub, dedup, slog.Default())

	return server, pub, store
}

func TestWebhookTriggersMatchingWorkflow(t *testing.T) {
	server, pub, store := newTestServer(t)

	require.NoError(t, store.SaveWorkflow(context.Background(), webhookWorkflow("wf-1", "github", "push")))
	require.NoError(t, store.SaveWorkflow(context.Background(), webhookWorkflow("wf-2", "github", "issue_opened")))

	req := httptest.NewRequest("POST", "/webhooks/github/push", strings.NewReader(`{"ref":"main"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 202, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, float64(1), decoded["workflows_triggered"])

	require.Len(t, pub.events, 1)
	event, ok := pub.events[0].(events.WorkflowRunRequested)
	require.True(t, ok)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, string(models.TriggerTypeWebhook), event.TriggerType)

	payload, ok := event.TriggerData["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "main", payload["ref"])
}

func TestWebhookUnknownTargetReturnsNotFound(t *testing.T) {
	server, pub, _ := newTestServer(t)

	req := httptest.NewRequest("POST", "/webhooks/github/push", nil)

	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Empty(t, pub.events)
}

func TestWebhookIgnoresInactiveWorkflows(t *testing.T) {
	server, pub, store := newTestServer(t)

	workflow := webhookWorkflow("wf-1", "github", "push")
	workflow.Status = models.WorkflowStatusInactive
	require.NoError(t, store.SaveWorkflow(context.Background(), workflow))

	req := httptest.NewRequest("POST", "/webhooks/github/push", nil)

	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Empty(t, pub.events)
}

func TestWebhookDeduplicatesByDeliveryID(t *testing.T) {
	server, pub, store := newTestServer(t)

	require.NoError(t, store.SaveWorkflow(context.Background(), webhookWorkflow("wf-1", "github", "push")))

	for range 2 {
		req := httptest.NewRequest("POST", "/webhooks/github/push", strings.NewReader(`{}`))
		req.Header.Set(DeliveryIDHeader, "delivery-42")

		resp, err := server.app.Test(req)
		require.NoError(t, err)
		require.Less(t, resp.StatusCode, 300)
	}

	assert.Len(t, pub.events, 1)
}

func TestWebhookRejectsNonObjectBody(t *testing.T) {
	server, _, store := newTestServer(t)

	require.NoError(t, store.SaveWorkflow(context.Background(), webhookWorkflow("wf-1", "github", "push")))

	req := httptest.NewRequest("POST", "/webhooks/github/push", strings.NewReader(`[1,2,3]`))

	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}
