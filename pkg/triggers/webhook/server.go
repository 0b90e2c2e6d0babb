// Package webhook exposes the inbound webhook endpoint that maps
// third-party app deliveries onto workflow run requests.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/loomctl/loom/pkg/eventbus"
	"github.com/loomctl/loom/pkg/events"
	"github.com/loomctl/loom/pkg/kvstore"
	"github.com/loomctl/loom/pkg/models"
	"github.com/loomctl/loom/pkg/persistence"
)

// DeliveryIDHeader carries the sender's delivery id. Redeliveries with
// the same id inside the dedup window are acknowledged but not re-run.
const DeliveryIDHeader = "X-Delivery-Id"

const defaultDedupTTL = 10 * time.Minute

type Server struct {
	app       *fiber.App
	workflows persistence.WorkflowRepository
	publisher eventbus.EventPublisher
	dedup     kvstore.Store
	dedupTTL  time.Duration
	logger    *slog.Logger
}

func NewServer(workflows persistence.WorkflowRepository, publisher eventbus.EventPublisher, dedup kvstore.Store, logger *slog.Logger) *Server {
	s := &Server{
		app:       fiber.New(),
		workflows: workflows,
		publisher: publisher,
		dedup:     dedup,
		dedupTTL:  defaultDedupTTL,
		logger:    logger.With("module", "webhook_server"),
	}

	s.app.Get("/health", s.handleHealth)
	s.app.Post("/webhooks/:appSlug/:triggerKey", s.handleWebhook)

	return s
}

func (s *Server) Start(addr string) error {
	s.logger.Info("Starting webhook server", "addr", addr)

	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebhook(c fiber.Ctx) error {
	appSlug := c.Params("appSlug")
	triggerKey := c.Params("triggerKey")

	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return badRequest(c, "request body must be a JSON object")
		}
	}

	deliveryID := c.Get(DeliveryIDHeader)
	if deliveryID != "" {
		key := fmt.Sprintf("webhook:dedup:%s:%s:%s", appSlug, triggerKey, deliveryID)

		fresh, err := s.dedup.SetNX(c.Context(), key, "1", s.dedupTTL)
		if err != nil {
			s.logger.Error("Dedup store unavailable, accepting delivery", "error", err)
		} else if !fresh {
			s.logger.Info("Dropping duplicate delivery",
				"app_slug", appSlug,
				"trigger_key", triggerKey,
				"delivery_id", deliveryID)

			return c.JSON(fiber.Map{"status": "duplicate"})
		}
	}

	matched, err := s.matchWorkflows(c.Context(), appSlug, triggerKey)
	if err != nil {
		s.logger.Error("Failed to match workflows for delivery", "error", err)

		return internalError(c, err)
	}

	if len(matched) == 0 {
		return notFound(c, fmt.Sprintf("no active workflow listens on %s/%s", appSlug, triggerKey))
	}

	triggered := 0

	for _, workflow := range matched {
		event := events.WorkflowRunRequested{
			BaseEvent:   events.NewBaseEvent(events.WorkflowRunRequestedEvent, workflow.ID),
			TriggerType: string(models.TriggerTypeWebhook),
			TriggerData: map[string]any{
				"app_slug":    appSlug,
				"trigger_key": triggerKey,
				"delivery_id": deliveryID,
				"payload":     payload,
			},
		}
		event.UserID = workflow.UserID

		if err := s.publisher.Publish(c.Context(), workflow.ID, event); err != nil {
			s.logger.Error("Failed to publish run request for delivery",
				"workflow_id", workflow.ID,
				"error", err)

			continue
		}

		triggered++
	}

	if triggered == 0 {
		return internalError(c, fmt.Errorf("failed to dispatch delivery to any workflow"))
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":              "accepted",
		"workflows_triggered": triggered,
	})
}

func (s *Server) matchWorkflows(ctx context.Context, appSlug, triggerKey string) ([]*models.Workflow, error) {
	all, err := s.workflows.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	matched := make([]*models.Workflow, 0)

	for _, workflow := range all {
		trigger := workflow.Trigger

		if !workflow.IsExecutable() || trigger.Type != models.TriggerTypeWebhook || trigger.Webhook == nil {
			continue
		}

		if trigger.Webhook.AppSlug == appSlug && trigger.Webhook.TriggerKey == triggerKey {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}
