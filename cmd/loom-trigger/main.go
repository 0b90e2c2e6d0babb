package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomctl/loom/pkg/cmd"
	"github.com/loomctl/loom/pkg/kvstore"
	"github.com/loomctl/loom/pkg/log"
	"github.com/loomctl/loom/pkg/persistence"
	"github.com/loomctl/loom/pkg/triggers/schedule"
	"github.com/loomctl/loom/pkg/triggers/webhook"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName         = "loom-trigger"
	defaultPort         = 8085
	shutdownTimeout     = 10 * time.Second
	materializeInterval = time.Minute
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Turn schedules and webhook deliveries into workflow run requests",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the inbound webhook server",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Storage URL for workflows and executions (file:// or memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schedule-store-url",
				Usage:   "Storage URL for materialized schedules (file:// or memory://)",
				Value:   "memory://",
				Sources: cli.EnvVars("SCHEDULE_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "kvstore-url",
				Usage:   "TTL store URL for webhook delivery dedup (memory:// or redis://)",
				Value:   "memory://",
				Sources: cli.EnvVars("KVSTORE_URL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the schedule poller checks for due entries",
				Value:   time.Minute,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule(serviceName)

			logger.InfoContext(ctx, "Initializing Loom trigger service")

			eventBus := cmd.NewEventBus(command.String("event-bus"), serviceName, logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewPersistence(command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			scheduleStore, err := schedule.NewStore(command.String("schedule-store-url"))
			if err != nil {
				return fmt.Errorf("failed to open schedule store: %w", err)
			}

			dedup, err := kvstore.NewStore(command.String("kvstore-url"))
			if err != nil {
				return fmt.Errorf("failed to open dedup store: %w", err)
			}
			defer func() {
				if err := dedup.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close dedup store", "error", err)
				}
			}()

			provider := schedule.NewProvider(scheduleStore, eventBus, command.Duration("poll-interval"), logger)

			if err := materialize(ctx, provider, store); err != nil {
				return err
			}

			provider.Start(ctx)
			defer provider.Stop()

			go rematerializeLoop(ctx, provider, store, logger)

			server := webhook.NewServer(store, eventBus, dedup, logger)

			go func() {
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Error("Failed to shut down webhook server", "error", err)
				}
			}()

			return server.Start(fmt.Sprintf(":%d", command.Int("port")))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}

func materialize(ctx context.Context, provider *schedule.Provider, workflows persistence.WorkflowRepository) error {
	all, err := workflows.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows for schedule materialization: %w", err)
	}

	return provider.Materialize(ctx, all)
}

// rematerializeLoop keeps the schedule store in sync with workflow
// changes made while the service is running.
func rematerializeLoop(ctx context.Context, provider *schedule.Provider, workflows persistence.WorkflowRepository, logger *slog.Logger) {
	ticker := time.NewTicker(materializeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := materialize(ctx, provider, workflows); err != nil {
				logger.Error("Failed to rematerialize schedules", "error", err)
			}
		}
	}
}
