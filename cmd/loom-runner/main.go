package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/loomctl/loom/pkg/agent"
	"github.com/loomctl/loom/pkg/agent/anthropic"
	"github.com/loomctl/loom/pkg/agent/mcpinv"
	"github.com/loomctl/loom/pkg/cmd"
	"github.com/loomctl/loom/pkg/engine"
	"github.com/loomctl/loom/pkg/log"
	"github.com/loomctl/loom/pkg/notifier"
	"github.com/loomctl/loom/pkg/otelhelper"
	"github.com/loomctl/loom/pkg/registry"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "loom-runner"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Consume workflow run requests and execute their steps",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "runner-id",
				Aliases: []string{"id"},
				Usage:   "Custom runner ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("RUNNER_ID"),
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
				Name:    "agents-path",
				Usage:   "Directory holding stored agent definitions",
				Value:   "./data/agents",
				Sources: cli.EnvVars("AGENTS_PATH"),
			},
			&cli.StringFlag{
				Name:     "anthropic-api-key",
				Usage:    "API key for the Anthropic Messages API",
				Required: true,
				Sources:  cli.EnvVars("ANTHROPIC_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "anthropic-base-url",
				Usage:   "Override the Anthropic API base URL",
				Value:   "",
				Sources: cli.EnvVars("ANTHROPIC_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "default-endpoint",
				Usage:   "Endpoint used when neither step, workflow, nor agent names one",
				Value:   "anthropic",
				Sources: cli.EnvVars("DEFAULT_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "default-model",
				Usage:   "Model used when neither step, workflow, nor agent names one",
				Value:   "claude-sonnet-4-20250514",
				Sources: cli.EnvVars("DEFAULT_MODEL"),
			},
			&cli.StringFlag{
				Name:    "mcp-config",
				Usage:   "Path to a JSON file listing MCP servers to connect",
				Value:   "",
				Sources: cli.EnvVars("MCP_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export execution traces via OTLP",
				Value:   false,
				Sources: cli.EnvVars("OTEL_ENABLED"),
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

			runnerID := command.String("runner-id")
			if runnerID == "" {
				runnerID = "runner-" + uuid.New().String()[:8]
			}

			logger := log.WithModule(serviceName).With("runner_id", runnerID)

			logger.InfoContext(ctx, "Initializing Loom runner")

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

			inventory := mcpinv.NewInventory(logger)
			defer func() {
				if err := inventory.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close MCP inventory", "error", err)
				}
			}()

			if err := connectMCPServers(ctx, inventory, command.String("mcp-config"), logger); err != nil {
				return err
			}

			var tracer trace.Tracer

			if command.Bool("otel-enabled") {
				var err error

				tracer, err = otelhelper.NewTracer(ctx, serviceName)
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}
			}

			factory := anthropic.NewFactory(
				command.String("anthropic-api-key"),
				command.String("anthropic-base-url"),
				inventory,
				logger,
			)
			loader := agent.NewFileLoader(command.String("agents-path"))
			adapter := agent.NewAdapter(
				loader,
				factory,
				command.String("default-endpoint"),
				command.String("default-model"),
				logger,
			)

			statusNotifier := notifier.NewEventBusNotifier(eventBus)
			executor := engine.NewStepExecutor(adapter, store, statusNotifier, tracer, logger)
			orchestrator := engine.NewOrchestrator(executor, store, statusNotifier, tracer, logger)
			runner := engine.NewRunner(eventBus, store, orchestrator, registry.NewRegistry(logger), inventory.Summary, logger)

			if err := runner.Start(ctx); err != nil {
				return fmt.Errorf("failed to start runner: %w", err)
			}

			logger.InfoContext(ctx, "Loom runner started, waiting for run requests")

			<-ctx.Done()

			logger.Info("Shutting down Loom runner")

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		panic(err)
	}
}

// connectMCPServers reads the server list from the config file and
// connects each one. A missing path means the runner starts without
// tools; agent steps that require them fail fast instead.
func connectMCPServers(ctx context.Context, inventory *mcpinv.Inventory, configPath string, logger *slog.Logger) error {
	if configPath == "" {
		logger.InfoContext(ctx, "No MCP config provided, starting without tools")

		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read MCP config %s: %w", configPath, err)
	}

	var servers []mcpinv.ServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		return fmt.Errorf("failed to parse MCP config %s: %w", configPath, err)
	}

	for _, server := range servers {
		if err := inventory.Connect(ctx, server); err != nil {
			logger.ErrorContext(ctx, "Failed to connect MCP server, continuing without it",
				"server", server.Name,
				"error", err)
		}
	}

	return nil
}
