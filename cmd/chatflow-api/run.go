package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/assignment"
	"github.com/dukex/chatflow/pkg/cmd"
	"github.com/dukex/chatflow/pkg/completion"
	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/knowledge"
	"github.com/dukex/chatflow/pkg/log"
	"github.com/dukex/chatflow/pkg/nodes/ai"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/seed"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultPort = 9091

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start api",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (memory:// or postgres://)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (memory, gochannel, kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers for the kafka event bus",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for distributed conversation locks and message metering",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "completion-url",
				Usage:   "Base URL of the OpenAI-compatible completion API",
				Sources: cli.EnvVars("COMPLETION_API_URL"),
			},
			&cli.StringFlag{
				Name:    "completion-api-key",
				Usage:   "API key for the completion API",
				Sources: cli.EnvVars("COMPLETION_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "completion-model",
				Usage:   "Model used when a chatbot names none",
				Value:   completion.DefaultModel,
				Sources: cli.EnvVars("COMPLETION_MODEL"),
			},
			&cli.StringFlag{
				Name:    "knowledge-url",
				Usage:   "Base URL of the knowledge search API",
				Sources: cli.EnvVars("KNOWLEDGE_API_URL"),
			},
			&cli.StringFlag{
				Name:    "knowledge-api-key",
				Usage:   "API key for the knowledge search API",
				Sources: cli.EnvVars("KNOWLEDGE_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "assignment-strategy",
				Usage:   "Default assignment strategy (round_robin, load_based, skill_based)",
				Value:   assignment.RoundRobinStrategy,
				Sources: cli.EnvVars("ASSIGNMENT_STRATEGY"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule for re-evaluating waiting conversations",
				Value:   assignment.DefaultSweepSchedule,
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "seed-file",
				Usage:   "YAML file with chatbots, workflows and agents to load at startup",
				Sources: cli.EnvVars("SEED_FILE"),
			},
			&cli.IntFlag{
				Name:    "message-limit",
				Usage:   "Monthly assistant messages per organization (0 disables the limit)",
				Sources: cli.EnvVars("MESSAGE_LIMIT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.FloatFlag{
				Name:    "otel-sample-ratio",
				Usage:   "Fraction of traces to sample (0 or 1 samples everything)",
				Value:   1,
				Sources: cli.EnvVars("OTEL_SAMPLE_RATIO"),
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
				Value:   log.FormatText,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			if err := log.Setup(command.String("log-level"), command.String("log-format")); err != nil {
				return err
			}

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Chatflow API")

			tracer, shutdownTracer, err := newTracer(ctx, command.Bool("otel-enabled"), command.Float("otel-sample-ratio"))
			if err != nil {
				return err
			}

			defer func() {
				if err := shutdownTracer(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
				}
			}()

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
					}
				}()
			}

			strategy, err := assignment.ParseStrategy(command.String("assignment-strategy"))
			if err != nil {
				return err
			}

			deps := newNodeDependencies(command, logger)

			reg := registry.NewRegistry(logger)
			reg.RegisterDefaultNodes(deps)

			if path := command.String("seed-file"); path != "" {
				if err := loadSeed(ctx, logger, path, store, reg); err != nil {
					return err
				}
			}

			locks := cmd.NewLocker(logger, redisClient)
			states := conversation.NewStateMachine(logger, store, eventBus)

			engine := assignment.NewEngine(logger, store, states, strategy, tracer)
			engine.Register(eventBus)

			sweeper, err := assignment.NewSweeper(logger, engine, command.String("sweep-schedule"))
			if err != nil {
				return err
			}

			chat := services.NewChat(logger, services.ChatDependencies{
				Persistence: store,
				Workflows:   workflow.NewRepository(store, reg),
				Executor:    workflow.NewExecutor(logger, tracer),
				Responder:   ai.NewResponder(logger, deps.Completion, deps.Knowledge),
				States:      states,
				Publisher:   eventBus,
				Locker:      locks,
				Meter:       cmd.NewMeter(redisClient, command.Int("message-limit")),
			})
			agent := services.NewAgent(logger, services.AgentDependencies{
				Persistence: store,
				States:      states,
				Engine:      engine,
				Publisher:   eventBus,
				Locker:      locks,
			})

			api := NewAPI(logger, store, reg, eventBus, chat, agent)

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				return api.Serve(gctx, command.Int("port"))
			})

			g.Go(func() error {
				return sweeper.Run(gctx)
			})

			if runner, ok := eventBus.(cmd.Runner); ok {
				g.Go(func() error {
					return runner.Run(gctx)
				})
			}

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "Chatflow API stopped with error", "error", err)

				return err
			}

			logger.InfoContext(ctx, "Chatflow API stopped")

			return nil
		},
	}
}

// newNodeDependencies builds the collaborators handed to node factories.
// Unset URLs leave the collaborator nil; nodes that need it answer with the
// chatbot fallback.
func newNodeDependencies(command *cli.Command, logger *slog.Logger) protocol.Dependencies {
	deps := protocol.Dependencies{Logger: logger}

	if url := command.String("completion-url"); url != "" {
		deps.Completion = completion.NewClient(logger, url, command.String("completion-api-key"),
			completion.WithDefaultModel(command.String("completion-model")))
	}

	if url := command.String("knowledge-url"); url != "" {
		deps.Knowledge = knowledge.NewClient(logger, url, command.String("knowledge-api-key"))
	}

	return deps
}

func newTracer(ctx context.Context, enabled bool, ratio float64) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, otelhelper.Config{
		ServiceName: "chatflow-api",
		SampleRatio: ratio,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}

func loadSeed(ctx context.Context, logger *slog.Logger, path string, store persistence.Persistence, reg *registry.Registry) error {
	file, err := seed.Load(path)
	if err != nil {
		return err
	}

	return file.Apply(ctx, logger, store, workflow.NewPublishingService(store, reg))
}
