package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/dukex/chatflow/pkg/web"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	eventBus    eventbus.EventBus
	chat        *services.Chat
	agent       *services.Agent
	auth        web.Authenticator
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	chat *services.Chat,
	agent *services.Agent,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		registry:    registry,
		eventBus:    eventBus,
		chat:        chat,
		agent:       agent,
		auth:        web.HeaderAuthenticator{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	app, _ := a.build()

	return app
}

func (a *API) build() (*fiber.App, *web.APIHandlers) {
	workflows := workflow.NewRepository(a.persistence, a.registry)

	handlers := web.NewAPIHandlers(a.chat, a.agent, a.validate, a.registry, workflows, a.eventBus, a.auth)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Chatflow API")
	})

	app.Get("/health", handlers.HealthCheck)

	v1 := app.Group("/v1")

	// Widget endpoints, addressed by session id.
	chat := v1.Group("/chat")
	chat.Post("/start", handlers.StartChat)
	chat.Post("/messages", handlers.SubmitMessage)
	chat.Post("/messages/:id/feedback", handlers.SubmitFeedback)
	chat.Get("/history", handlers.History)

	v1.Get("/stream", handlers.Stream)

	// Dashboard endpoints.
	c := v1.Group("/conversations", web.RequireIdentity(a.auth))
	c.Get("/:id", handlers.GetConversation)
	c.Patch("/:id", handlers.UpdateConversation)
	c.Get("/:id/messages", handlers.GetMessages)
	c.Post("/:id/queue", handlers.QueueConversation)
	c.Post("/:id/assign", handlers.AssignConversation)
	c.Post("/:id/release", handlers.ReleaseConversation)
	c.Post("/:id/return-to-bot", handlers.ReturnToBot)
	c.Post("/:id/resolve", handlers.ResolveConversation)
	c.Post("/:id/reply", handlers.Reply)

	agents := v1.Group("/agents", web.RequireIdentity(a.auth))
	agents.Put("/me/status", handlers.SetAgentStatus)

	return app, handlers
}

// Serve listens on port until ctx is cancelled, then drains open requests.
func (a *API) Serve(ctx context.Context, port int) error {
	app, handlers := a.build()

	go func() {
		<-ctx.Done()

		handlers.CloseStreams()

		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	a.logger.InfoContext(ctx, "API server listening", "port", port)

	return app.Listen(":"+strconv.Itoa(port), fiber.ListenConfig{DisableStartupMessage: true})
}
