// Package web provides HTTP handlers and REST API endpoints for the live-chat widget and agent dashboard.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	chatService  *services.Chat
	agentService *services.Agent
	validator    *validator.Validate
	registry     *registry.Registry
	workflows    *workflow.Repository
	subscriber   eventbus.EventSubscriber
	auth         Authenticator
	heartbeat    time.Duration

	// streams parents every push subscription; CloseStreams cancels it.
	streams      context.Context
	closeStreams context.CancelFunc
}

func NewAPIHandlers(
	chatService *services.Chat,
	agentService *services.Agent,
	validator *validator.Validate,
	registry *registry.Registry,
	workflows *workflow.Repository,
	subscriber eventbus.EventSubscriber,
	auth Authenticator,
) *APIHandlers {
	streams, closeStreams := context.WithCancel(context.Background())

	return &APIHandlers{
		streams:      streams,
		closeStreams: closeStreams,
		chatService:  chatService,
		agentService: agentService,
		validator:    validator,
		registry:     registry,
		workflows:    workflows,
		subscriber:   subscriber,
		auth:         auth,
		heartbeat:    DefaultHeartbeatInterval,
	}
}

// WithHeartbeat changes the keep-alive interval of the push stream.
func (h *APIHandlers) WithHeartbeat(interval time.Duration) *APIHandlers {
	h.heartbeat = interval

	return h
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := h.registry.HealthCheck()
	repositoryCheck, repOk := h.workflows.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Chatflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "Chatflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Widget endpoints

func (h *APIHandlers) StartChat(c fiber.Ctx) error {
	var req StartChatRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	started, err := h.chatService.Start(c.Context(), services.StartRequest{
		ChatbotID: req.ChatbotID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(started)
}

func (h *APIHandlers) SubmitMessage(c fiber.Ctx) error {
	var req SubmitMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.chatService.SubmitMessage(c.Context(), services.SubmitMessageRequest{
		SessionID: req.SessionID,
		Content:   req.Content,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) SubmitFeedback(c fiber.Ctx) error {
	messageID := c.Params("id")
	if messageID == "" {
		return badRequest(c, "Message ID is required")
	}

	var req FeedbackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	msg, err := h.chatService.SubmitFeedback(c.Context(), services.SubmitFeedbackRequest{
		SessionID: req.SessionID,
		MessageID: messageID,
		Rating:    req.Rating,
		Text:      req.Text,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(msg)
}

func (h *APIHandlers) History(c fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return badRequest(c, "session_id is required")
	}

	history, err := h.chatService.History(c.Context(), sessionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(history)
}

// Agent endpoints. RequireIdentity runs before all of them.

func actorFrom(c fiber.Ctx) (services.Actor, bool) {
	identity, ok := IdentityFrom(c)
	if !ok {
		return services.Actor{}, false
	}

	return actorFromIdentity(identity), true
}

func actorFromIdentity(identity Identity) services.Actor {
	return services.Actor{OrganizationID: identity.OrganizationID, UserID: identity.UserID}
}

func (h *APIHandlers) QueueConversation(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	var req QueueRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	conv, err := h.agentService.Queue(c.Context(), actor, c.Params("id"), services.QueueRequest{
		Priority: req.Priority,
		Tags:     req.Tags,
		Strategy: req.Strategy,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) AssignConversation(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	var req AssignRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	conv, err := h.agentService.Assign(c.Context(), actor, c.Params("id"), req.AgentID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) ReleaseConversation(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	conv, err := h.agentService.Release(c.Context(), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) ReturnToBot(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	conv, err := h.agentService.ReturnToBot(c.Context(), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) ResolveConversation(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	conv, err := h.agentService.Resolve(c.Context(), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) Reply(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	var req ReplyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	msg, err := h.agentService.Reply(c.Context(), actor, c.Params("id"), req.Content)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(msg)
}

func (h *APIHandlers) UpdateConversation(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	var req UpdateConversationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	conv, err := h.agentService.UpdateConversation(c.Context(), actor, c.Params("id"), services.UpdateConversationRequest{
		Priority: req.Priority,
		Tags:     req.Tags,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) SetAgentStatus(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	var req AgentStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	agent, err := h.agentService.SetStatus(c.Context(), actor, services.SetStatusRequest{
		Status:           req.Status,
		MaxConversations: req.MaxConversations,
		Skills:           req.Skills,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(agent)
}

func (h *APIHandlers) GetConversation(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	conv, err := h.agentService.Conversation(c.Context(), actor, c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conv)
}

func (h *APIHandlers) GetMessages(c fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c, ErrUnauthenticated.Error())
	}

	id := c.Params("id")

	messages, err := h.agentService.Messages(c.Context(), actor, id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(MessagesResponse{ConversationID: id, Messages: messages})
}
