package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/billing"
	"github.com/dukex/chatflow/pkg/conversation"
	"github.com/dukex/chatflow/pkg/eventbus"
	"github.com/dukex/chatflow/pkg/events"
	"github.com/dukex/chatflow/pkg/locker"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/nodes/ai"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/workflow"
	"github.com/google/uuid"
)

// ChatDependencies are the collaborators of the widget-facing service.
type ChatDependencies struct {
	Persistence persistence.Persistence
	Workflows   *workflow.Repository
	Executor    *workflow.Executor
	Responder   *ai.Responder
	States      *conversation.StateMachine
	Publisher   eventbus.EventPublisher
	// Locker defaults to an in-process locker.
	Locker locker.Locker
	// Meter defaults to billing.NoopMeter.
	Meter billing.Meter
}

// Chat runs the customer side of a conversation: start, submit, feedback.
type Chat struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	workflows   *workflow.Repository
	executor    *workflow.Executor
	responder   *ai.Responder
	states      *conversation.StateMachine
	locker      locker.Locker
	meter       billing.Meter
	writer      *messageWriter
	now         func() time.Time
}

func NewChat(logger *slog.Logger, deps ChatDependencies) *Chat {
	logger = logger.With("module", "chat_service")

	if deps.Locker == nil {
		deps.Locker = locker.NewMemoryLocker()
	}

	if deps.Meter == nil {
		deps.Meter = billing.NoopMeter{}
	}

	return &Chat{
		logger:      logger,
		persistence: deps.Persistence,
		workflows:   deps.Workflows,
		executor:    deps.Executor,
		responder:   deps.Responder,
		states:      deps.States,
		locker:      deps.Locker,
		meter:       deps.Meter,
		writer: &messageWriter{
			logger:      logger,
			persistence: deps.Persistence,
			publisher:   deps.Publisher,
			now:         time.Now,
		},
		now: time.Now,
	}
}

// StartRequest opens a conversation against a chatbot.
type StartRequest struct {
	ChatbotID string         `validate:"required"`
	Metadata  map[string]any `validate:"-"`
}

type StartResponse struct {
	SessionID      string                    `json:"session_id"`
	ConversationID string                    `json:"conversation_id"`
	Status         models.ConversationStatus `json:"status"`
	Messages       []*models.Message         `json:"messages"`
	Chatbot        models.DisplayInfo        `json:"chatbot"`
}

// Start creates a conversation, sends the greeting and, for workflow
// chatbots, walks the graph from start until it first waits for input.
func (c *Chat) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if strings.TrimSpace(req.ChatbotID) == "" {
		return nil, NewValidationError("Start", "missing_chatbot", "chatbot_id is required", ErrInvalidRequest)
	}

	chatbot, err := c.persistence.ChatbotRepository().GetByID(ctx, req.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chatbot %s: %w", req.ChatbotID, err)
	}

	if err := checkChatbot(chatbot); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	conv := &models.Conversation{
		ID:             uuid.New().String(),
		OrganizationID: chatbot.OrganizationID,
		ChatbotID:      chatbot.ID,
		SessionID:      uuid.New().String(),
		Status:         models.ConversationStatusActive,
		Tags:           []string{},
		Context:        models.NewExecutionState(),
		Metadata:       req.Metadata,
		CreatedAt:      now,
		LastMessageAt:  now,
	}

	if err := c.persistence.ConversationRepository().Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	c.logger.InfoContext(ctx, "Conversation started",
		"conversation_id", conv.ID,
		"chatbot_id", chatbot.ID,
		"organization_id", conv.OrganizationID,
		"mode", chatbot.Mode)

	var greeting []models.OutboundMessage
	if chatbot.Greeting != "" {
		greeting = append(greeting, models.OutboundMessage{Content: chatbot.Greeting})
		conv.Context.AppendTurn(models.MessageRoleAssistant, chatbot.Greeting)
	}

	turn := &botTurn{state: conv.Context, cursor: conv.CurrentNodeID}
	if chatbot.Mode == models.ChatbotModeWorkflow {
		turn = c.runWorkflow(ctx, conv, chatbot, "")
	}

	turn.messages = append(greeting, turn.messages...)

	messages, status, err := c.commit(ctx, conv, turn)
	if err != nil {
		return nil, err
	}

	return &StartResponse{
		SessionID:      conv.SessionID,
		ConversationID: conv.ID,
		Status:         status,
		Messages:       messages,
		Chatbot:        chatbot.Display(),
	}, nil
}

type SubmitMessageRequest struct {
	SessionID string `validate:"required"`
	Content   string `validate:"required"`
}

type SubmitMessageResponse struct {
	Messages []*models.Message        `json:"messages"`
	Status   models.ConversationStatus `json:"status"`
}

// SubmitMessage stores a customer message and, while the bot owns the
// conversation, answers it. Every produced message is stored and published
// before the call returns. Turns of one conversation never interleave.
// Only messages the bot processes are checked against and counted toward
// the organization's message limit.
func (c *Chat) SubmitMessage(ctx context.Context, req SubmitMessageRequest) (*SubmitMessageResponse, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, NewValidationError("SubmitMessage", "empty_message", "", ErrEmptyMessage)
	}

	conv, err := c.conversationBySession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	unlock, err := c.locker.Lock(ctx, conversationLockKey(conv.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock conversation %s: %w", conv.ID, err)
	}
	defer unlock()

	// Reload: the previous holder of the lock may have moved the conversation.
	conv, err = c.persistence.ConversationRepository().GetByID(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	if conv.IsClosed() {
		return nil, fmt.Errorf("submit message to %s: %w", conv.ID, ErrConversationClosed)
	}

	if !conv.IsHumanOwned() {
		if err := c.checkMessageLimit(ctx, conv.OrganizationID); err != nil {
			return nil, err
		}
	}

	if err := c.writer.append(ctx, conv, &models.Message{Role: models.MessageRoleUser, Content: content}); err != nil {
		return nil, err
	}

	if conv.IsHumanOwned() {
		state := conv.Context.Clone()
		state.AppendTurn(models.MessageRoleUser, content)

		err := c.persistence.ConversationRepository().SaveState(ctx, persistence.StateUpdate{
			ConversationID: conv.ID,
			CurrentNodeID:  conv.CurrentNodeID,
			Context:        state,
			LastMessageAt:  c.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
		}

		return &SubmitMessageResponse{Messages: []*models.Message{}, Status: conv.Status}, nil
	}

	c.countMessage(ctx, conv.OrganizationID)

	chatbot, err := c.persistence.ChatbotRepository().GetByID(ctx, conv.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chatbot %s: %w", conv.ChatbotID, err)
	}

	var turn *botTurn

	switch chatbot.Mode {
	case models.ChatbotModeAI:
		turn = c.runAI(ctx, conv, chatbot, content)
	default:
		turn = c.runWorkflow(ctx, conv, chatbot, content)
	}

	messages, status, err := c.commit(ctx, conv, turn)
	if err != nil {
		return nil, err
	}

	return &SubmitMessageResponse{Messages: messages, Status: status}, nil
}

// botTurn is what the bot produced for one input, ready to be stored.
type botTurn struct {
	messages  []models.OutboundMessage
	state     models.ExecutionState
	cursor    *string
	directive *models.ConversationStatus
	handoff   *workflow.Handoff
}

func (c *Chat) runWorkflow(ctx context.Context, conv *models.Conversation, chatbot *models.Chatbot, input string) *botTurn {
	logger := c.logger.With("conversation_id", conv.ID, "workflow_id", chatbot.WorkflowID)

	graph, err := c.workflows.Graph(ctx, chatbot.WorkflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Workflow unavailable, answering with fallback", "error", err)

		return fallbackTurn(conv, chatbot, input)
	}

	result, err := c.executor.Process(ctx, graph, workflow.Turn{
		ConversationID: conv.ID,
		OrganizationID: conv.OrganizationID,
		Chatbot:        chatbot,
		State:          conv.Context,
		CurrentNodeID:  conv.CurrentNodeID,
		Input:          input,
	})
	if err != nil {
		logger.ErrorContext(ctx, "Workflow turn failed, answering with fallback", "error", err)

		return fallbackTurn(conv, chatbot, input)
	}

	return &botTurn{
		messages:  result.Messages,
		state:     result.State,
		cursor:    result.CurrentNodeID,
		directive: result.StatusDirective,
		handoff:   result.Handoff,
	}
}

func (c *Chat) runAI(ctx context.Context, conv *models.Conversation, chatbot *models.Chatbot, input string) *botTurn {
	state := conv.Context.Clone()
	if state.Variables == nil {
		state.Variables = models.Variables{}
	}

	state.Variables.Set(models.VariableLastUserMessage, input)
	state.AppendTurn(models.MessageRoleUser, input)

	if c.responder == nil {
		c.logger.ErrorContext(ctx, "No completion provider configured", "conversation_id", conv.ID)

		return fallbackTurn(conv, chatbot, input)
	}

	completion, err := c.responder.Respond(ctx, chatbot, &state, input, ai.Options{
		UseKnowledgeBase: chatbot.KnowledgeBaseID != "",
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "Completion failed, answering with fallback", "conversation_id", conv.ID, "error", err)

		return fallbackTurn(conv, chatbot, input)
	}

	state.AppendTurn(models.MessageRoleAssistant, completion.Content)

	return &botTurn{
		messages: []models.OutboundMessage{{Content: completion.Content, AI: completion.Metadata()}},
		state:    state,
		cursor:   conv.CurrentNodeID,
	}
}

// fallbackTurn answers with the fallback message and leaves the cursor alone.
func fallbackTurn(conv *models.Conversation, chatbot *models.Chatbot, input string) *botTurn {
	state := conv.Context.Clone()
	if input != "" {
		state.AppendTurn(models.MessageRoleUser, input)
	}

	state.AppendTurn(models.MessageRoleAssistant, chatbot.Fallback())

	return &botTurn{
		messages: []models.OutboundMessage{{Content: chatbot.Fallback()}},
		state:    state,
		cursor:   conv.CurrentNodeID,
	}
}

// commit stores the turn's messages, then its execution state, then applies
// its status directive, so message events always precede the status event.
func (c *Chat) commit(ctx context.Context, conv *models.Conversation, turn *botTurn) ([]*models.Message, models.ConversationStatus, error) {
	messages, err := c.writer.appendOutbound(ctx, conv, turn.messages)
	if err != nil {
		return nil, conv.Status, err
	}

	err = c.persistence.ConversationRepository().SaveState(ctx, persistence.StateUpdate{
		ConversationID: conv.ID,
		CurrentNodeID:  turn.cursor,
		Context:        turn.state,
		LastMessageAt:  c.now().UTC(),
	})
	if err != nil {
		return nil, conv.Status, fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}

	if turn.directive == nil {
		return messages, conv.Status, nil
	}

	status, err := c.applyDirective(ctx, conv, *turn.directive, turn.handoff)
	if err != nil {
		return nil, conv.Status, err
	}

	return messages, status, nil
}

func (c *Chat) applyDirective(ctx context.Context, conv *models.Conversation, to models.ConversationStatus, handoff *workflow.Handoff) (models.ConversationStatus, error) {
	opts := conversation.TransitionOptions{Actor: "workflow", Reason: "workflow"}

	if handoff != nil {
		opts.Reason = "handoff"
		opts.Strategy = handoff.Strategy

		if handoff.Priority != nil || handoff.Tags != nil {
			_, err := c.persistence.ConversationRepository().UpdateRouting(ctx, persistence.RoutingUpdate{
				ConversationID: conv.ID,
				Priority:       handoff.Priority,
				Tags:           handoff.Tags,
			})
			if err != nil {
				return conv.Status, fmt.Errorf("failed to update routing of %s: %w", conv.ID, err)
			}
		}
	}

	transition, err := c.states.Transition(ctx, conv.ID, to, opts)
	if errors.Is(err, ErrInvalidTransition) {
		c.logger.WarnContext(ctx, "Ignoring status directive", "conversation_id", conv.ID, "from", conv.Status, "to", to)

		return conv.Status, nil
	}

	if err != nil {
		return conv.Status, err
	}

	return transition.Conversation.Status, nil
}

func (c *Chat) checkMessageLimit(ctx context.Context, organizationID string) error {
	allowance, err := c.meter.CheckMessageLimit(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("failed to check message limit: %w", err)
	}

	if !allowance.Allowed {
		c.logger.WarnContext(ctx, "Message limit reached", "organization_id", organizationID)

		return fmt.Errorf("organization %s: %w", organizationID, ErrMessageLimitExceeded)
	}

	return nil
}

func (c *Chat) countMessage(ctx context.Context, organizationID string) {
	if err := c.meter.IncrementMessageUsage(ctx, organizationID); err != nil {
		c.logger.WarnContext(ctx, "Failed to count message usage", "organization_id", organizationID, "error", err)
	}
}

// SubmitFeedbackRequest rates an assistant message. At least one of Rating
// and Text is required.
type SubmitFeedbackRequest struct {
	SessionID string
	MessageID string
	Rating    *int
	Text      *string
}

// SubmitFeedback records customer feedback on an assistant message.
func (c *Chat) SubmitFeedback(ctx context.Context, req SubmitFeedbackRequest) (*models.Message, error) {
	if req.MessageID == "" || (req.Rating == nil && req.Text == nil) {
		return nil, NewValidationError("SubmitFeedback", "missing_feedback", "rating or text is required", ErrInvalidRequest)
	}

	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, NewValidationError("SubmitFeedback", "invalid_rating", "", ErrInvalidRating)
	}

	conv, err := c.conversationBySession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	repo := c.persistence.MessageRepository()

	msg, err := repo.GetByID(ctx, conv.ID, req.MessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", req.MessageID, err)
	}

	if msg.Role != models.MessageRoleAssistant {
		return nil, NewValidationError("SubmitFeedback", "not_assistant_message", "", ErrNotAssistantMsg)
	}

	updated, err := repo.UpdateFeedback(ctx, conv.ID, req.MessageID, req.Rating, req.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to store feedback on %s: %w", req.MessageID, err)
	}

	return updated, nil
}

type HistoryResponse struct {
	ConversationID string                    `json:"conversation_id"`
	Status         models.ConversationStatus `json:"status"`
	Messages       []*models.Message         `json:"messages"`
}

// History returns the messages of a widget session in display order.
func (c *Chat) History(ctx context.Context, sessionID string) (*HistoryResponse, error) {
	conv, err := c.conversationBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := c.persistence.MessageRepository().ListByConversation(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of %s: %w", conv.ID, err)
	}

	return &HistoryResponse{ConversationID: conv.ID, Status: conv.Status, Messages: messages}, nil
}

// SessionScope is the push scope of a widget session.
func (c *Chat) SessionScope(ctx context.Context, sessionID string) (events.Scope, error) {
	conv, err := c.conversationBySession(ctx, sessionID)
	if err != nil {
		return events.Scope{}, err
	}

	return events.ConversationScope(conv), nil
}

func (c *Chat) conversationBySession(ctx context.Context, sessionID string) (*models.Conversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, NewValidationError("conversationBySession", "missing_session", "session_id is required", ErrInvalidRequest)
	}

	conv, err := c.persistence.ConversationRepository().GetBySession(ctx, sessionID)
	if persistence.IsConversationNotFound(err) {
		return nil, ErrSessionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	return conv, nil
}

func checkChatbot(chatbot *models.Chatbot) error {
	switch chatbot.Mode {
	case models.ChatbotModeAI:
		return nil
	case models.ChatbotModeWorkflow:
		if chatbot.WorkflowID == "" {
			return fmt.Errorf("chatbot %s has no workflow: %w", chatbot.ID, ErrChatbotMisconfigured)
		}

		return nil
	default:
		return fmt.Errorf("chatbot %s has mode %q: %w", chatbot.ID, chatbot.Mode, ErrChatbotMisconfigured)
	}
}
