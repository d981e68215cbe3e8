package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxSteps bounds the node executions of one turn.
const MaxSteps = 100

// Turn is one user input against a conversation's workflow state.
type Turn struct {
	ConversationID string
	OrganizationID string
	Chatbot        *models.Chatbot
	State          models.ExecutionState
	CurrentNodeID  *string
	// Input is the user message; empty when the conversation starts.
	Input string
}

// Handoff carries the routing attributes a human_handoff node requested.
type Handoff struct {
	Priority *int
	Tags     []string
	Strategy string
}

// Result is what one turn produced. State and CurrentNodeID replace the
// conversation's stored values.
type Result struct {
	Messages        []models.OutboundMessage
	State           models.ExecutionState
	CurrentNodeID   *string
	StatusDirective *models.ConversationStatus
	Handoff         *Handoff
	// Failed is set when a node failed or the walk could not continue and
	// the fallback message was used.
	Failed bool
	Steps  int
}

type Executor struct {
	logger *slog.Logger
	tracer trace.Tracer
}

func NewExecutor(logger *slog.Logger, tracer trace.Tracer) *Executor {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		logger: logger.With("module", "workflow_executor"),
		tracer: tracer,
	}
}

// Process walks the graph for one turn. A pending prompt is resumed with the
// input; otherwise the walk starts at the cursor, or at start when the cursor
// is missing or no longer in the graph. The walk stops at a pause, a halt, a
// node failure or the step limit. Node failures never surface as errors: the
// chatbot's fallback message is appended instead.
func (e *Executor) Process(ctx context.Context, graph *Graph, turn Turn) (*Result, error) {
	if graph == nil {
		return nil, fmt.Errorf("process conversation %s: %w", turn.ConversationID, ErrInvalidGraph)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.process",
		attribute.String(otelhelper.ConversationIDKey, turn.ConversationID),
		attribute.String(otelhelper.OrganizationIDKey, turn.OrganizationID),
		attribute.String(otelhelper.WorkflowIDKey, graph.Workflow().ID),
	)
	defer span.End()

	if turn.Chatbot != nil {
		span.SetAttributes(attribute.String(otelhelper.ChatbotIDKey, turn.Chatbot.ID))
	}

	logger := e.logger.With(
		"conversation_id", turn.ConversationID,
		"workflow_id", graph.Workflow().ID,
	)

	state := turn.State.Clone()
	if state.Variables == nil {
		state.Variables = models.Variables{}
	}

	if turn.Input != "" {
		state.Variables.Set(models.VariableLastUserMessage, turn.Input)
		state.AppendTurn(models.MessageRoleUser, turn.Input)
	}

	chatbot := turn.Chatbot
	if chatbot == nil {
		chatbot = &models.Chatbot{}
	}

	exec := &protocol.ExecutionContext{
		ConversationID: turn.ConversationID,
		OrganizationID: turn.OrganizationID,
		Chatbot:        chatbot,
		State:          &state,
		Input:          turn.Input,
	}

	result := &Result{}

	current, awaiting := e.resolveCursor(ctx, graph, turn, &state, logger)
	state.AwaitingInput = nil

	var cursor *string

walk:
	for {
		if result.Steps >= MaxSteps {
			logger.WarnContext(ctx, "Step limit reached, stopping walk", "steps", result.Steps, "node_id", current)
			e.fallback(result, chatbot)

			break
		}

		node, _ := graph.Node(current)
		result.Steps++
		state.Visit(current)

		outcome, err := e.step(ctx, node, exec, awaiting)
		awaiting = nil

		if err != nil {
			logger.ErrorContext(ctx, "Node execution failed", "node_id", current, "node_type", node.Type(), "error", err)
			e.fallback(result, chatbot)
			cursor = &current

			break
		}

		result.Messages = append(result.Messages, outcome.Messages...)

		switch {
		case outcome.Pause != nil:
			pause := *outcome.Pause
			pause.NodeID = current
			state.AwaitingInput = &pause
			cursor = &current

			break walk
		case outcome.Halt:
			break walk
		}

		next, ok := graph.Next(current, outcome.Port)
		if !ok {
			if graph.HasEdges(current) {
				logger.WarnContext(ctx, "No outgoing edge matches, halting", "node_id", current, "port", outcome.Port)
				e.fallback(result, chatbot)
			}

			break
		}

		current = next
	}

	for _, msg := range result.Messages {
		state.AppendTurn(models.MessageRoleAssistant, msg.Content)
	}

	result.StatusDirective, result.Handoff = extractDirectives(state.Variables, logger)
	result.State = state
	result.CurrentNodeID = cursor

	span.SetAttributes(attribute.Int(otelhelper.StepCountKey, result.Steps))

	return result, nil
}

func (e *Executor) resolveCursor(ctx context.Context, graph *Graph, turn Turn, state *models.ExecutionState, logger *slog.Logger) (string, *models.AwaitingInput) {
	if pending := state.AwaitingInput; pending != nil {
		node, ok := graph.Node(pending.NodeID)
		if _, isInput := node.(protocol.InputNode); ok && isInput {
			return pending.NodeID, pending
		}

		logger.WarnContext(ctx, "Pending input points at a missing node, restarting", "node_id", pending.NodeID)

		return graph.StartID(), nil
	}

	if turn.CurrentNodeID != nil {
		if _, ok := graph.Node(*turn.CurrentNodeID); ok {
			return *turn.CurrentNodeID, nil
		}

		logger.WarnContext(ctx, "Cursor points at a missing node, restarting", "node_id", *turn.CurrentNodeID)
	}

	return graph.StartID(), nil
}

func (e *Executor) step(ctx context.Context, node protocol.Node, exec *protocol.ExecutionContext, awaiting *models.AwaitingInput) (outcome protocol.Outcome, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.node",
		attribute.String(otelhelper.NodeIDKey, node.ID()),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type())),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", node.ID(), r)
		}

		if err != nil {
			otelhelper.SetError(span, err)

			return
		}

		span.SetAttributes(attribute.String(otelhelper.NodePortKey, outcome.Port))
	}()

	if awaiting != nil {
		return node.(protocol.InputNode).Resume(ctx, exec, awaiting, exec.Input)
	}

	return node.Execute(ctx, exec)
}

func (e *Executor) fallback(result *Result, chatbot *models.Chatbot) {
	result.Failed = true
	result.Messages = append(result.Messages, models.OutboundMessage{Content: chatbot.Fallback()})
}

// extractDirectives removes the reserved status variables and returns what
// they asked for.
func extractDirectives(vars models.Variables, logger *slog.Logger) (*models.ConversationStatus, *Handoff) {
	raw, ok := vars.Get(models.VariableConversationStatus)
	if !ok {
		return nil, nil
	}

	delete(vars, models.VariableConversationStatus)

	status := models.ConversationStatus(models.Stringify(raw))

	var handoff *Handoff

	if status == models.ConversationStatusWaitingForHuman {
		handoff = &Handoff{Strategy: vars.String(models.VariableHandoffStrategy)}

		if priority, ok := vars[models.VariableHandoffPriority].(float64); ok {
			p := int(priority)
			handoff.Priority = &p
		}

		if tags, ok := vars[models.VariableHandoffTags].([]any); ok {
			for _, tag := range tags {
				if s := models.Stringify(tag); s != "" {
					handoff.Tags = append(handoff.Tags, s)
				}
			}
		}
	}

	delete(vars, models.VariableHandoffPriority)
	delete(vars, models.VariableHandoffTags)
	delete(vars, models.VariableHandoffStrategy)

	if !status.Valid() {
		logger.Warn("Ignoring unknown status directive", "status", status)

		return nil, nil
	}

	return &status, handoff
}
