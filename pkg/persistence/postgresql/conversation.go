package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/lib/pq"
)

const conversationColumns = `
	id
  , organization_id
  , chatbot_id
  , session_id
  , status
  , priority
  , tags
  , assigned_agent_id
  , current_node_id
  , context
  , metadata
  , created_at
  , last_message_at
  , closed_at
`

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// ConversationRepository handles conversation rows.
type ConversationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db *sql.DB, logger *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, logger: logger}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	contextJSON, err := json.Marshal(conversation.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	metadataJSON, err := marshalNullable(conversation.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tags := conversation.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, organization_id, chatbot_id, session_id, status, priority, tags,
			assigned_agent_id, current_node_id, context, metadata, created_at, last_message_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		conversation.ID,
		conversation.OrganizationID,
		conversation.ChatbotID,
		conversation.SessionID,
		conversation.Status,
		conversation.Priority,
		pq.Array(tags),
		conversation.AssignedAgentID,
		conversation.CurrentNodeID,
		contextJSON,
		metadataJSON,
		conversation.CreatedAt,
		conversation.LastMessageAt,
		conversation.ClosedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewConversationError("Create", conversation.ID, persistence.ErrConversationAlreadyExists)
		}

		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewConversationError("GetByID", id, persistence.ErrConversationNotFound)
		}

		return nil, err
	}

	return conv, nil
}

func (r *ConversationRepository) GetBySession(ctx context.Context, sessionID string) (*models.Conversation, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE session_id = $1", sessionID)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSessionError("GetBySession", sessionID, persistence.ErrConversationNotFound)
		}

		return nil, err
	}

	return conv, nil
}

func (r *ConversationRepository) SaveState(ctx context.Context, update persistence.StateUpdate) error {
	contextJSON, err := json.Marshal(update.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	var lastMessageAt any
	if !update.LastMessageAt.IsZero() {
		lastMessageAt = update.LastMessageAt
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET current_node_id = $2,
			context = $3,
			last_message_at = COALESCE($4, last_message_at)
		WHERE id = $1
	`, update.ConversationID, update.CurrentNodeID, contextJSON, lastMessageAt)
	if err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return persistence.NewConversationError("SaveState", update.ConversationID, persistence.ErrConversationNotFound)
	}

	return nil
}

func (r *ConversationRepository) UpdateRouting(ctx context.Context, update persistence.RoutingUpdate) (*models.Conversation, error) {
	var tags any
	if update.Tags != nil {
		tags = pq.Array(update.Tags)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE conversations
		SET priority = COALESCE($2, priority),
			tags = COALESCE($3, tags)
		WHERE id = $1
		RETURNING `+conversationColumns,
		update.ConversationID, update.Priority, tags)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewConversationError("UpdateRouting", update.ConversationID, persistence.ErrConversationNotFound)
		}

		return nil, err
	}

	return conv, nil
}

// ChangeStatus locks the conversation row, checks the expected status and,
// when leaving handed_off, frees the agent slot in the same transaction.
func (r *ConversationRepository) ChangeStatus(ctx context.Context, change persistence.StatusChange) (*persistence.StatusChangeResult, error) {
	result := &persistence.StatusChangeResult{}

	err := withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		conv, err := lockConversation(ctx, tx, change.ConversationID, "ChangeStatus")
		if err != nil {
			return err
		}

		if conv.Status != change.From {
			return persistence.NewConversationError("ChangeStatus", conv.ID, persistence.ErrStatusConflict)
		}

		if conv.Status == models.ConversationStatusHandedOff && change.To != models.ConversationStatusHandedOff && conv.AssignedAgentID != nil {
			row := tx.QueryRowContext(ctx, `
				UPDATE agent_availability
				SET current_conversations = GREATEST(current_conversations - 1, 0)
				WHERE organization_id = $1 AND agent_id = $2
				RETURNING `+agentColumns,
				conv.OrganizationID, *conv.AssignedAgentID)

			agent, err := scanAgent(row)
			switch {
			case err == nil:
				result.ReleasedAgent = agent
			case errors.Is(err, sql.ErrNoRows):
				r.logger.WarnContext(ctx, "assigned agent has no availability row", "conversation_id", conv.ID, "agent_id", *conv.AssignedAgentID)
			default:
				return err
			}
		}

		var closedAt any
		if change.To == models.ConversationStatusClosed {
			closedAt = change.At
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE conversations
			SET status = $2,
				assigned_agent_id = CASE WHEN $4 THEN assigned_agent_id ELSE NULL END,
				closed_at = COALESCE($3, closed_at)
			WHERE id = $1
			RETURNING `+conversationColumns,
			conv.ID, change.To, closedAt, change.To == models.ConversationStatusHandedOff)

		result.Conversation, err = scanConversation(row)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *ConversationRepository) Waiting(ctx context.Context, organizationID string) ([]*models.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+conversationColumns+`
		FROM conversations
		WHERE organization_id = $1 AND status = 'waiting_for_human'
		ORDER BY priority DESC, created_at ASC, id ASC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting conversations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	queue := make([]*models.Conversation, 0)

	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}

		queue = append(queue, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating waiting conversations: %w", err)
	}

	return queue, nil
}

func (r *ConversationRepository) WaitingOrganizations(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT organization_id
		FROM conversations
		WHERE status = 'waiting_for_human'
		ORDER BY organization_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query waiting organizations: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	orgs := make([]string, 0)

	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}

		orgs = append(orgs, org)
	}

	return orgs, rows.Err()
}

func lockConversation(ctx context.Context, tx *sql.Tx, id, op string) (*models.Conversation, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = $1 FOR UPDATE", id)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewConversationError(op, id, persistence.ErrConversationNotFound)
		}

		return nil, err
	}

	return conv, nil
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv            models.Conversation
		tags            []string
		assignedAgentID sql.NullString
		currentNodeID   sql.NullString
		contextJSON     []byte
		metadataJSON    []byte
		closedAt        sql.NullTime
	)

	err := row.Scan(
		&conv.ID,
		&conv.OrganizationID,
		&conv.ChatbotID,
		&conv.SessionID,
		&conv.Status,
		&conv.Priority,
		pq.Array(&tags),
		&assignedAgentID,
		&currentNodeID,
		&contextJSON,
		&metadataJSON,
		&conv.CreatedAt,
		&conv.LastMessageAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	conv.Tags = tags
	if conv.Tags == nil {
		conv.Tags = []string{}
	}

	if assignedAgentID.Valid {
		conv.AssignedAgentID = &assignedAgentID.String
	}

	if currentNodeID.Valid {
		conv.CurrentNodeID = &currentNodeID.String
	}

	if closedAt.Valid {
		conv.ClosedAt = &closedAt.Time
	}

	if err := json.Unmarshal(contextJSON, &conv.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}

	if conv.Context.Variables == nil {
		conv.Context.Variables = models.Variables{}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &conv, nil
}

func marshalNullable(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}

	return json.Marshal(v)
}
