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
)

const messageColumns = `
	seq
  , id
  , conversation_id
  , role
  , content
  , node_id
  , ai
  , feedback_rating
  , feedback_text
  , is_from_agent
  , agent_id
  , extra
  , created_at
`

// MessageRepository handles the append-only message log.
type MessageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *sql.DB, logger *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, logger: logger}
}

func (r *MessageRepository) Append(ctx context.Context, message *models.Message) error {
	var ai, extra []byte

	if message.AI != nil {
		var err error

		ai, err = json.Marshal(message.AI)
		if err != nil {
			return fmt.Errorf("failed to marshal ai metadata: %w", err)
		}
	}

	if len(message.Extra) > 0 {
		var err error

		extra, err = json.Marshal(message.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal message extra: %w", err)
		}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, node_id, ai, feedback_rating,
			feedback_text, is_from_agent, agent_id, extra, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING seq
	`,
		message.ID,
		message.ConversationID,
		message.Role,
		message.Content,
		message.NodeID,
		ai,
		message.FeedbackRating,
		message.FeedbackText,
		message.IsFromAgent,
		message.AgentID,
		extra,
		message.CreatedAt,
	).Scan(&message.Seq)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 AND id = $2",
		conversationID, messageID)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMessageNotFound
		}

		return nil, err
	}

	return msg, nil
}

func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	messages := make([]*models.Message, 0)

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// UpdateFeedback touches only the feedback columns.
func (r *MessageRepository) UpdateFeedback(ctx context.Context, conversationID, messageID string, rating *int, text *string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE messages
		SET feedback_rating = COALESCE($3, feedback_rating),
			feedback_text = COALESCE($4, feedback_text)
		WHERE conversation_id = $1 AND id = $2
		RETURNING `+messageColumns,
		conversationID, messageID, rating, text)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrMessageNotFound
		}

		return nil, err
	}

	return msg, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		msg      models.Message
		nodeID   sql.NullString
		ai       []byte
		rating   sql.NullInt64
		feedback sql.NullString
		agentID  sql.NullString
		extra    []byte
	)

	err := row.Scan(
		&msg.Seq,
		&msg.ID,
		&msg.ConversationID,
		&msg.Role,
		&msg.Content,
		&nodeID,
		&ai,
		&rating,
		&feedback,
		&msg.IsFromAgent,
		&agentID,
		&extra,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	if nodeID.Valid {
		msg.NodeID = &nodeID.String
	}

	if len(ai) > 0 {
		msg.AI = &models.AIMetadata{}
		if err := json.Unmarshal(ai, msg.AI); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ai metadata: %w", err)
		}
	}

	if rating.Valid {
		v := int(rating.Int64)
		msg.FeedbackRating = &v
	}

	if feedback.Valid {
		msg.FeedbackText = &feedback.String
	}

	if agentID.Valid {
		msg.AgentID = &agentID.String
	}

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &msg.Extra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message extra: %w", err)
		}
	}

	return &msg, nil
}
