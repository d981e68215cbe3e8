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

// ChatbotRepository handles chatbot settings rows.
type ChatbotRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewChatbotRepository creates a new chatbot repository.
func NewChatbotRepository(db *sql.DB, logger *slog.Logger) *ChatbotRepository {
	return &ChatbotRepository{db: db, logger: logger}
}

func (r *ChatbotRepository) GetByID(ctx context.Context, id string) (*models.Chatbot, error) {
	query := `
		SELECT
			id
		  , organization_id
		  , name
		  , mode
		  , COALESCE(workflow_id, '')
		  , greeting
		  , fallback_message
		  , system_prompt
		  , model
		  , temperature
		  , max_tokens
		  , COALESCE(knowledge_base_id, '')
		  , appearance
		FROM chatbots
		WHERE id = $1
	`

	var (
		chatbot    models.Chatbot
		appearance []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&chatbot.ID,
		&chatbot.OrganizationID,
		&chatbot.Name,
		&chatbot.Mode,
		&chatbot.WorkflowID,
		&chatbot.Greeting,
		&chatbot.FallbackMessage,
		&chatbot.SystemPrompt,
		&chatbot.Model,
		&chatbot.Temperature,
		&chatbot.MaxTokens,
		&chatbot.KnowledgeBaseID,
		&appearance,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrChatbotNotFound
		}

		return nil, fmt.Errorf("failed to scan chatbot: %w", err)
	}

	if len(appearance) > 0 {
		if err := json.Unmarshal(appearance, &chatbot.Appearance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal appearance: %w", err)
		}
	}

	return &chatbot, nil
}

func (r *ChatbotRepository) Save(ctx context.Context, chatbot *models.Chatbot) error {
	var appearance []byte

	if chatbot.Appearance != nil {
		var err error

		appearance, err = json.Marshal(chatbot.Appearance)
		if err != nil {
			return fmt.Errorf("failed to marshal appearance: %w", err)
		}
	}

	query := `
		INSERT INTO chatbots (id, organization_id, name, mode, workflow_id, greeting, fallback_message,
			system_prompt, model, temperature, max_tokens, knowledge_base_id, appearance)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			mode = EXCLUDED.mode,
			workflow_id = EXCLUDED.workflow_id,
			greeting = EXCLUDED.greeting,
			fallback_message = EXCLUDED.fallback_message,
			system_prompt = EXCLUDED.system_prompt,
			model = EXCLUDED.model,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			knowledge_base_id = EXCLUDED.knowledge_base_id,
			appearance = EXCLUDED.appearance
	`

	_, err := r.db.ExecContext(ctx, query,
		chatbot.ID,
		chatbot.OrganizationID,
		chatbot.Name,
		chatbot.Mode,
		chatbot.WorkflowID,
		chatbot.Greeting,
		chatbot.FallbackMessage,
		chatbot.SystemPrompt,
		chatbot.Model,
		chatbot.Temperature,
		chatbot.MaxTokens,
		chatbot.KnowledgeBaseID,
		appearance,
	)
	if err != nil {
		return fmt.Errorf("failed to save chatbot: %w", err)
	}

	return nil
}
