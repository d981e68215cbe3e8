package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/lib/pq"
)

const loadWithinCapacity = "agent_availability_load_within_capacity"

const agentColumns = `
	organization_id
  , agent_id
  , status
  , max_conversations
  , current_conversations
  , skills
  , last_assigned_at
`

// AgentRepository handles agent availability rows.
type AgentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAgentRepository creates a new agent repository.
func NewAgentRepository(db *sql.DB, logger *slog.Logger) *AgentRepository {
	return &AgentRepository{db: db, logger: logger}
}

func (r *AgentRepository) GetByID(ctx context.Context, organizationID, agentID string) (*models.AgentAvailability, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agent_availability WHERE organization_id = $1 AND agent_id = $2",
		organizationID, agentID)

	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAgentError("GetByID", organizationID, agentID, persistence.ErrAgentNotFound)
		}

		return nil, err
	}

	return agent, nil
}

func (r *AgentRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*models.AgentAvailability, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+agentColumns+`
		FROM agent_availability
		WHERE organization_id = $1
		ORDER BY agent_id
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	agents := make([]*models.AgentAvailability, 0)

	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}

		agents = append(agents, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return agents, nil
}

func (r *AgentRepository) Save(ctx context.Context, agent *models.AgentAvailability) (*models.AgentAvailability, error) {
	skills := agent.Skills
	if skills == nil {
		skills = []string{}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO agent_availability (organization_id, agent_id, status, max_conversations, current_conversations, skills)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (organization_id, agent_id) DO UPDATE SET
			status = EXCLUDED.status,
			max_conversations = EXCLUDED.max_conversations,
			skills = EXCLUDED.skills
		RETURNING `+agentColumns,
		agent.OrganizationID, agent.AgentID, agent.Status, agent.MaxConversations, agent.CurrentConversations, pq.Array(skills))

	saved, err := scanAgent(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == checkViolation && pqErr.Constraint == loadWithinCapacity {
			err = persistence.ErrCapacityBelowLoad
		}

		return nil, persistence.NewAgentError("Save", agent.OrganizationID, agent.AgentID, err)
	}

	return saved, nil
}

// Reserve locks the conversation then the agent row, so concurrent
// reservations of the same agent queue up and re-read its capacity.
func (r *AgentRepository) Reserve(ctx context.Context, reservation persistence.Reservation) (*persistence.ReservationResult, error) {
	result := &persistence.ReservationResult{}

	err := withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		conv, err := lockConversation(ctx, tx, reservation.ConversationID, "Reserve")
		if err != nil {
			return err
		}

		if conv.Status != models.ConversationStatusWaitingForHuman {
			return persistence.NewConversationError("Reserve", conv.ID, persistence.ErrStatusConflict)
		}

		row := tx.QueryRowContext(ctx, "SELECT "+agentColumns+`
			FROM agent_availability
			WHERE organization_id = $1 AND agent_id = $2
			FOR UPDATE
		`, conv.OrganizationID, reservation.AgentID)

		agent, err := scanAgent(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return persistence.NewAgentError("Reserve", conv.OrganizationID, reservation.AgentID, persistence.ErrAgentNotFound)
			}

			return err
		}

		if !agent.HasCapacity() || (reservation.RequireAvailable && agent.Status != models.AgentStatusAvailable) {
			return persistence.NewAgentError("Reserve", conv.OrganizationID, reservation.AgentID, persistence.ErrNoCapacity)
		}

		row = tx.QueryRowContext(ctx, `
			UPDATE agent_availability
			SET current_conversations = current_conversations + 1,
				last_assigned_at = $3
			WHERE organization_id = $1 AND agent_id = $2
			RETURNING `+agentColumns,
			conv.OrganizationID, reservation.AgentID, reservation.At)

		if result.Agent, err = scanAgent(row); err != nil {
			return err
		}

		row = tx.QueryRowContext(ctx, `
			UPDATE conversations
			SET status = 'handed_off',
				assigned_agent_id = $2
			WHERE id = $1
			RETURNING `+conversationColumns,
			conv.ID, reservation.AgentID)

		if result.Conversation, err = scanConversation(row); err != nil {
			return err
		}

		result.From = conv.Status

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func scanAgent(row rowScanner) (*models.AgentAvailability, error) {
	var (
		agent          models.AgentAvailability
		skills         []string
		lastAssignedAt sql.NullTime
	)

	err := row.Scan(
		&agent.OrganizationID,
		&agent.AgentID,
		&agent.Status,
		&agent.MaxConversations,
		&agent.CurrentConversations,
		pq.Array(&skills),
		&lastAssignedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}

	agent.Skills = skills
	if agent.Skills == nil {
		agent.Skills = []string{}
	}

	if lastAssignedAt.Valid {
		agent.LastAssignedAt = &lastAssignedAt.Time
	}

	return &agent, nil
}
