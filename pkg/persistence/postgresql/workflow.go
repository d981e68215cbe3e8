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

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , chatbot_id
		  , name
		  , version
		  , published_at
		FROM workflows
		WHERE id = $1
	`

	var (
		workflow    models.Workflow
		publishedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&workflow.ID,
		&workflow.ChatbotID,
		&workflow.Name,
		&workflow.Version,
		&publishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if publishedAt.Valid {
		workflow.PublishedAt = &publishedAt.Time
	}

	if err := r.loadNodes(ctx, &workflow); err != nil {
		return nil, err
	}

	if err := r.loadEdges(ctx, &workflow); err != nil {
		return nil, err
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, name, config
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflow.Nodes = make([]*models.WorkflowNode, 0)

	for rows.Next() {
		var (
			node   models.WorkflowNode
			config []byte
		)

		if err := rows.Scan(&node.ID, &node.Type, &node.Name, &config); err != nil {
			return fmt.Errorf("failed to scan workflow node: %w", err)
		}

		if len(config) > 0 {
			if err := json.Unmarshal(config, &node.Config); err != nil {
				return fmt.Errorf("failed to unmarshal config of node %s: %w", node.ID, err)
			}
		}

		workflow.Nodes = append(workflow.Nodes, &node)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating workflow nodes: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) loadEdges(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_node_id, source_handle, target_node_id
		FROM workflow_edges
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow edges: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflow.Edges = make([]*models.Edge, 0)

	for rows.Next() {
		var edge models.Edge

		if err := rows.Scan(&edge.ID, &edge.Source, &edge.SourceHandle, &edge.Target); err != nil {
			return fmt.Errorf("failed to scan workflow edge: %w", err)
		}

		workflow.Edges = append(workflow.Edges, &edge)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating workflow edges: %w", err)
	}

	return nil
}

// Save replaces a workflow version with its nodes and edges.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	return withTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (id, chatbot_id, name, version, published_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				chatbot_id = EXCLUDED.chatbot_id,
				name = EXCLUDED.name,
				version = EXCLUDED.version,
				published_at = EXCLUDED.published_at
		`, workflow.ID, workflow.ChatbotID, workflow.Name, workflow.Version, workflow.PublishedAt)
		if err != nil {
			return fmt.Errorf("failed to save workflow base: %w", err)
		}

		// Delete existing nodes and edges (for updates)
		if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_edges WHERE workflow_id = $1", workflow.ID); err != nil {
			return fmt.Errorf("failed to delete existing edges: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID); err != nil {
			return fmt.Errorf("failed to delete existing nodes: %w", err)
		}

		for i, node := range workflow.Nodes {
			config, err := json.Marshal(node.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal config of node %s: %w", node.ID, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO workflow_nodes (workflow_id, id, position, node_type, name, config)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, workflow.ID, node.ID, i, node.Type, node.Name, config)
			if err != nil {
				return fmt.Errorf("failed to save node %s: %w", node.ID, err)
			}
		}

		for i, edge := range workflow.Edges {
			edgeID := edge.ID
			if edgeID == "" {
				edgeID = fmt.Sprintf("edge-%d", i)
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_edges (workflow_id, id, position, source_node_id, source_handle, target_node_id)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, workflow.ID, edgeID, i, edge.Source, edge.SourceHandle, edge.Target)
			if err != nil {
				return fmt.Errorf("failed to save edge %s: %w", edgeID, err)
			}
		}

		return nil
	})
}
