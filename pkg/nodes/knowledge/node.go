// Package knowledge provides the knowledge_lookup node.
package knowledge

import (
	"context"
	"errors"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/template"
)

const defaultLimit = 5

// Config configures a knowledge_lookup node. Query defaults to the current
// user message; KnowledgeBaseID defaults to the chatbot's.
type Config struct {
	KnowledgeBaseID string `json:"knowledgeBaseId,omitempty"`
	Query           string `json:"query,omitempty"`
	Variable        string `json:"variable"`
	Limit           int    `json:"limit,omitempty"`
}

// LookupNode searches a knowledge base and stores the hits in a variable.
type LookupNode struct {
	id       string
	config   Config
	searcher protocol.KnowledgeSearcher
}

func NewLookupNode(id string, config map[string]any, searcher protocol.KnowledgeSearcher) (*LookupNode, error) {
	cfg := Config{Limit: defaultLimit}
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Variable == "" {
		return nil, errors.New("missing required field 'variable'")
	}

	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}

	return &LookupNode{id: id, config: cfg, searcher: searcher}, nil
}

func (n *LookupNode) ID() string            { return n.id }
func (n *LookupNode) Type() models.NodeType { return models.NodeTypeKnowledgeLookup }

func (n *LookupNode) Execute(ctx context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	if n.searcher == nil {
		return protocol.Outcome{}, protocol.ErrKnowledgeUnavailable
	}

	kbID := n.config.KnowledgeBaseID
	if kbID == "" && exec.Chatbot != nil {
		kbID = exec.Chatbot.KnowledgeBaseID
	}

	if kbID == "" {
		return protocol.Outcome{}, errors.New("no knowledge base configured")
	}

	query := exec.Input
	if n.config.Query != "" {
		query = template.Interpolate(n.config.Query, exec.Variables())
	}

	ctx, cancel := context.WithTimeout(ctx, protocol.CompletionTimeout)
	defer cancel()

	results, err := n.searcher.Search(ctx, kbID, query, n.config.Limit)
	if err != nil {
		return protocol.Outcome{}, err
	}

	hits := make([]any, 0, len(results))
	for _, res := range results {
		hits = append(hits, map[string]any{
			"id":      res.ID,
			"content": res.Content,
			"source":  res.Source,
			"score":   res.Score,
		})
	}

	exec.Variables().Set(n.config.Variable, hits)

	return protocol.Outcome{}, nil
}
