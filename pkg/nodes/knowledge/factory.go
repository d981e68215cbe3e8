package knowledge

import (
	"context"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
)

// LookupNodeFactory creates LookupNode instances.
type LookupNodeFactory struct {
	searcher protocol.KnowledgeSearcher
}

func NewLookupNodeFactory(searcher protocol.KnowledgeSearcher) protocol.NodeFactory {
	return &LookupNodeFactory{searcher: searcher}
}

func (f *LookupNodeFactory) Create(_ context.Context, id string, config map[string]any) (protocol.Node, error) {
	return NewLookupNode(id, config, f.searcher)
}

func (f *LookupNodeFactory) ID() models.NodeType { return models.NodeTypeKnowledgeLookup }
func (f *LookupNodeFactory) Name() string        { return "Knowledge Lookup" }

func (f *LookupNodeFactory) Description() string {
	return "Searches a knowledge base and stores the results in a variable."
}

func (f *LookupNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"knowledgeBaseId": map[string]any{"type": "string"},
			"query":           map[string]any{"type": "string", "description": "Defaults to the customer message"},
			"variable":        map[string]any{"type": "string", "minLength": 1},
			"limit":           map[string]any{"type": "integer", "minimum": 1, "maximum": 50, "default": defaultLimit},
		},
		"required": []string{"variable"},
	}
}
