// Package registry holds the node factories of the closed node set and
// validates node configuration against each factory's JSON schema.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnknownNodeType = errors.New("node type not registered")
	ErrInvalidConfig   = errors.New("invalid node configuration")
)

// ConfigError reports the schema violations of one node configuration.
type ConfigError struct {
	NodeID   string
	NodeType models.NodeType
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("node %s (%s): %s", e.NodeID, e.NodeType, strings.Join(e.Problems, "; "))
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

type Registry struct {
	logger    *slog.Logger
	factories map[models.NodeType]protocol.NodeFactory
	schemas   map[models.NodeType]*gojsonschema.Schema
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:    log.With("module", "registry"),
		factories: make(map[models.NodeType]protocol.NodeFactory),
		schemas:   make(map[models.NodeType]*gojsonschema.Schema),
	}
}

// RegisterNode adds a factory. Its schema is compiled once here.
func (r *Registry) RegisterNode(factory protocol.NodeFactory) {
	r.factories[factory.ID()] = factory

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		r.logger.Error("Invalid node schema, configuration will not be validated",
			"node_type", factory.ID(), "error", err)
		delete(r.schemas, factory.ID())

		return
	}

	r.schemas[factory.ID()] = schema
}

// ValidateConfig checks config against the schema of nodeType.
func (r *Registry) ValidateConfig(nodeType models.NodeType, nodeID string, config map[string]any) error {
	if _, ok := r.factories[nodeType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	schema, ok := r.schemas[nodeType]
	if !ok {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("validate node %s: %w", nodeID, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return &ConfigError{NodeID: nodeID, NodeType: nodeType, Problems: problems}
	}

	return nil
}

// CreateNode validates config and builds a node instance.
func (r *Registry) CreateNode(ctx context.Context, nodeType models.NodeType, nodeID string, config map[string]any) (protocol.Node, error) {
	factory, ok := r.factories[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}

	if err := r.ValidateConfig(nodeType, nodeID, config); err != nil {
		return nil, err
	}

	if config == nil {
		config = map[string]any{}
	}

	node, err := factory.Create(ctx, nodeID, config)
	if err != nil {
		return nil, &ConfigError{NodeID: nodeID, NodeType: nodeType, Problems: []string{err.Error()}}
	}

	return node, nil
}

// GetFactory returns the factory for a node type.
func (r *Registry) GetFactory(nodeType models.NodeType) (protocol.NodeFactory, bool) {
	factory, ok := r.factories[nodeType]

	return factory, ok
}

// NodeTypes lists registered node types in name order.
func (r *Registry) NodeTypes() []models.NodeType {
	types := make([]models.NodeType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return types
}

// HealthCheck reports whether any node factory is registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.factories) == 0 {
		return "No node types registered", false
	}

	return fmt.Sprintf("%d node types registered", len(r.factories)), true
}
