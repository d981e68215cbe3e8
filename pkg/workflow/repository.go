package workflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/registry"
	"golang.org/x/sync/singleflight"
)

// Repository loads published workflows and keeps their validated graphs.
// A graph is rebuilt only when the stored version changes; concurrent
// rebuilds of the same version share one compilation.
type Repository struct {
	persistence persistence.Persistence
	registry    *registry.Registry

	mu       sync.RWMutex
	graphs   map[string]*Graph
	compiles singleflight.Group
}

func NewRepository(persistence persistence.Persistence, registry *registry.Registry) *Repository {
	return &Repository{
		persistence: persistence,
		registry:    registry,
		graphs:      make(map[string]*Graph),
	}
}

// Graph returns the validated graph of a workflow.
func (r *Repository) Graph(ctx context.Context, workflowID string) (*Graph, error) {
	wf, err := r.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	r.mu.RLock()
	cached, ok := r.graphs[workflowID]
	r.mu.RUnlock()

	if ok && cached.Workflow().Version == wf.Version {
		return cached, nil
	}

	key := workflowID + "@" + strconv.Itoa(wf.Version)

	compiled, err, _ := r.compiles.Do(key, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.graphs[workflowID]
		r.mu.RUnlock()

		if ok && cached.Workflow().Version == wf.Version {
			return cached, nil
		}

		graph, err := NewGraph(ctx, wf, r.registry)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.graphs[workflowID] = graph
		r.mu.Unlock()

		return graph, nil
	})
	if err != nil {
		return nil, err
	}

	return compiled.(*Graph), nil //nolint:forcetypeassert // only *Graph is stored
}

// HealthCheck reports whether the backing store is reachable.
func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}
