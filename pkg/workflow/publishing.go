package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/google/uuid"
)

// PublishingService validates workflow definitions and stores them as
// immutable published versions.
type PublishingService struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	now         func() time.Time
}

func NewPublishingService(persistence persistence.Persistence, registry *registry.Registry) *PublishingService {
	return &PublishingService{
		persistence: persistence,
		registry:    registry,
		now:         time.Now,
	}
}

// Publish validates wf and saves it as the next version of its id. Edges
// without an id get one. A workflow that fails validation is not stored.
func (s *PublishingService) Publish(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	if _, err := NewGraph(ctx, wf, s.registry); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}

	version := 1

	existing, err := s.persistence.WorkflowRepository().GetByID(ctx, wf.ID)

	switch {
	case err == nil:
		version = existing.Version + 1
	case !errors.Is(err, persistence.ErrWorkflowNotFound):
		return nil, fmt.Errorf("failed to load workflow %s: %w", wf.ID, err)
	}

	published := *wf
	published.Version = max(version, wf.Version)
	now := s.now().UTC()
	published.PublishedAt = &now

	published.Edges = make([]*models.Edge, len(wf.Edges))
	for i, edge := range wf.Edges {
		e := *edge
		if e.ID == "" {
			e.ID = uuid.NewString()
		}

		published.Edges[i] = &e
	}

	if err := s.persistence.WorkflowRepository().Save(ctx, &published); err != nil {
		return nil, fmt.Errorf("failed to save published workflow: %w", err)
	}

	return &published, nil
}
