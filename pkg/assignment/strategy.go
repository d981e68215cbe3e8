// Package assignment picks human agents for queued conversations and books
// their capacity atomically.
package assignment

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dukex/chatflow/pkg/models"
)

const (
	RoundRobinStrategy = "round_robin"
	LoadBasedStrategy  = "load_based"
	SkillBasedStrategy = "skill_based"
	// ManualStrategy marks conversations queued for an explicit assignment;
	// the engine does not pick an agent for them on conversation.waiting.
	ManualStrategy = "manual"
)

// Strategy selects one agent from pool for conv. Implementations only consider
// eligible agents: available and with spare capacity.
type Strategy interface {
	Name() string
	Select(conv *models.Conversation, pool []*models.AgentAvailability, now time.Time) (*models.AgentAvailability, bool)
}

// ParseStrategy returns the strategy registered under name.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RoundRobinStrategy:
		return RoundRobin{}, nil
	case LoadBasedStrategy:
		return LoadBased{}, nil
	case SkillBasedStrategy:
		return SkillBased{}, nil
	default:
		return nil, fmt.Errorf("unknown assignment strategy %q", name)
	}
}

func eligible(pool []*models.AgentAvailability) []*models.AgentAvailability {
	out := make([]*models.AgentAvailability, 0, len(pool))

	for _, agent := range pool {
		if agent.Eligible() {
			out = append(out, agent)
		}
	}

	return out
}

// RoundRobin picks the least recently assigned agent. Agents never assigned
// come first; ties are broken by agent id.
type RoundRobin struct{}

func (RoundRobin) Name() string { return RoundRobinStrategy }

func (RoundRobin) Select(_ *models.Conversation, pool []*models.AgentAvailability, _ time.Time) (*models.AgentAvailability, bool) {
	candidates := eligible(pool)
	if len(candidates) == 0 {
		return nil, false
	}

	return slices.MinFunc(candidates, func(a, b *models.AgentAvailability) int {
		switch {
		case a.LastAssignedAt == nil && b.LastAssignedAt != nil:
			return -1
		case a.LastAssignedAt != nil && b.LastAssignedAt == nil:
			return 1
		case a.LastAssignedAt != nil && !a.LastAssignedAt.Equal(*b.LastAssignedAt):
			return a.LastAssignedAt.Compare(*b.LastAssignedAt)
		}

		return strings.Compare(a.AgentID, b.AgentID)
	}), true
}

// LoadBased picks the agent with the most free slots, then the fewest open
// conversations, then the lowest agent id.
type LoadBased struct{}

func (LoadBased) Name() string { return LoadBasedStrategy }

func (LoadBased) Select(_ *models.Conversation, pool []*models.AgentAvailability, _ time.Time) (*models.AgentAvailability, bool) {
	return leastLoaded(eligible(pool))
}

func leastLoaded(candidates []*models.AgentAvailability) (*models.AgentAvailability, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	return slices.MinFunc(candidates, func(a, b *models.AgentAvailability) int {
		if a.RemainingCapacity() != b.RemainingCapacity() {
			return b.RemainingCapacity() - a.RemainingCapacity()
		}

		if a.CurrentConversations != b.CurrentConversations {
			return a.CurrentConversations - b.CurrentConversations
		}

		return strings.Compare(a.AgentID, b.AgentID)
	}), true
}

// SkillBased restricts the pool to agents sharing a skill with the
// conversation tags and picks the least loaded of them. Without a match it
// picks the least loaded eligible agent.
type SkillBased struct{}

func (SkillBased) Name() string { return SkillBasedStrategy }

func (SkillBased) Select(conv *models.Conversation, pool []*models.AgentAvailability, _ time.Time) (*models.AgentAvailability, bool) {
	candidates := eligible(pool)

	var skilled []*models.AgentAvailability

	for _, agent := range candidates {
		if agent.SharesSkill(conv.Tags) {
			skilled = append(skilled, agent)
		}
	}

	if len(skilled) > 0 {
		return leastLoaded(skilled)
	}

	return leastLoaded(candidates)
}
