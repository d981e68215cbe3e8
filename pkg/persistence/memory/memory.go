// Package memory provides an in-process persistence implementation. All
// repositories share one lock so reservations and status changes are atomic.
package memory

import (
	"context"
	"sync"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

type store struct {
	mu sync.Mutex

	chatbots      map[string]*models.Chatbot
	workflows     map[string]*models.Workflow
	conversations map[string]*models.Conversation
	sessions      map[string]string
	messages      map[string][]*models.Message
	agents        map[agentKey]*models.AgentAvailability
	seq           int64
}

type agentKey struct {
	organizationID string
	agentID        string
}

// Persistence implements persistence.Persistence in memory.
type Persistence struct {
	store *store

	chatbotRepo      *ChatbotRepository
	workflowRepo     *WorkflowRepository
	conversationRepo *ConversationRepository
	messageRepo      *MessageRepository
	agentRepo        *AgentRepository
}

// NewPersistence creates an empty in-memory store.
func NewPersistence() *Persistence {
	s := &store{
		chatbots:      make(map[string]*models.Chatbot),
		workflows:     make(map[string]*models.Workflow),
		conversations: make(map[string]*models.Conversation),
		sessions:      make(map[string]string),
		messages:      make(map[string][]*models.Message),
		agents:        make(map[agentKey]*models.AgentAvailability),
	}

	return &Persistence{
		store:            s,
		chatbotRepo:      &ChatbotRepository{store: s},
		workflowRepo:     &WorkflowRepository{store: s},
		conversationRepo: &ConversationRepository{store: s},
		messageRepo:      &MessageRepository{store: s},
		agentRepo:        &AgentRepository{store: s},
	}
}

func (p *Persistence) ChatbotRepository() persistence.ChatbotRepository {
	return p.chatbotRepo
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) ConversationRepository() persistence.ConversationRepository {
	return p.conversationRepo
}

func (p *Persistence) MessageRepository() persistence.MessageRepository {
	return p.messageRepo
}

func (p *Persistence) AgentRepository() persistence.AgentRepository {
	return p.agentRepo
}

// HealthCheck always succeeds.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close has nothing to release.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
