package memory

import (
	"context"
	"errors"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
)

type ChatbotRepository struct {
	store *store
}

func (r *ChatbotRepository) GetByID(_ context.Context, id string) (*models.Chatbot, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	chatbot, ok := r.store.chatbots[id]
	if !ok {
		return nil, persistence.ErrChatbotNotFound
	}

	out := *chatbot

	return &out, nil
}

func (r *ChatbotRepository) Save(_ context.Context, chatbot *models.Chatbot) error {
	if chatbot.ID == "" {
		return errors.New("chatbot id is required")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := *chatbot
	r.store.chatbots[chatbot.ID] = &out

	return nil
}

type WorkflowRepository struct {
	store *store
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	wf, ok := r.store.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return cloneWorkflow(wf), nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	if workflow.ID == "" {
		return errors.New("workflow id is required")
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

func cloneWorkflow(wf *models.Workflow) *models.Workflow {
	out := *wf
	out.Nodes = make([]*models.WorkflowNode, 0, len(wf.Nodes))

	for _, node := range wf.Nodes {
		n := *node
		out.Nodes = append(out.Nodes, &n)
	}

	out.Edges = make([]*models.Edge, 0, len(wf.Edges))
	for _, edge := range wf.Edges {
		e := *edge
		out.Edges = append(out.Edges, &e)
	}

	return &out
}
