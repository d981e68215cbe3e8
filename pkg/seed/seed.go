// Package seed loads chatbots, workflows and agents from a YAML file, for
// memory deployments and local development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/persistence"
	"github.com/dukex/chatflow/pkg/workflow"
	"gopkg.in/yaml.v3"
)

const defaultMaxConversations = 5

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// File is the seed document.
type File struct {
	Workflows []*models.Workflow          `yaml:"workflows"`
	Chatbots  []*models.Chatbot           `yaml:"chatbots"`
	Agents    []*models.AgentAvailability `yaml:"agents"`
}

// Load reads and validates a seed file. ${VAR} references are replaced by
// environment values before parsing.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates seed content.
func Parse(data []byte) (*File, error) {
	expanded := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	var file File
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	if err := file.Validate(); err != nil {
		return nil, fmt.Errorf("validating seed file: %w", err)
	}

	return &file, nil
}

// Validate checks identifiers and references between sections.
func (f *File) Validate() error {
	var errs []error

	workflows := make(map[string]bool, len(f.Workflows))
	for i, wf := range f.Workflows {
		if wf.ID == "" {
			errs = append(errs, fmt.Errorf("workflows[%d]: id is required", i))

			continue
		}

		workflows[wf.ID] = true
	}

	for i, bot := range f.Chatbots {
		if bot.ID == "" || bot.OrganizationID == "" {
			errs = append(errs, fmt.Errorf("chatbots[%d]: id and organization_id are required", i))
		}

		switch bot.Mode {
		case models.ChatbotModeWorkflow:
			if !workflows[bot.WorkflowID] {
				errs = append(errs, fmt.Errorf("chatbots[%d]: unknown workflow '%s'", i, bot.WorkflowID))
			}
		case models.ChatbotModeAI:
		default:
			errs = append(errs, fmt.Errorf("chatbots[%d]: unknown mode '%s'", i, bot.Mode))
		}
	}

	for i, agent := range f.Agents {
		if agent.AgentID == "" || agent.OrganizationID == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: agent_id and organization_id are required", i))
		}

		if agent.Status != "" && !agent.Status.Valid() {
			errs = append(errs, fmt.Errorf("agents[%d]: invalid status '%s'", i, agent.Status))
		}

		if agent.MaxConversations < 0 {
			errs = append(errs, fmt.Errorf("agents[%d]: max_conversations must not be negative", i))
		}
	}

	return errors.Join(errs...)
}

// Apply publishes the workflows, then stores the chatbots and agents.
func (f *File) Apply(ctx context.Context, logger *slog.Logger, store persistence.Persistence, publishing *workflow.PublishingService) error {
	for _, wf := range f.Workflows {
		published, err := publishing.Publish(ctx, wf)
		if err != nil {
			return fmt.Errorf("seeding workflow %s: %w", wf.ID, err)
		}

		logger.InfoContext(ctx, "Seeded workflow", "workflow_id", published.ID, "version", published.Version)
	}

	for _, bot := range f.Chatbots {
		if err := store.ChatbotRepository().Save(ctx, bot); err != nil {
			return fmt.Errorf("seeding chatbot %s: %w", bot.ID, err)
		}

		logger.InfoContext(ctx, "Seeded chatbot", "chatbot_id", bot.ID, "organization_id", bot.OrganizationID, "mode", bot.Mode)
	}

	for _, agent := range f.Agents {
		if agent.Status == "" {
			agent.Status = models.AgentStatusOffline
		}

		if agent.MaxConversations == 0 {
			agent.MaxConversations = defaultMaxConversations
		}

		if agent.Skills == nil {
			agent.Skills = []string{}
		}

		agent.CurrentConversations = 0

		if _, err := store.AgentRepository().Save(ctx, agent); err != nil {
			return fmt.Errorf("seeding agent %s: %w", agent.AgentID, err)
		}

		logger.InfoContext(ctx, "Seeded agent", "agent_id", agent.AgentID, "organization_id", agent.OrganizationID, "status", agent.Status)
	}

	return nil
}
