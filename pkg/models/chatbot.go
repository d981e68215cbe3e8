package models

// ChatbotMode selects how incoming messages are answered.
type ChatbotMode string

const (
	ChatbotModeWorkflow ChatbotMode = "workflow" // Walk the published workflow graph
	ChatbotModeAI       ChatbotMode = "ai"       // Direct exchange with the completion provider
)

// DefaultFallbackMessage is used when a chatbot has no fallback configured.
const DefaultFallbackMessage = "Sorry, something went wrong. Please try again in a moment."

// Chatbot holds the settings the core needs to answer a conversation.
// Everything else about a chatbot belongs to the settings collaborator.
type Chatbot struct {
	ID              string            `json:"id"                          yaml:"id"`
	OrganizationID  string            `json:"organization_id"             yaml:"organization_id"`
	Name            string            `json:"name"                        yaml:"name"`
	Mode            ChatbotMode       `json:"mode"                        yaml:"mode"`
	WorkflowID      string            `json:"workflow_id,omitempty"       yaml:"workflow_id"`
	Greeting        string            `json:"greeting,omitempty"          yaml:"greeting"`
	FallbackMessage string            `json:"fallback_message,omitempty"  yaml:"fallback_message"`
	SystemPrompt    string            `json:"system_prompt,omitempty"     yaml:"system_prompt"`
	Model           string            `json:"model,omitempty"             yaml:"model"`
	Temperature     float64           `json:"temperature"                 yaml:"temperature"`
	MaxTokens       int               `json:"max_tokens"                  yaml:"max_tokens"`
	KnowledgeBaseID string            `json:"knowledge_base_id,omitempty" yaml:"knowledge_base_id"`
	Appearance      map[string]string `json:"appearance,omitempty"        yaml:"appearance"`
}

// Fallback returns the configured fallback message or the default one.
func (c *Chatbot) Fallback() string {
	if c.FallbackMessage != "" {
		return c.FallbackMessage
	}

	return DefaultFallbackMessage
}

// DisplayInfo is the subset of chatbot data the embedded widget renders.
type DisplayInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Appearance map[string]string `json:"appearance,omitempty"`
}

// Display returns the widget-facing view of the chatbot.
func (c *Chatbot) Display() DisplayInfo {
	return DisplayInfo{ID: c.ID, Name: c.Name, Appearance: c.Appearance}
}
