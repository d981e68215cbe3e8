package models

import "time"

// Workflow is one published version of a chatbot's decision graph.
// Versions are immutable once published.
type Workflow struct {
	ID          string          `json:"id"                     yaml:"id"`
	ChatbotID   string          `json:"chatbot_id"             yaml:"chatbot_id"`
	Name        string          `json:"name"                   yaml:"name"`
	Version     int             `json:"version"                yaml:"version"`
	Nodes       []*WorkflowNode `json:"nodes"                  yaml:"nodes"`
	Edges       []*Edge         `json:"edges"                  yaml:"edges"`
	PublishedAt *time.Time      `json:"published_at,omitempty" yaml:"-"`
}
