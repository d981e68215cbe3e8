package models

// NodeType is the closed set of node kinds a workflow may contain.
type NodeType string

const (
	NodeTypeStart            NodeType = "start"
	NodeTypeSendMessage      NodeType = "send_message"
	NodeTypeEnd              NodeType = "end"
	NodeTypeHumanHandoff     NodeType = "human_handoff"
	NodeTypeCaptureInput     NodeType = "capture_input"
	NodeTypeButtons          NodeType = "buttons"
	NodeTypeCondition        NodeType = "condition"
	NodeTypeSwitch           NodeType = "switch"
	NodeTypeSetVariable      NodeType = "set_variable"
	NodeTypeAPICall          NodeType = "api_call"
	NodeTypeAIResponse       NodeType = "ai_response"
	NodeTypeIntentClassifier NodeType = "intent_classifier"
	NodeTypeKnowledgeLookup  NodeType = "knowledge_lookup"
)

// Reserved variable names written by nodes and read by the chat service.
const (
	VariableConversationStatus = "_conversationStatus"
	VariableHandoffPriority    = "_handoffPriority"
	VariableHandoffTags        = "_handoffTags"
	VariableHandoffStrategy    = "_handoffStrategy"
	VariableLastUserMessage    = "last_message"
)

// WorkflowNode is a node instance in a workflow graph.
type WorkflowNode struct {
	ID     string         `json:"id"     yaml:"id"     validate:"required"`
	Type   NodeType       `json:"type"   yaml:"type"   validate:"required"`
	Name   string         `json:"name"   yaml:"name"`
	Config map[string]any `json:"config" yaml:"config"`
}

// Edge connects a source node (optionally through a named output handle) to a target node.
type Edge struct {
	ID           string `json:"id"                      yaml:"id"`
	Source       string `json:"source"                  yaml:"source"        validate:"required"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle"`
	Target       string `json:"target"                  yaml:"target"        validate:"required"`
}
