package registry

import (
	"github.com/dukex/chatflow/pkg/nodes/ai"
	"github.com/dukex/chatflow/pkg/nodes/conditional"
	"github.com/dukex/chatflow/pkg/nodes/flow"
	"github.com/dukex/chatflow/pkg/nodes/httprequest"
	"github.com/dukex/chatflow/pkg/nodes/input"
	"github.com/dukex/chatflow/pkg/nodes/knowledge"
	"github.com/dukex/chatflow/pkg/nodes/setvariable"
	switchnode "github.com/dukex/chatflow/pkg/nodes/switch"
	"github.com/dukex/chatflow/pkg/protocol"
)

// RegisterDefaultNodes registers every built-in node factory with the registry.
func (r *Registry) RegisterDefaultNodes(deps protocol.Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = r.logger
	}

	responder := ai.NewResponder(logger, deps.Completion, deps.Knowledge)

	// Flow control
	r.RegisterNode(flow.NewStartNodeFactory())
	r.RegisterNode(flow.NewSendMessageNodeFactory())
	r.RegisterNode(flow.NewEndNodeFactory())
	r.RegisterNode(flow.NewHumanHandoffNodeFactory())

	// Pausing input
	r.RegisterNode(input.NewCaptureInputNodeFactory())
	r.RegisterNode(input.NewButtonsNodeFactory())

	// Branching and variables
	r.RegisterNode(conditional.NewConditionalNodeFactory())
	r.RegisterNode(switchnode.NewSwitchNodeFactory())
	r.RegisterNode(setvariable.NewSetVariableNodeFactory())

	// External collaborators
	r.RegisterNode(httprequest.NewHTTPRequestNodeFactory(deps.HTTPClient))
	r.RegisterNode(ai.NewResponseNodeFactory(responder))
	r.RegisterNode(ai.NewIntentClassifierNodeFactory(responder))
	r.RegisterNode(knowledge.NewLookupNodeFactory(deps.Knowledge))
}
