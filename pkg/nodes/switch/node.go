// Package switchnode provides the multi-way switch node for workflow graphs.
package switchnode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/template"
)

const OutputPortDefault = "default"

// SwitchCase maps one value to an output port.
type SwitchCase struct {
	Value      string `json:"value"`
	OutputPort string `json:"output_port"`
}

// Config configures a switch node.
type Config struct {
	Variable      string       `json:"variable"`
	Cases         []SwitchCase `json:"cases"`
	CaseSensitive bool         `json:"caseSensitive,omitempty"`
}

// SwitchNode routes execution to the port of the case matching a variable.
// Unmatched values take the default port.
type SwitchNode struct {
	id     string
	config Config
}

func NewSwitchNode(id string, config map[string]any) (*SwitchNode, error) {
	var cfg Config
	if err := protocol.DecodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if cfg.Variable == "" {
		return nil, errors.New("missing required field 'variable'")
	}

	for i, c := range cfg.Cases {
		if c.OutputPort == "" {
			return nil, fmt.Errorf("case %d missing 'output_port'", i)
		}

		if c.OutputPort == OutputPortDefault {
			return nil, fmt.Errorf("case %d uses the reserved port '%s'", i, OutputPortDefault)
		}
	}

	return &SwitchNode{id: id, config: cfg}, nil
}

func (n *SwitchNode) ID() string            { return n.id }
func (n *SwitchNode) Type() models.NodeType { return models.NodeTypeSwitch }

func (n *SwitchNode) OutputPorts() []protocol.OutputPort {
	seen := map[string]bool{}
	ports := make([]protocol.OutputPort, 0, len(n.config.Cases)+1)

	for _, c := range n.config.Cases {
		if seen[c.OutputPort] {
			continue
		}

		seen[c.OutputPort] = true
		ports = append(ports, protocol.OutputPort{
			Name:        c.OutputPort,
			Description: fmt.Sprintf("Followed when %s is %q", n.config.Variable, c.Value),
			Required:    true,
		})
	}

	return append(ports, protocol.OutputPort{Name: OutputPortDefault, Description: "Followed when no case matches"})
}

func (n *SwitchNode) Execute(_ context.Context, exec *protocol.ExecutionContext) (protocol.Outcome, error) {
	raw, _ := template.Lookup(exec.Variables(), n.config.Variable)
	value := strings.TrimSpace(models.Stringify(raw))

	for _, c := range n.config.Cases {
		caseValue := exec.Render(c.Value)

		if value == caseValue || (!n.config.CaseSensitive && strings.EqualFold(value, caseValue)) {
			return protocol.Outcome{Port: c.OutputPort}, nil
		}
	}

	return protocol.Outcome{Port: OutputPortDefault}, nil
}
