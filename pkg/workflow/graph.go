// Package workflow validates published workflow graphs and walks them one
// conversation turn at a time.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/registry"
)

var ErrInvalidGraph = errors.New("invalid workflow graph")

// GraphError lists every problem found while validating a workflow.
type GraphError struct {
	WorkflowID string
	Problems   []string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("workflow %s: %d problem(s): %v", e.WorkflowID, len(e.Problems), e.Problems)
}

func (e *GraphError) Unwrap() error {
	return ErrInvalidGraph
}

// Graph is a validated, immutable workflow with its node instances built once.
type Graph struct {
	workflow *models.Workflow
	startID  string
	nodes    map[string]protocol.Node
	edges    map[string][]*models.Edge
}

// NewGraph builds every node through the registry and checks the structure of
// the workflow: exactly one start node, edges between existing nodes, every
// node reachable from start and exactly one edge per required branch port.
func NewGraph(ctx context.Context, wf *models.Workflow, reg *registry.Registry) (*Graph, error) {
	graph := &Graph{
		workflow: wf,
		nodes:    make(map[string]protocol.Node, len(wf.Nodes)),
		edges:    make(map[string][]*models.Edge),
	}

	var problems []string

	for _, def := range wf.Nodes {
		if def.ID == "" {
			problems = append(problems, "node with empty id")

			continue
		}

		if _, dup := graph.nodes[def.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %s", def.ID))

			continue
		}

		node, err := reg.CreateNode(ctx, def.Type, def.ID, def.Config)
		if err != nil {
			problems = append(problems, err.Error())

			continue
		}

		graph.nodes[def.ID] = node

		if def.Type == models.NodeTypeStart {
			if graph.startID != "" {
				problems = append(problems, fmt.Sprintf("more than one start node: %s and %s", graph.startID, def.ID))
			} else {
				graph.startID = def.ID
			}
		}
	}

	if graph.startID == "" && !slices.ContainsFunc(wf.Nodes, isStart) {
		problems = append(problems, "workflow has no start node")
	}

	for _, edge := range wf.Edges {
		if _, ok := graph.nodes[edge.Source]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: unknown source %s", edge.ID, edge.Source))

			continue
		}

		if _, ok := graph.nodes[edge.Target]; !ok {
			problems = append(problems, fmt.Sprintf("edge %s: unknown target %s", edge.ID, edge.Target))

			continue
		}

		graph.edges[edge.Source] = append(graph.edges[edge.Source], edge)
	}

	for id, node := range graph.nodes {
		problems = append(problems, graph.checkPorts(id, node)...)
	}

	if graph.startID != "" {
		reachable := graph.reachable()
		for id := range graph.nodes {
			if !reachable[id] {
				problems = append(problems, fmt.Sprintf("node %s is not reachable from start", id))
			}
		}
	}

	if len(problems) > 0 {
		slices.Sort(problems)

		return nil, &GraphError{WorkflowID: wf.ID, Problems: problems}
	}

	return graph, nil
}

func isStart(def *models.WorkflowNode) bool {
	return def.Type == models.NodeTypeStart
}

func (g *Graph) checkPorts(id string, node protocol.Node) []string {
	var problems []string

	byHandle := make(map[string]int)
	for _, edge := range g.edges[id] {
		byHandle[edge.SourceHandle]++
	}

	brancher, ok := node.(protocol.Brancher)
	if !ok {
		if byHandle[""] > 1 {
			problems = append(problems, fmt.Sprintf("node %s has %d outgoing edges, expected at most one", id, byHandle[""]))
		}

		for handle := range byHandle {
			if handle != "" {
				problems = append(problems, fmt.Sprintf("node %s has no output port %q", id, handle))
			}
		}

		return problems
	}

	declared := make(map[string]bool)
	for _, port := range brancher.OutputPorts() {
		declared[port.Name] = true

		count := byHandle[port.Name]

		switch {
		case port.Required && count != 1:
			problems = append(problems, fmt.Sprintf("node %s: port %q needs exactly one edge, has %d", id, port.Name, count))
		case !port.Required && count > 1:
			problems = append(problems, fmt.Sprintf("node %s: port %q has %d edges, expected at most one", id, port.Name, count))
		}
	}

	for handle, count := range byHandle {
		if handle == "" {
			if count > 1 {
				problems = append(problems, fmt.Sprintf("node %s has %d unlabeled edges, expected at most one", id, count))
			}

			continue
		}

		if !declared[handle] {
			problems = append(problems, fmt.Sprintf("node %s has no output port %q", id, handle))
		}
	}

	return problems
}

func (g *Graph) reachable() map[string]bool {
	seen := map[string]bool{g.startID: true}
	queue := []string{g.startID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, edge := range g.edges[id] {
			if !seen[edge.Target] {
				seen[edge.Target] = true
				queue = append(queue, edge.Target)
			}
		}
	}

	return seen
}

// Workflow returns the definition the graph was built from.
func (g *Graph) Workflow() *models.Workflow {
	return g.workflow
}

// StartID is the id of the single start node.
func (g *Graph) StartID() string {
	return g.startID
}

// Node returns the node instance with the given id.
func (g *Graph) Node(id string) (protocol.Node, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

// HasEdges reports whether any edge leaves nodeID.
func (g *Graph) HasEdges(nodeID string) bool {
	return len(g.edges[nodeID]) > 0
}

// Next resolves the edge leaving nodeID through port. An empty port follows
// the unlabeled edge. A labeled port without its own edge falls back to the
// "default" edge when one exists.
func (g *Graph) Next(nodeID, port string) (string, bool) {
	var fallback string

	for _, edge := range g.edges[nodeID] {
		if edge.SourceHandle == port {
			return edge.Target, true
		}

		if port != "" && edge.SourceHandle == defaultPort {
			fallback = edge.Target
		}
	}

	if fallback != "" {
		return fallback, true
	}

	return "", false
}

const defaultPort = "default"
