package workflow

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/protocol"
	"github.com/dukex/chatflow/pkg/registry"
	"github.com/dukex/chatflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func createTestRegistry(deps protocol.Dependencies) *registry.Registry {
	reg := registry.NewRegistry(testLogger())
	reg.RegisterDefaultNodes(deps)

	return reg
}

func graphProblems(t *testing.T, wf *models.Workflow) []string {
	t.Helper()

	_, err := NewGraph(context.Background(), wf, createTestRegistry(protocol.Dependencies{}))
	require.ErrorIs(t, err, ErrInvalidGraph)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)

	return graphErr.Problems
}

func assertProblem(t *testing.T, problems []string, fragment string) {
	t.Helper()

	for _, p := range problems {
		if strings.Contains(p, fragment) {
			return
		}
	}

	t.Fatalf("expected a problem containing %q, got %v", fragment, problems)
}

func TestNewGraph_Valid(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("ask", models.NodeTypeCaptureInput, map[string]any{"message": "Email?", "variable": "email", "inputType": "email"}).
		Node("check", models.NodeTypeCondition, map[string]any{"variable": "email", "operator": "ends_with", "value": "@acme.com"}).
		Node("staff", models.NodeTypeSendMessage, map[string]any{"message": "Hi colleague"}).
		Node("guest", models.NodeTypeSendMessage, map[string]any{"message": "Hi guest"}).
		Edge("start", "ask").
		Edge("ask", "check").
		Branch("check", "true", "staff").
		Branch("check", "false", "guest").
		Build()

	graph, err := NewGraph(context.Background(), wf, createTestRegistry(protocol.Dependencies{}))
	require.NoError(t, err)

	assert.Equal(t, "start", graph.StartID())

	next, ok := graph.Next("start", "")
	assert.True(t, ok)
	assert.Equal(t, "ask", next)

	next, ok = graph.Next("check", "false")
	assert.True(t, ok)
	assert.Equal(t, "guest", next)

	_, ok = graph.Next("staff", "")
	assert.False(t, ok)
	assert.False(t, graph.HasEdges("staff"))
}

func TestNewGraph_RequiresExactlyOneStart(t *testing.T) {
	noStart := &models.Workflow{
		ID:    "wf",
		Nodes: []*models.WorkflowNode{{ID: "hello", Type: models.NodeTypeSendMessage, Config: map[string]any{"message": "hi"}}},
	}
	assertProblem(t, graphProblems(t, noStart), "no start node")

	twoStarts := testutil.NewWorkflow("wf").Node("start-2", models.NodeTypeStart, map[string]any{}).Build()
	assertProblem(t, graphProblems(t, twoStarts), "more than one start node")
}

func TestNewGraph_RejectsDanglingEdges(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("hello", models.NodeTypeSendMessage, map[string]any{"message": "hi"}).
		Edge("start", "hello").
		Edge("hello", "ghost").
		Build()

	assertProblem(t, graphProblems(t, wf), "unknown target ghost")
}

func TestNewGraph_RejectsUnreachableNodes(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("hello", models.NodeTypeSendMessage, map[string]any{"message": "hi"}).
		Node("island", models.NodeTypeSendMessage, map[string]any{"message": "lonely"}).
		Edge("start", "hello").
		Build()

	assertProblem(t, graphProblems(t, wf), "node island is not reachable")
}

func TestNewGraph_RequiresOneEdgePerBranch(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("check", models.NodeTypeCondition, map[string]any{"variable": "x", "operator": "is_empty"}).
		Node("yes", models.NodeTypeSendMessage, map[string]any{"message": "yes"}).
		Edge("start", "check").
		Branch("check", "true", "yes").
		Build()

	assertProblem(t, graphProblems(t, wf), `port "false" needs exactly one edge, has 0`)
}

func TestNewGraph_ButtonsNeedAnEdgePerOption(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("menu", models.NodeTypeButtons, map[string]any{
			"message": "Pick one",
			"options": []any{
				map[string]any{"id": "sales", "label": "Sales"},
				map[string]any{"id": "support", "label": "Support"},
			},
		}).
		Node("sales", models.NodeTypeSendMessage, map[string]any{"message": "Sales!"}).
		Edge("start", "menu").
		Branch("menu", "sales", "sales").
		Build()

	assertProblem(t, graphProblems(t, wf), `port "support" needs exactly one edge`)
}

func TestNewGraph_RejectsUnknownHandles(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("hello", models.NodeTypeSendMessage, map[string]any{"message": "hi"}).
		Branch("start", "maybe", "hello").
		Build()

	assertProblem(t, graphProblems(t, wf), `no output port "maybe"`)
}

func TestNewGraph_ReportsInvalidNodeConfig(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("ask", models.NodeTypeCaptureInput, map[string]any{"message": "?"}).
		Edge("start", "ask").
		Build()

	assertProblem(t, graphProblems(t, wf), "ask")
}

func TestGraph_NextFallsBackToDefaultEdge(t *testing.T) {
	wf := testutil.NewWorkflow("wf").
		Node("route", models.NodeTypeSwitch, map[string]any{
			"variable": "plan",
			"cases":    []any{map[string]any{"value": "pro", "output_port": "pro"}},
		}).
		Node("pro", models.NodeTypeSendMessage, map[string]any{"message": "pro"}).
		Node("other", models.NodeTypeSendMessage, map[string]any{"message": "other"}).
		Edge("start", "route").
		Branch("route", "pro", "pro").
		Branch("route", "default", "other").
		Build()

	graph, err := NewGraph(context.Background(), wf, createTestRegistry(protocol.Dependencies{}))
	require.NoError(t, err)

	next, ok := graph.Next("route", "unknown-port")
	assert.True(t, ok)
	assert.Equal(t, "other", next)
}
