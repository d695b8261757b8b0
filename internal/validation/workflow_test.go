package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/internal/expressions"
	"github.com/tandemlab/tandem/pkg/schema"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(nil, nil)
	require.NoError(t, err)
	return v
}

func codesOf(issues []schema.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Code)
	}
	return out
}

func linearGraph() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-linear",
		Name: "Linear",
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStarter},
			{ID: "ask", Type: schema.NodeTypeAgent, Data: schema.NodeData{"prompt": "hello"}},
			{ID: "done", Type: schema.NodeTypeResponse},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "done"},
		},
	}
}

// --- Workflow pass ---

func TestValidateWorkflowCleanGraph(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateWorkflow(linearGraph())

	assert.True(t, res.Valid())
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidateWorkflowNil(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateWorkflow(nil)

	require.False(t, res.Valid())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, schema.CodeMissingRequiredField, res.Errors[0].Code)
	assert.Equal(t, schema.SeverityCritical, res.Errors[0].Severity)
}

func TestValidateWorkflowMissingRequiredFields(t *testing.T) {
	v := newTestValidator(t)

	res := v.ValidateWorkflow(&schema.Workflow{})

	require.False(t, res.Valid())
	require.Len(t, res.Errors, 3)
	for _, issue := range res.Errors {
		assert.Equal(t, schema.CodeMissingRequiredField, issue.Code)
		assert.Equal(t, schema.SeverityCritical, issue.Severity)
	}
	// Missing required fields short-circuit the remaining checks.
	assert.Empty(t, res.Warnings)
}

func TestValidateWorkflowSchemaViolation(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID:    "wf-bad",
		Nodes: []schema.Node{{ID: "n1", Type: "quantum"}},
		Edges: []schema.Edge{},
	}

	res := v.ValidateWorkflow(wf)

	require.False(t, res.Valid())
	assert.Contains(t, codesOf(res.Errors), schema.CodeSchemaViolation)
}

func TestValidateWorkflowDuplicateNodeIDs(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID: "wf-dup",
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeStarter},
			{ID: "a", Type: schema.NodeTypeAgent},
		},
		Edges: []schema.Edge{},
	}

	res := v.ValidateWorkflow(wf)

	require.False(t, res.Valid())
	assert.Contains(t, codesOf(res.Errors), schema.CodeDuplicateNodeID)
}

func TestValidateWorkflowEdgeIssues(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID: "wf-edges",
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeStarter},
			{ID: "b", Type: schema.NodeTypeAgent},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e1", Source: "a", Target: "ghost"},
		},
	}

	res := v.ValidateWorkflow(wf)

	require.False(t, res.Valid())
	codes := codesOf(res.Errors)
	assert.Contains(t, codes, schema.CodeDuplicateEdgeID)
	assert.Contains(t, codes, schema.CodeUnknownEndpoint)
}

func TestValidateWorkflowCycleIsWarningOnly(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID: "wf-cycle",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStarter},
			{ID: "a", Type: schema.NodeTypeAgent},
			{ID: "b", Type: schema.NodeTypeAgent},
			{ID: "c", Type: schema.NodeTypeAgent},
		},
		Edges: []schema.Edge{
			{ID: "e0", Source: "s", Target: "a"},
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c"},
			{ID: "e3", Source: "c", Target: "a"},
		},
	}

	res := v.ValidateWorkflow(wf)

	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.CodePotentialCycles, res.Warnings[0].Code)
	assert.Contains(t, res.Warnings[0].Message, "a -> b -> c -> a")
}

func TestValidateWorkflowReportsEachCycle(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID: "wf-cycles",
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeAgent},
			{ID: "b", Type: schema.NodeTypeAgent},
			{ID: "c", Type: schema.NodeTypeAgent},
			{ID: "d", Type: schema.NodeTypeAgent},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
			{ID: "e3", Source: "c", Target: "d"},
			{ID: "e4", Source: "d", Target: "c"},
		},
	}

	res := v.ValidateWorkflow(wf)

	assert.True(t, res.Valid())
	cycles := 0
	for _, w := range res.Warnings {
		if w.Code == schema.CodePotentialCycles {
			cycles++
		}
	}
	assert.Equal(t, 2, cycles)
	assert.Contains(t, codesOf(res.Warnings), schema.CodeNoStarterNode)
}

func TestValidateWorkflowNoStarterWarning(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID:    "wf-nostart",
		Nodes: []schema.Node{{ID: "a", Type: schema.NodeTypeAgent}},
		Edges: []schema.Edge{},
	}

	res := v.ValidateWorkflow(wf)

	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.CodeNoStarterNode, res.Warnings[0].Code)
}

func TestValidateWorkflowDisconnectedNode(t *testing.T) {
	v := newTestValidator(t)
	wf := &schema.Workflow{
		ID: "wf-island",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStarter},
			{ID: "a", Type: schema.NodeTypeAgent},
			{ID: "island", Type: schema.NodeTypeAgent},
			{ID: "loop1", Type: schema.NodeTypeLoop},
			{ID: "inner", Type: schema.NodeTypeFunction, ParentID: "loop1"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "s", Target: "a"},
		},
	}

	res := v.ValidateWorkflow(wf)

	// Container members connect through containment, not edges; only the
	// true island is flagged.
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.CodeDisconnectedNode, res.Warnings[0].Code)
	assert.Equal(t, "nodes.island", res.Warnings[0].Path)
}

type stubCatalog struct {
	reject map[schema.NodeType]bool
}

func (c stubCatalog) CanConvert(n *schema.Node) bool { return !c.reject[n.Type] }

func TestValidateWorkflowConverterCoverage(t *testing.T) {
	v, err := New(stubCatalog{reject: map[schema.NodeType]bool{schema.NodeTypeWebhook: true}}, nil)
	require.NoError(t, err)

	wf := &schema.Workflow{
		ID: "wf-cov",
		Nodes: []schema.Node{
			{ID: "s", Type: schema.NodeTypeStarter},
			{ID: "hook", Type: schema.NodeTypeWebhook},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "s", Target: "hook"},
		},
	}

	res := v.ValidateWorkflow(wf)

	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.CodeNoConverter, res.Warnings[0].Code)
	assert.Equal(t, "nodes.hook", res.Warnings[0].Path)
}

func TestValidateWorkflowConditionSyntax(t *testing.T) {
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	v, err := New(nil, cel)
	require.NoError(t, err)

	wf := linearGraph()
	wf.Edges[0].Condition = `variables.mode == "fast"`
	wf.Edges[1].Condition = `variables.mode ==`

	res := v.ValidateWorkflow(wf)

	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, schema.CodeInvalidCondition, res.Warnings[0].Code)
	assert.Equal(t, "edges.e2", res.Warnings[0].Path)
}

// --- Cycle discovery ---

func TestFindCycles(t *testing.T) {
	nodes := []schema.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Empty(t, findCycles(nodes, map[string][]string{"a": {"b"}, "b": {"c"}}))

	selfLoop := findCycles(nodes, map[string][]string{"a": {"a"}})
	require.Len(t, selfLoop, 1)
	assert.Equal(t, []string{"a", "a"}, selfLoop[0])

	// Diamond: two paths converge without cycling.
	diamond := map[string][]string{"a": {"b", "c"}, "b": {"c"}}
	assert.Empty(t, findCycles(nodes, diamond))
}
