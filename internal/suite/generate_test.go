package suite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

func testIDs(tests []CompatibilityTest) []string {
	ids := make([]string, 0, len(tests))
	for _, test := range tests {
		ids = append(ids, test.ID)
	}
	return ids
}

func findTest(t *testing.T, tests []CompatibilityTest, id string) CompatibilityTest {
	t.Helper()
	for _, test := range tests {
		if test.ID == id {
			return test
		}
	}
	t.Fatalf("no generated test with id %q", id)
	return CompatibilityTest{}
}

// --- GenerateAutomatedTests ---

func TestGenerateCoreBattery(t *testing.T) {
	input := map[string]any{"user_id": "u-1"}
	tests := GenerateAutomatedTests("wf-signup", nil, GenerateOptions{Input: input})
	require.Len(t, tests, 5)

	assert.Equal(t, []string{
		"wf-signup-basic-execution",
		"wf-signup-output-comparison",
		"wf-signup-state-sync",
		"wf-signup-integration",
		"wf-signup-error-handling",
	}, testIDs(tests))

	basic := findTest(t, tests, "wf-signup-basic-execution")
	assert.Equal(t, KindBasicExecution, basic.Kind)
	assert.Equal(t, "wf-signup", basic.WorkflowID)
	assert.Equal(t, input, basic.Input)
	assert.Equal(t, string(schema.StatusCompleted), basic.Expect.ExpectedStatus)
	assert.Contains(t, basic.Tags, "generated")
	assert.Contains(t, basic.Tags, string(KindBasicExecution))

	outputs := findTest(t, tests, "wf-signup-output-comparison")
	assert.Equal(t, []string{".outputs"}, outputs.Expect.MatchPaths)

	state := findTest(t, tests, "wf-signup-state-sync")
	assert.Equal(t, KindStateSync, state.Kind)
	assert.Equal(t, []string{".variables"}, state.Expect.MatchPaths)

	integration := findTest(t, tests, "wf-signup-integration")
	require.Len(t, integration.Assertions, 1)
	assert.Equal(t, AssertSideEffects, integration.Assertions[0].Kind)
}

func TestGenerateErrorHandlingProbe(t *testing.T) {
	tests := GenerateAutomatedTests("wf-1", nil, GenerateOptions{Input: map[string]any{"ok": true}})

	probe := findTest(t, tests, "wf-1-error-handling")
	assert.Equal(t, string(schema.StatusError), probe.Expect.ExpectedStatus)
	// The probe deliberately ignores the caller's input.
	assert.Contains(t, probe.Input, "__invalid_input__")
}

func TestGenerateOptionalTests(t *testing.T) {
	tests := GenerateAutomatedTests("wf-1", nil, GenerateOptions{
		IncludeSideEffects:   true,
		IncludePerformance:   true,
		PerformanceTolerance: schema.Millis(2500),
	})
	require.Len(t, tests, 7)

	side := findTest(t, tests, "wf-1-side-effects")
	assert.Equal(t, KindSideEffects, side.Kind)
	require.Len(t, side.Assertions, 1)
	assert.Equal(t, AssertSideEffects, side.Assertions[0].Kind)

	perf := findTest(t, tests, "wf-1-performance")
	assert.Equal(t, KindPerformance, perf.Kind)
	require.Len(t, perf.Assertions, 1)
	assert.Equal(t, AssertPerformance, perf.Assertions[0].Kind)
	assert.Equal(t, schema.Millis(2500), perf.Assertions[0].Tolerance)
}

func TestGenerateDetectsSideEffectNodes(t *testing.T) {
	withAPI := &schema.Workflow{Nodes: []schema.Node{
		{ID: "n1", Type: schema.NodeTypeStarter},
		{ID: "n2", Type: schema.NodeTypeAPI},
	}}
	tests := GenerateAutomatedTests("wf-1", withAPI, GenerateOptions{})
	assert.Contains(t, testIDs(tests), "wf-1-side-effects")

	agentOnly := &schema.Workflow{Nodes: []schema.Node{
		{ID: "n1", Type: schema.NodeTypeStarter},
		{ID: "n2", Type: schema.NodeTypeAgent},
	}}
	tests = GenerateAutomatedTests("wf-1", agentOnly, GenerateOptions{})
	assert.NotContains(t, testIDs(tests), "wf-1-side-effects")
}

func TestGeneratedTestsFormValidSuite(t *testing.T) {
	tests := GenerateAutomatedTests("wf-1", nil, GenerateOptions{
		IncludeSideEffects: true,
		IncludePerformance: true,
	})

	err := NewRegistry().Register(&TestSuite{Name: "generated", Tests: tests})
	assert.NoError(t, err)
}
