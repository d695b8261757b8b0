package suite

import (
	"github.com/tandemlab/tandem/pkg/schema"
)

// GenerateOptions tunes the automated test battery.
type GenerateOptions struct {
	// Input seeds the happy-path tests.
	Input map[string]any
	// IncludeSideEffects forces the order-preserving side-effect test
	// even when the graph has no API or webhook nodes.
	IncludeSideEffects bool
	// IncludePerformance adds a duration-parity test.
	IncludePerformance bool
	// PerformanceTolerance overrides the default duration delta.
	PerformanceTolerance schema.Millis
}

// GenerateAutomatedTests derives a standard compatibility battery for a
// workflow: basic execution, output comparison, variable state parity,
// integration behavior, and error handling, plus optional ordered
// side-effect and performance tests. Graphs that call out to the world
// via API or webhook nodes get the side-effect test automatically.
func GenerateAutomatedTests(workflowID string, graph *schema.Workflow, opts GenerateOptions) []CompatibilityTest {
	tests := []CompatibilityTest{
		{
			ID:         workflowID + "-basic-execution",
			Name:       "basic execution parity",
			Kind:       KindBasicExecution,
			WorkflowID: workflowID,
			Input:      opts.Input,
			Expect:     ExpectedBehavior{ExpectedStatus: string(schema.StatusCompleted)},
			Tags:       generatedTags(KindBasicExecution),
		},
		{
			ID:         workflowID + "-output-comparison",
			Name:       "output comparison",
			Kind:       KindOutputComparison,
			WorkflowID: workflowID,
			Input:      opts.Input,
			Expect:     ExpectedBehavior{MatchPaths: []string{".outputs"}},
			Tags:       generatedTags(KindOutputComparison),
		},
		{
			ID:         workflowID + "-state-sync",
			Name:       "variable state parity",
			Kind:       KindStateSync,
			WorkflowID: workflowID,
			Input:      opts.Input,
			Expect:     ExpectedBehavior{MatchPaths: []string{".variables"}},
			Tags:       generatedTags(KindStateSync),
		},
		{
			ID:         workflowID + "-integration",
			Name:       "integration behavior",
			Kind:       KindIntegration,
			WorkflowID: workflowID,
			Input:      opts.Input,
			Assertions: []Assertion{{Kind: AssertSideEffects}},
			Tags:       generatedTags(KindIntegration),
		},
		{
			ID:         workflowID + "-error-handling",
			Name:       "error handling parity",
			Kind:       KindErrorHandling,
			WorkflowID: workflowID,
			Input:      invalidProbeInput(),
			Expect:     ExpectedBehavior{ExpectedStatus: string(schema.StatusError)},
			Tags:       generatedTags(KindErrorHandling),
		},
	}

	if opts.IncludeSideEffects || hasSideEffectNodes(graph) {
		tests = append(tests, CompatibilityTest{
			ID:         workflowID + "-side-effects",
			Name:       "ordered side effects",
			Kind:       KindSideEffects,
			WorkflowID: workflowID,
			Input:      opts.Input,
			Assertions: []Assertion{{Kind: AssertSideEffects}},
			Tags:       generatedTags(KindSideEffects),
		})
	}
	if opts.IncludePerformance {
		tests = append(tests, CompatibilityTest{
			ID:         workflowID + "-performance",
			Name:       "performance parity",
			Kind:       KindPerformance,
			WorkflowID: workflowID,
			Input:      opts.Input,
			Assertions: []Assertion{{Kind: AssertPerformance, Tolerance: opts.PerformanceTolerance}},
			Tags:       generatedTags(KindPerformance),
		})
	}
	return tests
}

func generatedTags(kind TestKind) []string {
	return []string{"generated", string(kind)}
}

// invalidProbeInput is input no workflow contract should accept. Both
// engines are expected to reject it the same way.
func invalidProbeInput() map[string]any {
	return map[string]any{"__invalid_input__": true}
}

// hasSideEffectNodes reports whether the graph calls out to the world.
func hasSideEffectNodes(graph *schema.Workflow) bool {
	if graph == nil {
		return false
	}
	for i := range graph.Nodes {
		switch graph.Nodes[i].Type {
		case schema.NodeTypeAPI, schema.NodeTypeWebhook:
			return true
		}
	}
	return false
}
