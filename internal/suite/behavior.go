package suite

import (
	"context"
	"fmt"
	"math"

	"github.com/tandemlab/tandem/pkg/schema"
)

// comparisonPassScore is the similarity below which blocking diffs fail
// a test. At or above it, blocking diffs alone never fail.
const comparisonPassScore = 90.0

// evaluateBehavior checks the expected-behavior gates of a test and
// returns a violation string for every gate that does not hold.
func (o *Orchestrator) evaluateBehavior(ctx context.Context, t *CompatibilityTest, in assertInput) []string {
	var violations []string

	for _, path := range t.Expect.MatchPaths {
		wv, jv, err := o.extractPair(ctx, path, in)
		if err != nil {
			violations = append(violations, fmt.Sprintf("match path %q failed: %v", path, err))
			continue
		}
		if valuesMatch(wv, jv, t.Expect.Tolerances[path]) {
			continue
		}
		violations = append(violations, fmt.Sprintf("match path %q differs: workflow %v, journey %v", path, wv, jv))
	}

	for _, path := range t.Expect.DifferPaths {
		wv, jv, err := o.extractPair(ctx, path, in)
		if err != nil {
			violations = append(violations, fmt.Sprintf("differ path %q failed: %v", path, err))
			continue
		}
		if assertEqual(wv, jv) {
			violations = append(violations, fmt.Sprintf("differ path %q is identical on both sides: %v", path, wv))
		}
	}

	if t.Expect.ExpectedStatus != "" {
		want := schema.CanonicalStatus(t.Expect.ExpectedStatus)
		if got := schema.CanonicalStatus(in.workflow.Status); got != want {
			violations = append(violations, fmt.Sprintf("workflow status %q, expected %q", got, want))
		}
		if got := schema.CanonicalStatus(in.journey.Status); got != want {
			violations = append(violations, fmt.Sprintf("journey status %q, expected %q", got, want))
		}
	}
	return violations
}

func (o *Orchestrator) extractPair(ctx context.Context, path string, in assertInput) (any, any, error) {
	wv, err := o.jq.Evaluate(ctx, path, in.workflowDoc)
	if err != nil {
		return nil, nil, err
	}
	jv, err := o.jq.Evaluate(ctx, path, in.journeyDoc)
	if err != nil {
		return nil, nil, err
	}
	return wv, jv, nil
}

// valuesMatch compares two extracted values, allowing an absolute delta
// for numeric pairs when a tolerance is set.
func valuesMatch(a, b any, tolerance float64) bool {
	if tolerance > 0 {
		af, aok := numericValue(a)
		bf, bok := numericValue(b)
		if aok && bok {
			return math.Abs(af-bf) <= tolerance
		}
	}
	return assertEqual(a, b)
}

// blockingViolation applies the comparison-based failure rule: the test
// fails when the similarity score is below comparisonPassScore and the
// comparison holds a critical or error diff whose kind is not on the
// allow list. Warning and info diffs alone never trip this.
func blockingViolation(c *schema.ResultComparison, allowed []schema.DiffKind) (string, bool) {
	if c == nil || c.Score >= comparisonPassScore {
		return "", false
	}
	allow := make(map[schema.DiffKind]struct{}, len(allowed))
	for _, k := range allowed {
		allow[k] = struct{}{}
	}
	blocking := 0
	for _, d := range c.Diffs {
		if !d.Blocking() {
			continue
		}
		if _, ok := allow[d.Kind]; ok {
			continue
		}
		blocking++
	}
	if blocking == 0 {
		return "", false
	}
	return fmt.Sprintf("%d blocking differences with similarity %.2f below %.0f", blocking, c.Score, comparisonPassScore), true
}
