package suite

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/tandemlab/tandem/internal/integrations"
	"github.com/tandemlab/tandem/pkg/schema"
)

// assertInput carries everything assertion and behavior evaluation can
// read: both execution results, their JSON documents for GoJQ paths,
// and the integration comparison when one was captured.
type assertInput struct {
	workflow     *schema.ExecutionResult
	journey      *schema.ExecutionResult
	workflowDoc  map[string]any
	journeyDoc   map[string]any
	integrations *integrations.Comparison
}

func (o *Orchestrator) evaluateAssertions(ctx context.Context, specs []Assertion, in assertInput) []AssertionResult {
	if len(specs) == 0 {
		return nil
	}
	out := make([]AssertionResult, 0, len(specs))
	for _, a := range specs {
		out = append(out, o.evaluateAssertion(ctx, a, in))
	}
	return out
}

func (o *Orchestrator) evaluateAssertion(ctx context.Context, a Assertion, in assertInput) AssertionResult {
	switch a.Kind {
	case AssertPerformance:
		return assertPerformance(a, in)
	case AssertSideEffects:
		return assertSideEffects(a, in)
	}

	res := AssertionResult{Kind: a.Kind, Target: a.Target, Path: a.Path}
	doc := in.workflowDoc
	if a.Target == TargetJourney {
		doc = in.journeyDoc
	}
	if strings.TrimSpace(a.Path) == "" {
		return failAssertion(res, a, "assertion path is required")
	}
	actual, err := o.jq.Evaluate(ctx, a.Path, doc)
	if err != nil {
		return failAssertion(res, a, fmt.Sprintf("path %q failed: %v", a.Path, err))
	}
	res.Actual = actual

	switch a.Kind {
	case AssertEquals:
		res.Expected = a.Expected
		if assertEqual(a.Expected, actual) {
			res.Passed = true
			return res
		}
		return failAssertion(res, a, fmt.Sprintf("expected %v, got %v", a.Expected, actual))
	case AssertContains:
		res.Expected = a.Expected
		ok, why := assertContains(actual, a.Expected)
		if ok {
			res.Passed = true
			return res
		}
		return failAssertion(res, a, why)
	case AssertMatches:
		res.Expected = a.Pattern
		s, ok := actual.(string)
		if !ok {
			return failAssertion(res, a, fmt.Sprintf("matches needs a string value, got %T", actual))
		}
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return failAssertion(res, a, fmt.Sprintf("invalid pattern %q: %v", a.Pattern, err))
		}
		if re.MatchString(s) {
			res.Passed = true
			return res
		}
		return failAssertion(res, a, fmt.Sprintf("%q does not match %q", s, a.Pattern))
	default:
		return failAssertion(res, a, fmt.Sprintf("unknown assertion kind %q", a.Kind))
	}
}

// assertPerformance checks that the two engines finished within the
// allowed duration delta of each other.
func assertPerformance(a Assertion, in assertInput) AssertionResult {
	res := AssertionResult{Kind: a.Kind}
	tol := a.Tolerance
	if tol <= 0 {
		tol = DefaultPerformanceTolerance
	}
	delta := in.workflow.Duration - in.journey.Duration
	if delta < 0 {
		delta = -delta
	}
	res.Expected = tol
	res.Actual = delta
	if delta <= tol {
		res.Passed = true
		return res
	}
	return failAssertion(res, a, fmt.Sprintf("duration delta %dms exceeds tolerance %dms", delta, tol))
}

// assertSideEffects checks the captured integration comparison.
func assertSideEffects(a Assertion, in assertInput) AssertionResult {
	res := AssertionResult{Kind: a.Kind}
	if in.integrations == nil {
		return failAssertion(res, a, "integration capture is not enabled for this suite")
	}
	res.Actual = in.integrations.Summary.TotalDiffs
	if in.integrations.Compatible {
		res.Passed = true
		return res
	}
	high := in.integrations.Summary.ByImpact[integrations.ImpactHigh]
	return failAssertion(res, a, fmt.Sprintf("%d high-impact integration differences", high))
}

func failAssertion(res AssertionResult, a Assertion, msg string) AssertionResult {
	res.Passed = false
	if a.Message != "" {
		msg = a.Message
	}
	res.Message = msg
	return res
}

// normalizeJSON folds Go integer types and json.Number into float64 so
// values decoded from JSON compare equal to literals built in Go.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeJSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeJSON(e)
		}
		return out
	default:
		return v
	}
}

func assertEqual(expected, actual any) bool {
	return reflect.DeepEqual(normalizeJSON(expected), normalizeJSON(actual))
}

// assertContains checks substring membership for strings and element
// membership for arrays.
func assertContains(haystack, needle any) (bool, string) {
	switch h := haystack.(type) {
	case string:
		n := fmt.Sprintf("%v", needle)
		if strings.Contains(h, n) {
			return true, ""
		}
		return false, fmt.Sprintf("%q does not contain %q", h, n)
	case []any:
		want := normalizeJSON(needle)
		for _, e := range h {
			if reflect.DeepEqual(normalizeJSON(e), want) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("array has no element equal to %v", needle)
	default:
		return false, fmt.Sprintf("value of type %T does not support contains", haystack)
	}
}

// numericValue extracts a float64 from any JSON-style number.
func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
