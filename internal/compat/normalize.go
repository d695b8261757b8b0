// Package compat compares workflow execution results against journey
// execution results: normalization, structural diffing, similarity scoring,
// and pluggable formatters, transformers, and validators.
package compat

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// volatileKeys never contribute to a diff: run-specific identifiers and
// wall-clock stamps differ between any two executions by construction.
// Keys match after lowercasing and dropping underscores, so snake_case and
// camelCase spellings hit the same entry.
var volatileKeys = map[string]struct{}{
	"executionid":   {},
	"traceid":       {},
	"requestid":     {},
	"spanid":        {},
	"correlationid": {},
	"processid":     {},
	"pid":           {},
	"nodeid":        {},
	"hostid":        {},
	"hostname":      {},
	"timestamp":     {},
	"createdat":     {},
	"updatedat":     {},
	"startedat":     {},
	"completedat":   {},
}

func isVolatileKey(key string) bool {
	canon := strings.ReplaceAll(strings.ToLower(key), "_", "")
	_, ok := volatileKeys[canon]
	return ok
}

func isDurationKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "duration") || strings.Contains(k, "elapsed") ||
		strings.HasSuffix(k, "_ms")
}

// NormalizeResult returns a comparison-ready deep copy of a result:
// canonical status, sorted issue lists, volatile keys stripped, timestamps
// reformatted to RFC3339 UTC, duration strings coerced to milliseconds, and
// numbers widened to float64. The input is never mutated.
func NormalizeResult(r *schema.ExecutionResult) *schema.ExecutionResult {
	if r == nil {
		return nil
	}

	out := *r
	out.Status = string(schema.CanonicalStatus(r.Status))
	out.Outputs = normalizeMap(r.Outputs)
	out.Variables = normalizeMap(r.Variables)
	out.Session = normalizeMap(r.Session)
	out.Metadata = normalizeMap(r.Metadata)
	out.Errors = sortIssues(r.Errors)
	out.Warnings = sortIssues(r.Warnings)

	if r.Blocks != nil {
		out.Blocks = make([]schema.BlockResult, len(r.Blocks))
		for i, b := range r.Blocks {
			b.Status = string(schema.CanonicalStatus(b.Status))
			b.Output = normalizeMap(b.Output)
			out.Blocks[i] = b
		}
	}
	if r.Steps != nil {
		out.Steps = make([]schema.StepResult, len(r.Steps))
		for i, s := range r.Steps {
			s.Status = string(schema.CanonicalStatus(s.Status))
			s.Output = normalizeMap(s.Output)
			out.Steps[i] = s
		}
	}
	if r.Conversation != nil {
		conv := *r.Conversation
		conv.Messages = slices.Clone(r.Conversation.Messages)
		conv.ActiveTools = slices.Clone(r.Conversation.ActiveTools)
		out.Conversation = &conv
	}
	return &out
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isVolatileKey(k) {
			continue
		}
		out[k] = normalizeValue(k, v)
	}
	return out
}

// normalizeValue canonicalizes one value; the owning key decides whether a
// string is duration-coercible.
func normalizeValue(key string, v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case string:
		if isDurationKey(key) {
			if ms, err := schema.ParseMillis(val); err == nil {
				return float64(ms)
			}
		}
		if ts, ok := parseTimestamp(val); ok {
			return ts.UTC().Format(time.RFC3339)
		}
		return val
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue("", item)
		}
		return out
	default:
		return v
	}
}

// timestampLayouts covers the spellings engines are known to emit.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < len("2006-01-02T15:04:05") {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortIssues orders issue lists by composite key so reporting order never
// contributes to a diff.
func sortIssues(issues []schema.ExecutionIssue) []schema.ExecutionIssue {
	if issues == nil {
		return nil
	}
	out := slices.Clone(issues)
	slices.SortStableFunc(out, func(a, b schema.ExecutionIssue) int {
		return strings.Compare(a.SortKey(), b.SortKey())
	})
	return out
}
