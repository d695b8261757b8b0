package compat

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/tandemlab/tandem/pkg/schema"
)

// severityByKind assigns the blocking weight of each structural divergence.
// Surplus data on the journey side (extra_key) is reported but never blocks
// on its own.
var severityByKind = map[schema.DiffKind]schema.Severity{
	schema.DiffValueMismatch:     schema.SeverityError,
	schema.DiffTypeMismatch:      schema.SeverityError,
	schema.DiffMissingKey:        schema.SeverityError,
	schema.DiffExtraKey:          schema.SeverityWarning,
	schema.DiffCountMismatch:     schema.SeverityError,
	schema.DiffStructureMismatch: schema.SeverityError,
}

// differ walks two value trees and emits one ResultDiff per divergence.
// "expected" is always the workflow side, "actual" the journey side.
type differ struct {
	maxDepth int
	diffs    []schema.ResultDiff
}

func newDiffer(maxDepth int) *differ {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &differ{maxDepth: maxDepth}
}

func (d *differ) add(path string, kind schema.DiffKind, expected, actual any, message string) {
	d.addWith(path, kind, severityByKind[kind], expected, actual, message)
}

func (d *differ) addWith(path string, kind schema.DiffKind, severity schema.Severity, expected, actual any, message string) {
	d.diffs = append(d.diffs, schema.ResultDiff{
		Path:     path,
		Kind:     kind,
		Severity: severity,
		Expected: expected,
		Actual:   actual,
		Message:  message,
	})
}

func (d *differ) compare(path string, expected, actual any, depth int) {
	expected, actual = denil(expected), denil(actual)
	if isNil(expected) && isNil(actual) {
		return
	}
	if isNil(expected) || isNil(actual) {
		d.add(path, schema.DiffValueMismatch, expected, actual, "one side is null")
		return
	}

	if depth >= d.maxDepth {
		if !reflect.DeepEqual(expected, actual) {
			d.add(path, schema.DiffStructureMismatch, nil, nil,
				fmt.Sprintf("structures diverge beyond depth %d", d.maxDepth))
		}
		return
	}

	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			d.add(path, schema.DiffTypeMismatch, typeName(expected), typeName(actual),
				fmt.Sprintf("workflow has %s, journey has %s", typeName(expected), typeName(actual)))
			return
		}
		d.compareMaps(path, exp, act, depth)
	case []any:
		act, ok := actual.([]any)
		if !ok {
			d.add(path, schema.DiffTypeMismatch, typeName(expected), typeName(actual),
				fmt.Sprintf("workflow has %s, journey has %s", typeName(expected), typeName(actual)))
			return
		}
		if len(exp) != len(act) {
			d.add(path, schema.DiffCountMismatch, len(exp), len(act),
				fmt.Sprintf("workflow has %d elements, journey has %d", len(exp), len(act)))
		}
		for i := 0; i < len(exp) && i < len(act); i++ {
			d.compare(fmt.Sprintf("%s[%d]", path, i), exp[i], act[i], depth+1)
		}
	default:
		d.compareScalars(path, expected, actual)
	}
}

// compareMaps walks the sorted key union so diff order is deterministic.
func (d *differ) compareMaps(path string, expected, actual map[string]any, depth int) {
	keys := make([]string, 0, len(expected)+len(actual))
	for k := range expected {
		keys = append(keys, k)
	}
	for k := range actual {
		if _, ok := expected[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		childPath := joinPath(path, k)
		ev, inExpected := expected[k]
		av, inActual := actual[k]
		switch {
		case !inActual:
			d.add(childPath, schema.DiffMissingKey, ev, nil, "key present in workflow result only")
		case !inExpected:
			d.add(childPath, schema.DiffExtraKey, nil, av, "key present in journey result only")
		default:
			d.compare(childPath, ev, av, depth+1)
		}
	}
}

func (d *differ) compareScalars(path string, expected, actual any) {
	if en, eok := asNumber(expected); eok {
		if an, aok := asNumber(actual); aok {
			if en != an {
				d.add(path, schema.DiffValueMismatch, expected, actual, "values differ")
			}
			return
		}
		d.add(path, schema.DiffTypeMismatch, typeName(expected), typeName(actual),
			fmt.Sprintf("workflow has %s, journey has %s", typeName(expected), typeName(actual)))
		return
	}
	if _, aok := asNumber(actual); aok {
		d.add(path, schema.DiffTypeMismatch, typeName(expected), typeName(actual),
			fmt.Sprintf("workflow has %s, journey has %s", typeName(expected), typeName(actual)))
		return
	}

	if reflect.TypeOf(expected) != reflect.TypeOf(actual) {
		d.add(path, schema.DiffTypeMismatch, typeName(expected), typeName(actual),
			fmt.Sprintf("workflow has %s, journey has %s", typeName(expected), typeName(actual)))
		return
	}
	if !reflect.DeepEqual(expected, actual) {
		d.add(path, schema.DiffValueMismatch, expected, actual, "values differ")
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// denil turns typed nil containers into empty ones: a nil map and an empty
// map hold the same data, only JSON null is a real difference.
func denil(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any{}
		}
	case []any:
		if t == nil {
			return []any{}
		}
	}
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "number"
	default:
		return reflect.TypeOf(v).String()
	}
}
