package schema

import "encoding/json"

// DeepCopyMap creates a deep copy of a map[string]any. Snapshots, state
// preservation, and sync merges all rely on it to freeze values.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopyValue(v)
	}
	return cp
}

// DeepCopyValue recursively deep-copies a value.
// Handles maps, slices, and primitives (which are inherently immutable).
func DeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopyValue(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		// Primitives (string, float64, bool, nil, int, int64) are value types.
		return v
	}
}
