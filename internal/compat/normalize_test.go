package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

// --- Normalization ---

func TestNormalizeNil(t *testing.T) {
	assert.Nil(t, NormalizeResult(nil))
}

func TestNormalizeCanonicalStatus(t *testing.T) {
	cases := map[string]string{
		"SUCCESS":   "completed",
		"finished":  "completed",
		"failed":    "error",
		"Aborted":   "cancelled",
		"executing": "running",
		"queued":    "pending",
		"weird":     "weird",
	}
	for raw, want := range cases {
		out := NormalizeResult(&schema.ExecutionResult{Status: raw})
		assert.Equal(t, want, out.Status, "status %q", raw)
	}
}

func TestNormalizeStripsVolatileKeys(t *testing.T) {
	r := &schema.ExecutionResult{
		Outputs: map[string]any{
			"execution_id": "run-1",
			"traceId":      "t-9",
			"created_at":   "2024-03-01T10:00:00Z",
			"hostname":     "worker-3",
			"result":       5,
		},
	}

	out := NormalizeResult(r)

	require.Len(t, out.Outputs, 1)
	assert.Equal(t, float64(5), out.Outputs["result"])
	// Original untouched.
	assert.Len(t, r.Outputs, 5)
	assert.Equal(t, 5, r.Outputs["result"])
}

func TestNormalizeTimestampsAndDurations(t *testing.T) {
	r := &schema.ExecutionResult{
		Outputs: map[string]any{
			"finished_on":   "2024-03-01 10:00:00",
			"duration":      "1m30s",
			"fetch_elapsed": "250ms",
			"note":          "done in 5s flat",
		},
	}

	out := NormalizeResult(r)

	assert.Equal(t, "2024-03-01T10:00:00Z", out.Outputs["finished_on"])
	assert.Equal(t, float64(90000), out.Outputs["duration"])
	assert.Equal(t, float64(250), out.Outputs["fetch_elapsed"])
	assert.Equal(t, "done in 5s flat", out.Outputs["note"])
}

func TestNormalizeSortsIssueLists(t *testing.T) {
	r := &schema.ExecutionResult{
		Errors: []schema.ExecutionIssue{
			{Code: "B", Source: "n2", Message: "later"},
			{Code: "A", Source: "n1", Message: "earlier"},
		},
	}

	out := NormalizeResult(r)

	assert.Equal(t, "A", out.Errors[0].Code)
	assert.Equal(t, "B", out.Errors[1].Code)
	// Input order preserved.
	assert.Equal(t, "B", r.Errors[0].Code)
}

func TestNormalizeBlocksAndSteps(t *testing.T) {
	r := &schema.ExecutionResult{
		Blocks: []schema.BlockResult{
			{NodeID: "n1", Status: "failed", Output: map[string]any{"count": 3, "request_id": "r1"}},
		},
		Steps: []schema.StepResult{
			{StateID: "s1", Status: "done", Output: map[string]any{"nested": map[string]any{"n": int64(7)}}},
		},
	}

	out := NormalizeResult(r)

	assert.Equal(t, "error", out.Blocks[0].Status)
	assert.Equal(t, map[string]any{"count": float64(3)}, out.Blocks[0].Output)
	assert.Equal(t, "completed", out.Steps[0].Status)
	assert.Equal(t, map[string]any{"nested": map[string]any{"n": float64(7)}}, out.Steps[0].Output)
	// Originals untouched.
	assert.Equal(t, "failed", r.Blocks[0].Status)
	assert.Equal(t, 3, r.Blocks[0].Output["count"])
}

func TestVolatileKeyMatching(t *testing.T) {
	assert.True(t, isVolatileKey("execution_id"))
	assert.True(t, isVolatileKey("executionId"))
	assert.True(t, isVolatileKey("STARTED_AT"))
	assert.False(t, isVolatileKey("executor"))
	assert.False(t, isVolatileKey("result"))
}
