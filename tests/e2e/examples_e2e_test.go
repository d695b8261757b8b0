package e2e

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

// --- Example fixtures ---

func examplesDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "examples")
}

func exampleNames(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(examplesDir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	require.NotEmpty(t, names)
	return names
}

func loadExampleWorkflow(t *testing.T, name string) *schema.Workflow {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(examplesDir(), name, "workflow.json"))
	require.NoError(t, err)
	var wf schema.Workflow
	require.NoError(t, json.Unmarshal(raw, &wf))
	return &wf
}

func loadExampleSuite(t *testing.T, name string) *suite.TestSuite {
	t.Helper()
	path := filepath.Join(examplesDir(), name, "suite.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var ts suite.TestSuite
	require.NoError(t, json.Unmarshal(raw, &ts))
	return &ts
}

// --- Example Scenarios ---

// Every shipped example graph validates, converts cleanly, and round-trips
// through the store.
func TestExampleWorkflowsConvert(t *testing.T) {
	for _, name := range exampleNames(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			wf := loadExampleWorkflow(t, name)

			vr := h.validator.ValidateWorkflow(wf)
			assert.True(t, vr.Valid(), "workflow should validate: %+v", vr.Errors)

			journey, cvr, err := h.converter.Convert(ctx, wf, convert.DefaultOptions())
			require.NoError(t, err)
			assert.True(t, cvr.Valid(), "conversion should validate: %+v", cvr.Errors)
			assert.Equal(t, wf.ID, journey.WorkflowID)
			assert.NotEmpty(t, journey.InitialStates())

			require.NoError(t, h.store.SaveWorkflow(ctx, wf))
			require.NoError(t, h.store.SaveJourney(ctx, journey))

			stored, err := h.store.JourneyForWorkflow(ctx, wf.ID)
			require.NoError(t, err)
			assert.Equal(t, journey.ID, stored.ID)
		})
	}
}

// Example suites run green against agreeing engines.
func TestExampleSuitesPass(t *testing.T) {
	for _, name := range exampleNames(t) {
		ts := loadExampleSuite(t, name)
		if ts == nil {
			continue
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			wf := loadExampleWorkflow(t, name)
			require.NoError(t, h.store.SaveWorkflow(ctx, wf))

			result := h.runSuite(ts)
			assert.Equal(t, result.Total, result.Passed,
				"example suite should pass, got %+v", result.Results)
			assert.NotEmpty(t, result.RunID)
		})
	}
}

// The loop container in the triage example unrolls into loop states with
// the poll step nested between them.
func TestTriageExampleLoopStates(t *testing.T) {
	h := newHarness(t)
	wf := loadExampleWorkflow(t, "support-triage")

	journey, _, err := h.converter.Convert(context.Background(), wf, convert.DefaultOptions())
	require.NoError(t, err)

	var kinds []schema.StateType
	for _, s := range journey.States {
		kinds = append(kinds, s.Type)
	}
	assert.Contains(t, kinds, schema.StateTypeLoopStart)
	assert.Contains(t, kinds, schema.StateTypeLoopEnd)
	assert.Contains(t, kinds, schema.StateTypeCondition)
	assert.Contains(t, kinds, schema.StateTypeChat)
}
