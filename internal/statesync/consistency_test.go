package statesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

// --- Consistency validation ---

func TestConsistencyIdenticalStates(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	seed := map[string]any{"x": 1, "name": "ada"}
	seedPair(t, l, seed, seed)

	report, err := l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)

	assert.True(t, report.Consistent)
	assert.Equal(t, float64(100), report.Score)
	assert.Equal(t, 8, report.TotalChecks, "3 per shared variable plus history and progress")
	assert.Empty(t, report.Inconsistencies)
}

func TestConsistencyValueAndTypeDivergence(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	seedPair(t, l,
		map[string]any{"x": 1, "y": 2},
		map[string]any{"x": 1, "y": "2"},
	)

	report, err := l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)

	assert.False(t, report.Consistent)
	require.Len(t, report.Inconsistencies, 2)

	byCheck := make(map[string]ConsistencyIssue, 2)
	for _, issue := range report.Inconsistencies {
		byCheck[issue.Check] = issue
	}
	assert.Equal(t, "y", byCheck[CheckVariableValue].Variable)
	assert.Equal(t, "y", byCheck[CheckVariableType].Variable)
	assert.Contains(t, byCheck[CheckVariableType].Detail, "number")
	assert.Contains(t, byCheck[CheckVariableType].Detail, "string")

	assert.Equal(t, 8, report.TotalChecks)
	assert.Equal(t, 75.0, report.Score)
}

func TestConsistencyMissingVariable(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	seedPair(t, l,
		map[string]any{"x": 1, "z": true},
		map[string]any{"x": 1},
	)

	report, err := l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)

	require.Len(t, report.Inconsistencies, 1)
	issue := report.Inconsistencies[0]
	assert.Equal(t, CheckVariablePresence, issue.Check)
	assert.Equal(t, "z", issue.Variable)
	assert.Contains(t, issue.Detail, "journey side")

	// A variable missing on one side counts a single presence check.
	assert.Equal(t, 6, report.TotalChecks)
	assert.Equal(t, 83.33, report.Score)
}

func TestConsistencyProgressDrift(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	seedPair(t, l, nil, nil)

	require.NoError(t, l.UpdateProgress("wf-1", 5, 10, ""))
	require.NoError(t, l.UpdateProgress("jn-1", 11, 25, ""))

	// 50% vs 44%: six points apart, over the default tolerance of five.
	report, err := l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)
	require.Len(t, report.Inconsistencies, 1)
	assert.Equal(t, CheckProgressDrift, report.Inconsistencies[0].Check)
	assert.Contains(t, report.Inconsistencies[0].Detail, "6.0 points")

	require.NoError(t, l.UpdateProgress("jn-1", 46, 100, ""))
	require.NoError(t, l.UpdateProgress("wf-1", 50, 100, ""))

	report, err = l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)
	assert.True(t, report.Consistent, "drift within tolerance passes")
}

func TestConsistencyHistoryLength(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	seedPair(t, l, nil, nil)

	err := l.UpdateContext("jn-1", ContextUpdate{
		Messages: []schema.ConversationMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	report, err := l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)
	require.Len(t, report.Inconsistencies, 1)
	assert.Equal(t, CheckHistoryLength, report.Inconsistencies[0].Check)
	assert.Equal(t, "workflow has 0 messages, journey has 1", report.Inconsistencies[0].Detail)
}

func TestConsistencyIsReadOnly(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	seedPair(t, l,
		map[string]any{"x": 1},
		map[string]any{"x": 2, "extra": "jn"},
	)

	before, err := l.State("jn-1")
	require.NoError(t, err)

	_, err = l.ValidateStateConsistency("wf-1", "jn-1")
	require.NoError(t, err)

	after, err := l.State("jn-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConsistencyMissingExecution(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	_, err := l.InitializeState(context.Background(), "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)

	_, err = l.ValidateStateConsistency("wf-1", "jn-missing")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}
