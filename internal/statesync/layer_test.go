package statesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

// newTestLayer builds a layer on a fake clock so expiry and timestamps are
// deterministic.
func newTestLayer(cfg Config) (*Layer, *fakeClock) {
	clock := newFakeClock()
	l := NewLayer(cfg, nil, nil)
	l.now = clock.Now
	l.locks = newLockTable(cfg.LockTTL, clock.Now)
	return l, clock
}

// --- Lifecycle ---

func TestInitializeState(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())

	state, err := l.InitializeState(context.Background(), "wf-1", schema.ModeWorkflow, map[string]any{
		"count": 1,
		"name":  "ada",
	})
	require.NoError(t, err)

	assert.Equal(t, "wf-1", state.ExecutionID)
	assert.Equal(t, schema.ModeWorkflow, state.Mode)
	require.Len(t, state.Variables, 2)

	count := state.Variables["count"]
	assert.Equal(t, "number", count.Type)
	assert.Equal(t, 1, count.Version)
	assert.Equal(t, "seed", count.UpdatedBy)
	assert.Equal(t, "string", state.Variables["name"].Type)

	require.NotNil(t, state.Session)
	assert.Equal(t, "wf-1", state.Session.ID)
}

func TestInitializeStateTwice(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)

	_, err = l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAlreadyExists, schema.ErrorCode(err))
}

func TestInitializeStateRequiresID(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())

	_, err := l.InitializeState(context.Background(), "", schema.ModeWorkflow, nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestStateNeverCreatedImplicitly(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())

	_, err := l.State("ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
	assert.Contains(t, err.Error(), "ghost")

	_, _, err = l.UpdateVariable(context.Background(), "ghost", "x", 1, "test")
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestStateReturnsIsolatedCopy(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, map[string]any{
		"settings": map[string]any{"depth": 3},
	})
	require.NoError(t, err)

	first, err := l.State("wf-1")
	require.NoError(t, err)
	first.Variables["settings"].Value.(map[string]any)["depth"] = 99
	first.Variables["injected"] = &VariableState{Name: "injected"}

	second, err := l.State("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 3, second.Variables["settings"].Value.(map[string]any)["depth"])
	assert.NotContains(t, second.Variables, "injected")
}

// --- Variable updates ---

func TestUpdateVariable(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, map[string]any{"count": 1})
	require.NoError(t, err)

	v, warnings, err := l.UpdateVariable(ctx, "wf-1", "count", 2, "node_n1")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "node_n1", v.UpdatedBy)
	assert.Equal(t, 2, v.Value)

	// Same execution updates again without a lock conflict.
	v, _, err = l.UpdateVariable(ctx, "wf-1", "count", 3, "node_n2")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)

	pending := l.PendingUpdates("wf-1")
	require.Len(t, pending, 2)
	assert.Equal(t, "count", pending[0].Variable)
	assert.Equal(t, 2, pending[0].Value)
}

func TestUpdateVariableTypeWarning(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, map[string]any{"count": 1})
	require.NoError(t, err)

	v, warnings, err := l.UpdateVariable(ctx, "wf-1", "count", "one", "node_n1")
	require.NoError(t, err, "type changes warn, never fail")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "number")
	assert.Contains(t, warnings[0], "string")
	assert.Equal(t, "one", v.Value)
}

func TestUpdateVariableTypeCheckDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidateTypes = false
	l, _ := newTestLayer(cfg)
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, map[string]any{"count": 1})
	require.NoError(t, err)

	_, warnings, err := l.UpdateVariable(ctx, "wf-1", "count", "one", "node_n1")
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestUpdateVariableLockConflict(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)
	_, err = l.InitializeState(ctx, "jn-1", schema.ModeJourney, nil)
	require.NoError(t, err)

	_, _, err = l.UpdateVariable(ctx, "wf-1", "shared", 1, "workflow")
	require.NoError(t, err)

	// The counterpart execution is rejected immediately while the lock lives.
	_, _, err = l.UpdateVariable(ctx, "jn-1", "shared", 2, "journey")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeLockConflict, schema.ErrorCode(err))
	assert.Contains(t, err.Error(), "variable:shared")

	// Cleanup releases the lock; the counterpart can write again.
	l.CleanupExecution(ctx, "wf-1")
	_, _, err = l.UpdateVariable(ctx, "jn-1", "shared", 2, "journey")
	assert.NoError(t, err)
}

func TestUpdateVariableLockExpiry(t *testing.T) {
	l, clock := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)
	_, err = l.InitializeState(ctx, "jn-1", schema.ModeJourney, nil)
	require.NoError(t, err)

	_, _, err = l.UpdateVariable(ctx, "wf-1", "shared", 1, "workflow")
	require.NoError(t, err)

	clock.Advance(31 * time.Second)
	_, _, err = l.UpdateVariable(ctx, "jn-1", "shared", 2, "journey")
	assert.NoError(t, err, "expired locks are reaped on contact")
}

func TestPendingUpdatesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyncEnabled = false
	l, _ := newTestLayer(cfg)
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)

	_, _, err = l.UpdateVariable(ctx, "wf-1", "x", 1, "test")
	require.NoError(t, err)
	assert.Empty(t, l.PendingUpdates("wf-1"))
}

// --- Context, progress, session setters ---

func TestUpdateContext(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "jn-1", schema.ModeJourney, nil)
	require.NoError(t, err)

	err = l.UpdateContext("jn-1", ContextUpdate{
		Messages:     []schema.ConversationMessage{{Role: "user", Content: "hi"}},
		Tools:        []string{"search", "search"},
		CurrentState: "s_chat",
		Metadata:     map[string]any{"channel": "web"},
	})
	require.NoError(t, err)

	state, err := l.State("jn-1")
	require.NoError(t, err)
	assert.Len(t, state.Context.History, 1)
	assert.Equal(t, []string{"search"}, state.Context.ActiveTools, "tools deduplicate")
	assert.Equal(t, "s_chat", state.Context.CurrentState)
	assert.Equal(t, "web", state.Context.Metadata["channel"])
}

func TestUpdateProgress(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)

	require.NoError(t, l.UpdateProgress("wf-1", 3, 12, "running"))

	state, err := l.State("wf-1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.Progress.CompletedSteps)
	assert.Equal(t, 12, state.Progress.TotalSteps)
	assert.InDelta(t, 25.0, state.Progress.Percentage, 0.001)
	assert.Equal(t, "running", state.Progress.Phase)

	err = l.UpdateProgress("wf-1", 9, 4, "")
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestTouchSession(t *testing.T) {
	l, clock := newTestLayer(DefaultConfig())
	ctx := context.Background()

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)
	before, err := l.State("wf-1")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	require.NoError(t, l.TouchSession("wf-1", map[string]any{"draft": "pending"}))

	after, err := l.State("wf-1")
	require.NoError(t, err)
	assert.True(t, after.Session.LastActivity.After(before.Session.LastActivity))
	assert.Equal(t, "pending", after.Session.Temporary["draft"])
}

// --- Cleanup ---

func TestCleanupIsIdempotent(t *testing.T) {
	l, _ := newTestLayer(DefaultConfig())
	ctx := context.Background()

	// Unknown execution: nothing to do, no panic.
	l.CleanupExecution(ctx, "ghost")

	_, err := l.InitializeState(ctx, "wf-1", schema.ModeWorkflow, nil)
	require.NoError(t, err)
	_, _, err = l.UpdateVariable(ctx, "wf-1", "x", 1, "test")
	require.NoError(t, err)

	l.CleanupExecution(ctx, "wf-1")
	l.CleanupExecution(ctx, "wf-1")

	_, err = l.State("wf-1")
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
	assert.Empty(t, l.PendingUpdates("wf-1"))
}
