package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

// --- Test journey builders ---

func linearJourney() *schema.Journey {
	return &schema.Journey{
		ID:         "jn-onboarding",
		WorkflowID: "wf-onboarding",
		Name:       "Onboarding",
		States: []schema.JourneyState{
			{ID: "state_start", Type: schema.StateTypeInitial, Name: "Start"},
			{ID: "state_welcome", Type: schema.StateTypeChat, Name: "Welcome"},
			{ID: "state_lookup", Type: schema.StateTypeTool, Name: "Lookup Account"},
			{ID: "state_done", Type: schema.StateTypeFinal, Name: "Done"},
		},
		Transitions: []schema.JourneyTransition{
			{ID: "t1", From: "state_start", To: "state_welcome"},
			{ID: "t2", From: "state_welcome", To: "state_lookup"},
			{ID: "t3", From: "state_lookup", To: "state_done"},
		},
	}
}

func branchingJourney() *schema.Journey {
	return &schema.Journey{
		ID:   "jn-triage",
		Name: "Triage",
		States: []schema.JourneyState{
			{ID: "state_start", Type: schema.StateTypeInitial},
			{ID: "state_decide", Type: schema.StateTypeCondition, Name: "Decide"},
			{ID: "state_escalate", Type: schema.StateTypeTool, Name: "Escalate"},
			{ID: "state_resolve", Type: schema.StateTypeTool, Name: "Resolve"},
			{ID: "state_done", Type: schema.StateTypeFinal},
		},
		Transitions: []schema.JourneyTransition{
			{ID: "t1", From: "state_start", To: "state_decide"},
			{ID: "t2", From: "state_decide", To: "state_escalate", Condition: `vars.priority == "high"`},
			{ID: "t3", From: "state_decide", To: "state_resolve", Condition: `vars.priority != "high"`},
			{ID: "t4", From: "state_escalate", To: "state_done"},
			{ID: "t5", From: "state_resolve", To: "state_done"},
		},
	}
}

func loopJourney() *schema.Journey {
	inRetry := &schema.StatePreservation{
		Layout: schema.PreservedLayout{Containers: []string{"retry"}},
	}
	return &schema.Journey{
		ID:   "jn-poller",
		Name: "Poller",
		States: []schema.JourneyState{
			{ID: "state_start", Type: schema.StateTypeInitial},
			{ID: "state_retry_start", Type: schema.StateTypeLoopStart, Name: "Retry Start", SourceNodeID: "retry"},
			{ID: "state_check", Type: schema.StateTypeTool, Name: "Check Status", Preservation: inRetry},
			{ID: "state_retry_end", Type: schema.StateTypeLoopEnd, Name: "Retry End", SourceNodeID: "retry"},
			{ID: "state_done", Type: schema.StateTypeFinal},
		},
		Transitions: []schema.JourneyTransition{
			{ID: "t1", From: "state_start", To: "state_retry_start"},
			{ID: "t2", From: "state_retry_start", To: "state_check"},
			{ID: "t3", From: "state_check", To: "state_retry_end"},
			{ID: "t4", From: "state_retry_end", To: "state_retry_start", Event: "loop_continue"},
			{ID: "t5", From: "state_retry_end", To: "state_done"},
		},
	}
}

func parallelJourney() *schema.Journey {
	inFan := &schema.StatePreservation{
		Layout: schema.PreservedLayout{Containers: []string{"fan"}},
	}
	return &schema.Journey{
		ID: "jn-fanout",
		States: []schema.JourneyState{
			{ID: "state_start", Type: schema.StateTypeInitial},
			{ID: "state_fan_start", Type: schema.StateTypeParallelStart, Name: "Fan Start", SourceNodeID: "fan"},
			{ID: "state_left", Type: schema.StateTypeTool, Preservation: inFan},
			{ID: "state_right", Type: schema.StateTypeTool, Preservation: inFan},
			{ID: "state_fan_end", Type: schema.StateTypeParallelEnd, Name: "Fan End", SourceNodeID: "fan"},
			{ID: "state_done", Type: schema.StateTypeFinal},
		},
		Transitions: []schema.JourneyTransition{
			{ID: "t1", From: "state_start", To: "state_fan_start"},
			{ID: "t2", From: "state_fan_start", To: "state_left"},
			{ID: "t3", From: "state_fan_start", To: "state_right"},
			{ID: "t4", From: "state_left", To: "state_fan_end"},
			{ID: "t5", From: "state_right", To: "state_fan_end"},
			{ID: "t6", From: "state_fan_end", To: "state_done"},
		},
	}
}

// --- Tests ---

func TestBuildLinearJourney(t *testing.T) {
	model, err := Build(linearJourney(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Onboarding", model.Title)
	assert.Len(t, model.Nodes, 4)
	assert.Len(t, model.Edges, 3)
	assert.Empty(t, model.Clusters)

	// Verify node kinds.
	kinds := make(map[string]NodeKind)
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, NodeKindStart, kinds["state_start"])
	assert.Equal(t, NodeKindChat, kinds["state_welcome"])
	assert.Equal(t, NodeKindTool, kinds["state_lookup"])
	assert.Equal(t, NodeKindEnd, kinds["state_done"])

	// One state per level in a linear machine.
	require.Len(t, model.Levels, 4)
	assert.Equal(t, []string{"state_start"}, model.Levels[0])
	assert.Equal(t, []string{"state_done"}, model.Levels[3])
}

func TestBuildBranchingJourney(t *testing.T) {
	model, err := Build(branchingJourney(), nil)
	require.NoError(t, err)

	cond := model.NodeByID("state_decide")
	require.NotNil(t, cond)
	assert.Equal(t, NodeKindCondition, cond.Kind)
	assert.Equal(t, "Decide", cond.Label)

	// Condition expressions become edge labels.
	labels := make(map[string]string)
	for _, e := range model.Edges {
		if e.From == "state_decide" {
			labels[e.To] = e.Label
		}
	}
	assert.Equal(t, `vars.priority == "high"`, labels["state_escalate"])
	assert.Equal(t, `vars.priority != "high"`, labels["state_resolve"])

	// Both branches share a level.
	require.Len(t, model.Levels, 4)
	assert.ElementsMatch(t, []string{"state_escalate", "state_resolve"}, model.Levels[2])
}

func TestBuildLoopJourney(t *testing.T) {
	model, err := Build(loopJourney(), nil)
	require.NoError(t, err)

	assert.Equal(t, NodeKindLoop, model.NodeByID("state_retry_start").Kind)
	assert.Equal(t, NodeKindLoop, model.NodeByID("state_retry_end").Kind)

	// The loop-back transition keeps its event as the label.
	var loopback *Edge
	for i := range model.Edges {
		if model.Edges[i].From == "state_retry_end" && model.Edges[i].To == "state_retry_start" {
			loopback = &model.Edges[i]
		}
	}
	require.NotNil(t, loopback)
	assert.Equal(t, "loop_continue", loopback.Label)

	// Body states cluster under the container, start/end states do not.
	require.Len(t, model.Clusters, 1)
	c := model.Clusters[0]
	assert.Equal(t, "retry", c.ID)
	assert.Equal(t, "Retry", c.Label)
	assert.Equal(t, []string{"state_check"}, c.Nodes)
}

func TestBuildParallelJourney(t *testing.T) {
	model, err := Build(parallelJourney(), nil)
	require.NoError(t, err)

	assert.Equal(t, NodeKindParallel, model.NodeByID("state_fan_start").Kind)
	assert.Equal(t, NodeKindParallel, model.NodeByID("state_fan_end").Kind)

	require.Len(t, model.Clusters, 1)
	assert.Equal(t, "Fan", model.Clusters[0].Label)
	assert.ElementsMatch(t, []string{"state_left", "state_right"}, model.Clusters[0].Nodes)

	// Branches fan out on the same level and rejoin after.
	require.Len(t, model.Levels, 5)
	assert.ElementsMatch(t, []string{"state_left", "state_right"}, model.Levels[2])
	assert.Equal(t, []string{"state_fan_end"}, model.Levels[3])
}

func TestBuildWithStatusOverlay(t *testing.T) {
	steps := []schema.StepResult{
		{StateID: "state_welcome", Status: "success", DurationMs: 150},
		{StateID: "state_lookup", Status: "failed", DurationMs: 300, Error: "connection timeout"},
	}

	model, err := Build(linearJourney(), steps)
	require.NoError(t, err)

	for _, node := range model.Nodes {
		switch node.ID {
		case "state_welcome":
			require.NotNil(t, node.Status)
			assert.Equal(t, "completed", node.Status.Status)
			assert.Equal(t, int64(150), node.Status.DurationMs)
		case "state_lookup":
			require.NotNil(t, node.Status)
			assert.Equal(t, "error", node.Status.Status)
			assert.Equal(t, "connection timeout", node.Status.Error)
		case "state_start", "state_done":
			assert.Nil(t, node.Status)
		}
	}
}

func TestBuildUnreachableStatesGetTrailingLevel(t *testing.T) {
	j := linearJourney()
	j.States = append(j.States, schema.JourneyState{ID: "state_island", Type: schema.StateTypeTool})

	model, err := Build(j, nil)
	require.NoError(t, err)

	last := model.Levels[len(model.Levels)-1]
	assert.Equal(t, []string{"state_island"}, last)
}

func TestBuildLabelFallsBackToID(t *testing.T) {
	j := branchingJourney()
	model, err := Build(j, nil)
	require.NoError(t, err)

	assert.Equal(t, "state_start", model.NodeByID("state_start").Label)
	assert.Equal(t, "Escalate", model.NodeByID("state_escalate").Label)
}

func TestBuildTitleFallsBackToID(t *testing.T) {
	j := linearJourney()
	j.Name = ""
	model, err := Build(j, nil)
	require.NoError(t, err)
	assert.Equal(t, "jn-onboarding", model.Title)
}

func TestBuildNilJourney(t *testing.T) {
	_, err := Build(nil, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestBuildEmptyStates(t *testing.T) {
	_, err := Build(&schema.Journey{ID: "jn-empty"}, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}
