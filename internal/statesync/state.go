// Package statesync tracks runtime execution state for workflow and journey
// runs of the same logical process and keeps the two sides convergent:
// variable updates behind advisory locks, directional state synchronization,
// read-only consistency scoring, and restorable snapshots.
package statesync

import (
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// VariableState is one tracked variable with its update provenance.
type VariableState struct {
	Name        string    `json:"name"`
	Value       any       `json:"value"`
	Type        string    `json:"type"`
	Scope       string    `json:"scope,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	Version     int       `json:"version"`
}

// ExecutionContext is the conversational and positional context of a run.
// CurrentNode tracks the workflow-side position, CurrentState the journey
// side; synchronization fills in the counterpart view.
type ExecutionContext struct {
	History      []schema.ConversationMessage `json:"history,omitempty"`
	ActiveTools  []string                     `json:"active_tools,omitempty"`
	CurrentNode  string                       `json:"current_node,omitempty"`
	CurrentState string                       `json:"current_state,omitempty"`
	Metadata     map[string]any               `json:"metadata,omitempty"`
}

// ExecutionProgress tracks how far a run has advanced.
type ExecutionProgress struct {
	CompletedSteps int     `json:"completed_steps"`
	TotalSteps     int     `json:"total_steps"`
	Percentage     float64 `json:"percentage"`
	Phase          string  `json:"phase,omitempty"`
}

// SessionState is the per-run session envelope.
type SessionState struct {
	ID           string         `json:"id"`
	StartedAt    time.Time      `json:"started_at"`
	LastActivity time.Time      `json:"last_activity"`
	Temporary    map[string]any `json:"temporary,omitempty"`
}

// ExecutionState is the full tracked state of one execution. One instance
// exists per execution id between InitializeState and CleanupExecution.
type ExecutionState struct {
	ExecutionID string                    `json:"execution_id"`
	Mode        schema.ExecutionMode      `json:"mode"`
	Variables   map[string]*VariableState `json:"variables"`
	Context     *ExecutionContext         `json:"context"`
	Progress    *ExecutionProgress        `json:"progress"`
	Session     *SessionState             `json:"session"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

func newExecutionState(executionID string, mode schema.ExecutionMode, seed map[string]any, now time.Time) *ExecutionState {
	vars := make(map[string]*VariableState, len(seed))
	for name, value := range seed {
		vars[name] = &VariableState{
			Name:        name,
			Value:       schema.DeepCopyValue(value),
			Type:        valueType(value),
			LastUpdated: now,
			UpdatedBy:   "seed",
			Version:     1,
		}
	}
	return &ExecutionState{
		ExecutionID: executionID,
		Mode:        mode,
		Variables:   vars,
		Context:     &ExecutionContext{},
		Progress:    &ExecutionProgress{},
		Session: &SessionState{
			ID:           executionID,
			StartedAt:    now,
			LastActivity: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// clone deep-copies the state so callers and snapshots never alias live data.
func (s *ExecutionState) clone() *ExecutionState {
	if s == nil {
		return nil
	}
	cp := &ExecutionState{
		ExecutionID: s.ExecutionID,
		Mode:        s.Mode,
		Variables:   make(map[string]*VariableState, len(s.Variables)),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	for name, v := range s.Variables {
		cp.Variables[name] = v.clone()
	}
	if s.Context != nil {
		cp.Context = &ExecutionContext{
			History:      append([]schema.ConversationMessage(nil), s.Context.History...),
			ActiveTools:  append([]string(nil), s.Context.ActiveTools...),
			CurrentNode:  s.Context.CurrentNode,
			CurrentState: s.Context.CurrentState,
			Metadata:     schema.DeepCopyMap(s.Context.Metadata),
		}
	}
	if s.Progress != nil {
		p := *s.Progress
		cp.Progress = &p
	}
	if s.Session != nil {
		cp.Session = &SessionState{
			ID:           s.Session.ID,
			StartedAt:    s.Session.StartedAt,
			LastActivity: s.Session.LastActivity,
			Temporary:    schema.DeepCopyMap(s.Session.Temporary),
		}
	}
	return cp
}

func (v *VariableState) clone() *VariableState {
	if v == nil {
		return nil
	}
	cp := *v
	cp.Value = schema.DeepCopyValue(v.Value)
	return &cp
}

// valueType names a value's JSON type for type-consistency checks.
func valueType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int32, int64, float32, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}
