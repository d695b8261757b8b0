package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

// SyncDirection selects which execution receives updates. The source side
// is never mutated; run both directions back to back for full convergence.
type SyncDirection string

const (
	DirectionWorkflowToJourney SyncDirection = "workflow_to_journey"
	DirectionJourneyToWorkflow SyncDirection = "journey_to_workflow"
)

// ConflictPolicy resolves variables holding different values on both sides.
type ConflictPolicy string

const (
	// PolicyWorkflowWins overwrites the journey value with the workflow's.
	PolicyWorkflowWins ConflictPolicy = "workflow_wins"
	// PolicyJourneyWins overwrites the workflow value with the journey's.
	PolicyJourneyWins ConflictPolicy = "journey_wins"
	// PolicyMerge keeps whichever value was updated later.
	PolicyMerge ConflictPolicy = "merge"
	// PolicyError records an unresolved conflict and touches neither side.
	PolicyError ConflictPolicy = "error"
)

// Change kinds recorded in a SyncResult.
const (
	ChangeVariableAdded   = "variable_added"
	ChangeVariableUpdated = "variable_updated"
	ChangeContextMerged   = "context_merged"
	ChangeProgressMerged  = "progress_merged"
	ChangeSessionMerged   = "session_merged"
)

// SyncChange is one applied state mutation.
type SyncChange struct {
	Kind     string `json:"kind"`
	Target   string `json:"target"`
	Variable string `json:"variable,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// SyncConflict is a variable left divergent under PolicyError.
type SyncConflict struct {
	Variable      string         `json:"variable"`
	WorkflowValue any            `json:"workflow_value"`
	JourneyValue  any            `json:"journey_value"`
	Policy        ConflictPolicy `json:"policy"`
}

// SyncResult reports one synchronization run. Synchronization is
// non-transactional: a stage failure leaves earlier stages applied and is
// surfaced through Errors and Synchronized=false, never rolled back.
type SyncResult struct {
	Synchronized        bool           `json:"synchronized"`
	Direction           SyncDirection  `json:"direction"`
	Policy              ConflictPolicy `json:"policy"`
	WorkflowExecutionID string         `json:"workflow_execution_id"`
	JourneyExecutionID  string         `json:"journey_execution_id"`
	Changes             []SyncChange   `json:"changes,omitempty"`
	Conflicts           []SyncConflict `json:"conflicts,omitempty"`
	Errors              []string       `json:"errors,omitempty"`
}

// SynchronizeStates merges the source execution's state into the target
// per the configured conflict policy. Variables present only on the source
// are copied across; conflicting values resolve per policy; context,
// progress, and session merge with fixed rules. The source side's pending
// update queue is drained on a clean run.
func (l *Layer) SynchronizeStates(ctx context.Context, workflowExecID, journeyExecID string, direction SyncDirection) (*SyncResult, error) {
	if direction != DirectionWorkflowToJourney && direction != DirectionJourneyToWorkflow {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown sync direction %q", direction)
	}

	l.mu.Lock()
	workflow, ok := l.states[workflowExecID]
	if !ok {
		l.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", workflowExecID).WithEntity(workflowExecID)
	}
	journey, ok := l.states[journeyExecID]
	if !ok {
		l.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", journeyExecID).WithEntity(journeyExecID)
	}

	source, target := workflow, journey
	if direction == DirectionJourneyToWorkflow {
		source, target = journey, workflow
	}

	result := &SyncResult{
		Direction:           direction,
		Policy:              l.cfg.ConflictPolicy,
		WorkflowExecutionID: workflowExecID,
		JourneyExecutionID:  journeyExecID,
	}

	l.syncStage(result, "variables", func() {
		l.mergeVariables(result, source, target, source == workflow)
	})
	l.syncStage(result, "context", func() {
		mergeContext(result, source, target, direction)
	})
	l.syncStage(result, "progress", func() {
		mergeProgress(result, source, target)
	})
	l.syncStage(result, "session", func() {
		mergeSession(result, source, target)
	})

	result.Synchronized = len(result.Errors) == 0
	if result.Synchronized {
		target.UpdatedAt = l.now().UTC()
		delete(l.pending, source.ExecutionID)
	}
	l.mu.Unlock()

	l.logger.Info("states synchronized",
		slog.String("workflow_execution_id", workflowExecID),
		slog.String("journey_execution_id", journeyExecID),
		slog.String("direction", string(direction)),
		slog.Int("changes", len(result.Changes)),
		slog.Int("conflicts", len(result.Conflicts)),
		slog.Bool("synchronized", result.Synchronized),
	)
	for _, c := range result.Conflicts {
		streaming.Publish(ctx, l.hub, streaming.StreamEvent{
			EventType:   schema.EventStateConflict,
			ExecutionID: target.ExecutionID,
			Payload:     map[string]any{"variable": c.Variable, "policy": string(c.Policy)},
		})
	}
	streaming.Publish(ctx, l.hub, streaming.StreamEvent{
		EventType:   schema.EventStateSynchronized,
		ExecutionID: target.ExecutionID,
		Payload: map[string]any{
			"workflow_execution_id": workflowExecID,
			"journey_execution_id":  journeyExecID,
			"direction":             string(direction),
			"changes":               len(result.Changes),
			"conflicts":             len(result.Conflicts),
			"synchronized":          result.Synchronized,
		},
	})
	return result, nil
}

// syncStage isolates one merge stage so a panic surfaces as a recorded
// error on the result instead of aborting the sync or unwinding applied
// stages.
func (l *Layer) syncStage(result *SyncResult, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s stage failed: %v", name, r))
			l.logger.Error("sync stage failed",
				slog.String("stage", name),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

func (l *Layer) mergeVariables(result *SyncResult, source, target *ExecutionState, sourceIsWorkflow bool) {
	names := make([]string, 0, len(source.Variables))
	for name := range source.Variables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sv := source.Variables[name]
		tv, exists := target.Variables[name]
		if !exists {
			target.Variables[name] = sv.clone()
			result.Changes = append(result.Changes, SyncChange{
				Kind:     ChangeVariableAdded,
				Target:   target.ExecutionID,
				Variable: name,
			})
			continue
		}
		if reflect.DeepEqual(sv.Value, tv.Value) {
			continue
		}

		overwrite := false
		switch l.cfg.ConflictPolicy {
		case PolicyWorkflowWins:
			overwrite = sourceIsWorkflow
		case PolicyJourneyWins:
			overwrite = !sourceIsWorkflow
		case PolicyMerge:
			overwrite = sv.LastUpdated.After(tv.LastUpdated)
		case PolicyError:
			wfValue, jnValue := sv.Value, tv.Value
			if !sourceIsWorkflow {
				wfValue, jnValue = tv.Value, sv.Value
			}
			result.Conflicts = append(result.Conflicts, SyncConflict{
				Variable:      name,
				WorkflowValue: schema.DeepCopyValue(wfValue),
				JourneyValue:  schema.DeepCopyValue(jnValue),
				Policy:        PolicyError,
			})
			continue
		}
		if !overwrite {
			continue
		}

		merged := sv.clone()
		merged.Version = tv.Version + 1
		merged.UpdatedBy = "sync"
		target.Variables[name] = merged
		result.Changes = append(result.Changes, SyncChange{
			Kind:     ChangeVariableUpdated,
			Target:   target.ExecutionID,
			Variable: name,
		})
	}
}

// mergeContext applies the fixed context rules: conversation history is
// journey-authoritative and only flows on journey→workflow sync, active
// tools union by name, and the current node/state position cross-maps so
// each side sees where the other stands.
func mergeContext(result *SyncResult, source, target *ExecutionState, direction SyncDirection) {
	if source.Context == nil {
		return
	}
	if target.Context == nil {
		target.Context = &ExecutionContext{}
	}
	src, dst := source.Context, target.Context
	var details []string

	if direction == DirectionJourneyToWorkflow && !slices.Equal(src.History, dst.History) {
		dst.History = append([]schema.ConversationMessage(nil), src.History...)
		details = append(details, "history")
	}

	seen := make(map[string]struct{}, len(dst.ActiveTools))
	for _, tool := range dst.ActiveTools {
		seen[tool] = struct{}{}
	}
	added := false
	for _, tool := range src.ActiveTools {
		if _, ok := seen[tool]; ok {
			continue
		}
		dst.ActiveTools = append(dst.ActiveTools, tool)
		seen[tool] = struct{}{}
		added = true
	}
	if added {
		details = append(details, "active_tools")
	}

	if direction == DirectionWorkflowToJourney {
		if src.CurrentNode != "" && dst.CurrentNode != src.CurrentNode {
			dst.CurrentNode = src.CurrentNode
			details = append(details, "current_node")
		}
	} else if src.CurrentState != "" && dst.CurrentState != src.CurrentState {
		dst.CurrentState = src.CurrentState
		details = append(details, "current_state")
	}

	metaAdded := false
	for key, value := range src.Metadata {
		if _, ok := dst.Metadata[key]; ok {
			continue
		}
		if dst.Metadata == nil {
			dst.Metadata = make(map[string]any, len(src.Metadata))
		}
		dst.Metadata[key] = schema.DeepCopyValue(value)
		metaAdded = true
	}
	if metaAdded {
		details = append(details, "metadata")
	}

	if len(details) > 0 {
		result.Changes = append(result.Changes, SyncChange{
			Kind:   ChangeContextMerged,
			Target: target.ExecutionID,
			Detail: strings.Join(details, ", "),
		})
	}
}

// mergeProgress advances the target to the furthest observed position and
// recomputes its percentage.
func mergeProgress(result *SyncResult, source, target *ExecutionState) {
	if source.Progress == nil {
		return
	}
	if target.Progress == nil {
		target.Progress = &ExecutionProgress{}
	}
	src, dst := source.Progress, target.Progress
	before := *dst

	if src.CompletedSteps > dst.CompletedSteps {
		dst.CompletedSteps = src.CompletedSteps
	}
	if src.TotalSteps > dst.TotalSteps {
		dst.TotalSteps = src.TotalSteps
	}
	if dst.TotalSteps > 0 {
		dst.Percentage = float64(dst.CompletedSteps) / float64(dst.TotalSteps) * 100
	}
	if dst.Phase == "" {
		dst.Phase = src.Phase
	}

	if *dst != before {
		result.Changes = append(result.Changes, SyncChange{
			Kind:   ChangeProgressMerged,
			Target: target.ExecutionID,
			Detail: fmt.Sprintf("completed %d/%d", dst.CompletedSteps, dst.TotalSteps),
		})
	}
}

// mergeSession takes the later lastActivity and shallow-merges temporary
// data, source values winning per key.
func mergeSession(result *SyncResult, source, target *ExecutionState) {
	if source.Session == nil {
		return
	}
	if target.Session == nil {
		target.Session = &SessionState{ID: target.ExecutionID}
	}
	src, dst := source.Session, target.Session
	var details []string

	if src.LastActivity.After(dst.LastActivity) {
		dst.LastActivity = src.LastActivity
		details = append(details, "last_activity")
	}

	merged := false
	for key, value := range src.Temporary {
		if existing, ok := dst.Temporary[key]; ok && reflect.DeepEqual(existing, value) {
			continue
		}
		if dst.Temporary == nil {
			dst.Temporary = make(map[string]any, len(src.Temporary))
		}
		dst.Temporary[key] = schema.DeepCopyValue(value)
		merged = true
	}
	if merged {
		details = append(details, "temporary")
	}

	if len(details) > 0 {
		result.Changes = append(result.Changes, SyncChange{
			Kind:   ChangeSessionMerged,
			Target: target.ExecutionID,
			Detail: strings.Join(details, ", "),
		})
	}
}
