package statesync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

// DefaultSnapshotLimit bounds per-execution snapshot history.
const DefaultSnapshotLimit = 50

// DefaultProgressTolerance is the allowed progress-percentage drift between
// the two executions before the consistency check flags it.
const DefaultProgressTolerance = 5.0

// Config tunes the state layer.
type Config struct {
	// LockTTL is the advisory lock expiry; zero means DefaultLockTTL.
	LockTTL time.Duration
	// SnapshotLimit caps snapshots kept per execution (FIFO eviction);
	// zero means DefaultSnapshotLimit.
	SnapshotLimit int
	// SyncEnabled queues each variable update for counterpart propagation.
	SyncEnabled bool
	// ValidateTypes warns when a variable update changes the value's type.
	ValidateTypes bool
	// ConflictPolicy resolves variables that differ on both sides during
	// synchronization; empty means PolicyWorkflowWins.
	ConflictPolicy ConflictPolicy
	// ProgressTolerance is the consistency drift allowance in percentage
	// points; zero means DefaultProgressTolerance.
	ProgressTolerance float64
}

func DefaultConfig() Config {
	return Config{
		LockTTL:           DefaultLockTTL,
		SnapshotLimit:     DefaultSnapshotLimit,
		SyncEnabled:       true,
		ValidateTypes:     true,
		ConflictPolicy:    PolicyWorkflowWins,
		ProgressTolerance: DefaultProgressTolerance,
	}
}

// StateUpdate is one variable write queued for counterpart propagation.
type StateUpdate struct {
	ExecutionID string    `json:"execution_id"`
	Variable    string    `json:"variable"`
	Value       any       `json:"value"`
	Source      string    `json:"source,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
}

// Layer tracks one ExecutionState per execution id and synchronizes paired
// workflow/journey executions. All shared state lives in per-execution maps
// guarded by the layer mutex plus the advisory lock table.
type Layer struct {
	cfg    Config
	hub    streaming.EventHub
	logger *slog.Logger
	locks  *lockTable
	now    func() time.Time

	mu        sync.RWMutex
	states    map[string]*ExecutionState
	snapshots map[string][]*Snapshot
	pending   map[string][]StateUpdate
}

// NewLayer creates a state layer. hub may be nil (telemetry off), logger
// nil falls back to slog.Default().
func NewLayer(cfg Config, hub streaming.EventHub, logger *slog.Logger) *Layer {
	if cfg.SnapshotLimit <= 0 {
		cfg.SnapshotLimit = DefaultSnapshotLimit
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = PolicyWorkflowWins
	}
	if cfg.ProgressTolerance <= 0 {
		cfg.ProgressTolerance = DefaultProgressTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	return &Layer{
		cfg:       cfg,
		hub:       hub,
		logger:    logger,
		locks:     newLockTable(cfg.LockTTL, now),
		now:       now,
		states:    make(map[string]*ExecutionState),
		snapshots: make(map[string][]*Snapshot),
		pending:   make(map[string][]StateUpdate),
	}
}

// InitializeState registers a fresh ExecutionState for the execution id.
// State is never created implicitly: every other operation requires a prior
// InitializeState and fails with a not-found error otherwise.
func (l *Layer) InitializeState(ctx context.Context, executionID string, mode schema.ExecutionMode, seed map[string]any) (*ExecutionState, error) {
	if executionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}

	l.mu.Lock()
	if _, exists := l.states[executionID]; exists {
		l.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeAlreadyExists,
			"state already initialized for execution %s", executionID).WithEntity(executionID)
	}
	state := newExecutionState(executionID, mode, seed, l.now().UTC())
	l.states[executionID] = state
	l.mu.Unlock()

	l.logger.Info("execution state initialized",
		slog.String("execution_id", executionID),
		slog.String("mode", string(mode)),
		slog.Int("seed_variables", len(seed)),
	)
	streaming.Publish(ctx, l.hub, streaming.StreamEvent{
		EventType:   schema.EventStateInitialized,
		ExecutionID: executionID,
		Payload:     map[string]any{"mode": string(mode), "variables": len(seed)},
	})
	return state.clone(), nil
}

// State returns an isolated copy of the execution's current state.
func (l *Layer) State(executionID string) (*ExecutionState, error) {
	l.mu.RLock()
	state, ok := l.states[executionID]
	l.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}
	return state.clone(), nil
}

// UpdateVariable writes a variable behind the advisory lock
// `variable:<name>`. A live lock held by another execution rejects the
// update immediately; the lock then stays with this execution until it
// expires or CleanupExecution releases it. A type change against the prior
// value is reported as a warning, never a failure.
func (l *Layer) UpdateVariable(ctx context.Context, executionID, name string, value any, source string) (*VariableState, []string, error) {
	if name == "" {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "variable name is required")
	}

	l.mu.Lock()
	state, ok := l.states[executionID]
	if !ok {
		l.mu.Unlock()
		return nil, nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}

	if err := l.locks.Acquire(lockKey(name), executionID); err != nil {
		l.mu.Unlock()
		return nil, nil, err
	}

	var warnings []string
	now := l.now().UTC()
	next := &VariableState{
		Name:        name,
		Value:       schema.DeepCopyValue(value),
		Type:        valueType(value),
		LastUpdated: now,
		UpdatedBy:   source,
		Version:     1,
	}
	if prev, exists := state.Variables[name]; exists {
		next.Version = prev.Version + 1
		next.Scope = prev.Scope
		if l.cfg.ValidateTypes && prev.Type != next.Type {
			warnings = append(warnings, fmt.Sprintf(
				"variable %q changed type from %s to %s", name, prev.Type, next.Type))
		}
	}
	state.Variables[name] = next
	state.UpdatedAt = now

	if l.cfg.SyncEnabled {
		l.pending[executionID] = append(l.pending[executionID], StateUpdate{
			ExecutionID: executionID,
			Variable:    name,
			Value:       schema.DeepCopyValue(value),
			Source:      source,
			QueuedAt:    now,
		})
	}
	l.mu.Unlock()

	for _, w := range warnings {
		l.logger.Warn("variable type changed",
			slog.String("execution_id", executionID),
			slog.String("variable", name),
			slog.String("detail", w),
		)
	}
	streaming.Publish(ctx, l.hub, streaming.StreamEvent{
		EventType:   schema.EventVariableUpdated,
		ExecutionID: executionID,
		Payload:     map[string]any{"variable": name, "version": next.Version},
	})
	return next.clone(), warnings, nil
}

// ContextUpdate carries optional context mutations. Zero-value fields are
// skipped, so callers set only what changed.
type ContextUpdate struct {
	Messages     []schema.ConversationMessage
	Tools        []string
	CurrentNode  string
	CurrentState string
	Metadata     map[string]any
}

// UpdateContext appends conversation history, registers active tools, and
// moves the tracked node/state position of an execution.
func (l *Layer) UpdateContext(executionID string, update ContextUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[executionID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}
	c := state.Context
	if c == nil {
		c = &ExecutionContext{}
		state.Context = c
	}

	c.History = append(c.History, update.Messages...)
	for _, tool := range update.Tools {
		if !slices.Contains(c.ActiveTools, tool) {
			c.ActiveTools = append(c.ActiveTools, tool)
		}
	}
	if update.CurrentNode != "" {
		c.CurrentNode = update.CurrentNode
	}
	if update.CurrentState != "" {
		c.CurrentState = update.CurrentState
	}
	for key, value := range update.Metadata {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, len(update.Metadata))
		}
		c.Metadata[key] = schema.DeepCopyValue(value)
	}
	state.UpdatedAt = l.now().UTC()
	return nil
}

// UpdateProgress records how far the execution has advanced and recomputes
// the completion percentage.
func (l *Layer) UpdateProgress(executionID string, completed, total int, phase string) error {
	if completed < 0 || total < 0 || (total > 0 && completed > total) {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid progress %d/%d", completed, total)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[executionID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}
	p := state.Progress
	if p == nil {
		p = &ExecutionProgress{}
		state.Progress = p
	}
	p.CompletedSteps = completed
	p.TotalSteps = total
	if total > 0 {
		p.Percentage = float64(completed) / float64(total) * 100
	} else {
		p.Percentage = 0
	}
	if phase != "" {
		p.Phase = phase
	}
	state.UpdatedAt = l.now().UTC()
	return nil
}

// TouchSession marks session activity and shallow-merges temporary data.
func (l *Layer) TouchSession(executionID string, temporary map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[executionID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}
	now := l.now().UTC()
	s := state.Session
	if s == nil {
		s = &SessionState{ID: executionID, StartedAt: now}
		state.Session = s
	}
	s.LastActivity = now
	for key, value := range temporary {
		if s.Temporary == nil {
			s.Temporary = make(map[string]any, len(temporary))
		}
		s.Temporary[key] = schema.DeepCopyValue(value)
	}
	state.UpdatedAt = now
	return nil
}

// PendingUpdates returns the queued, not-yet-propagated updates for an
// execution. Synchronization drains the source side's queue.
func (l *Layer) PendingUpdates(executionID string) []StateUpdate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]StateUpdate(nil), l.pending[executionID]...)
}

// CleanupExecution releases every advisory lock the execution holds, then
// drops its state, snapshots, and pending updates. Idempotent and safe
// after a partially failed initialization.
func (l *Layer) CleanupExecution(ctx context.Context, executionID string) {
	released := l.locks.ReleaseAll(executionID)

	l.mu.Lock()
	_, existed := l.states[executionID]
	delete(l.states, executionID)
	delete(l.snapshots, executionID)
	delete(l.pending, executionID)
	l.mu.Unlock()

	if !existed && released == 0 {
		return
	}
	l.logger.Info("execution state cleaned",
		slog.String("execution_id", executionID),
		slog.Int("locks_released", released),
	)
	streaming.Publish(ctx, l.hub, streaming.StreamEvent{
		EventType:   schema.EventStateCleaned,
		ExecutionID: executionID,
		Payload:     map[string]any{"locks_released": released},
	})
}

func lockKey(variable string) string {
	return "variable:" + variable
}
