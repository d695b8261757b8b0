package statesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

// Snapshot is a frozen deep copy of an execution's state at one moment.
type Snapshot struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Reason      string          `json:"reason"`
	TakenAt     time.Time       `json:"taken_at"`
	State       *ExecutionState `json:"state"`
}

// TakeSnapshot freezes the execution's current state under a reason tag.
// History is FIFO-bounded per execution: when the configured limit is
// reached the oldest snapshot is dropped.
func (l *Layer) TakeSnapshot(ctx context.Context, executionID, reason string) (*Snapshot, error) {
	l.mu.Lock()
	state, ok := l.states[executionID]
	if !ok {
		l.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}

	snap := &Snapshot{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		Reason:      reason,
		TakenAt:     l.now().UTC(),
		State:       state.clone(),
	}
	history := append(l.snapshots[executionID], snap)
	if len(history) > l.cfg.SnapshotLimit {
		history = history[len(history)-l.cfg.SnapshotLimit:]
	}
	l.snapshots[executionID] = history
	l.mu.Unlock()

	l.logger.Debug("snapshot taken",
		slog.String("execution_id", executionID),
		slog.String("snapshot_id", snap.ID),
		slog.String("reason", reason),
	)
	streaming.Publish(ctx, l.hub, streaming.StreamEvent{
		EventType:   schema.EventSnapshotCreated,
		ExecutionID: executionID,
		Payload:     map[string]any{"snapshot_id": snap.ID, "reason": reason},
	})
	return snap, nil
}

// Snapshots lists the execution's retained snapshots, oldest first.
func (l *Layer) Snapshots(executionID string) []*Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Snapshot(nil), l.snapshots[executionID]...)
}

// RestoreSnapshot replaces the execution's live state with a copy of the
// identified snapshot. The snapshot itself stays retained, so the same
// point can be restored again.
func (l *Layer) RestoreSnapshot(ctx context.Context, executionID, snapshotID string) (*ExecutionState, error) {
	l.mu.Lock()
	if _, ok := l.states[executionID]; !ok {
		l.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", executionID).WithEntity(executionID)
	}

	var snap *Snapshot
	for _, s := range l.snapshots[executionID] {
		if s.ID == snapshotID {
			snap = s
			break
		}
	}
	if snap == nil {
		l.mu.Unlock()
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no snapshot %s for execution %s", snapshotID, executionID).WithEntity(executionID)
	}

	restored := snap.State.clone()
	restored.UpdatedAt = l.now().UTC()
	l.states[executionID] = restored
	l.mu.Unlock()

	l.logger.Info("snapshot restored",
		slog.String("execution_id", executionID),
		slog.String("snapshot_id", snapshotID),
	)
	streaming.Publish(ctx, l.hub, streaming.StreamEvent{
		EventType:   schema.EventSnapshotRestored,
		ExecutionID: executionID,
		Payload:     map[string]any{"snapshot_id": snapshotID, "reason": snap.Reason},
	})
	return restored.clone(), nil
}
