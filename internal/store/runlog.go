package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// RunLog provides event-sourcing operations over the run event trail of
// a LibSQLStore.
type RunLog struct {
	store *LibSQLStore
}

// NewRunLog wraps a LibSQLStore to provide event-sourcing operations.
func NewRunLog(s *LibSQLStore) *RunLog {
	return &RunLog{store: s}
}

// Append appends an event with a monotonically increasing per-run sequence.
func (rl *RunLog) Append(ctx context.Context, event *RunEvent) error {
	if event != nil && event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return rl.store.AppendRunEvent(ctx, event)
}

// Events returns events for a run with sequence > since, ordered by sequence ASC.
func (rl *RunLog) Events(ctx context.Context, runID string, since int64) ([]*RunEvent, error) {
	return rl.store.GetRunEvents(ctx, runID, since)
}

// EventsByType returns events of a specific type matching the filter.
func (rl *RunLog) EventsByType(ctx context.Context, eventType string, filter RunEventFilter) ([]*RunEvent, error) {
	return rl.store.GetRunEventsByType(ctx, eventType, filter)
}

// TestReplay is the per-test state reconstructed from a run's event trail.
type TestReplay struct {
	RunID       string     `json:"run_id"`
	TestID      string     `json:"test_id"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// Replay reads the full event trail of a run and reconstructs the per-test
// states. Returns an error if sequence gaps are detected.
func (rl *RunLog) Replay(ctx context.Context, runID string) (map[string]*TestReplay, error) {
	events, err := rl.store.GetRunEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	return ReplayRunEvents(runID, events)
}

// ReplayRunEvents folds an ordered event trail into per-test states. The
// trail must be gap-free: sequences run 1..n or the replay is rejected,
// since a gap means the trail was truncated or written out of band.
func ReplayRunEvents(runID string, events []*RunEvent) (map[string]*TestReplay, error) {
	states := make(map[string]*TestReplay)
	if len(events) == 0 {
		return states, nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		if e.TestID == "" {
			continue
		}

		tr, ok := states[e.TestID]
		if !ok {
			tr = &TestReplay{RunID: runID, TestID: e.TestID}
			states[e.TestID] = tr
		}

		switch e.Type {
		case schema.EventTestStarted:
			tr.Status = "running"
			ts := e.Timestamp
			tr.StartedAt = &ts

		case schema.EventTestCompleted:
			ts := e.Timestamp
			tr.CompletedAt = &ts
			var p completionPayload
			if len(e.Payload) > 0 {
				if err := json.Unmarshal(e.Payload, &p); err != nil {
					return nil, fmt.Errorf("decode completion payload for test %s: %w", e.TestID, err)
				}
			}
			if p.Status != "" {
				tr.Status = p.Status
			}
			if p.DurationMs > 0 {
				tr.DurationMs = p.DurationMs
			} else if tr.StartedAt != nil {
				tr.DurationMs = ts.Sub(*tr.StartedAt).Milliseconds()
			}
		}
	}

	return states, nil
}

// completionPayload extracts the typed fields of a test completion event.
type completionPayload struct {
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}
