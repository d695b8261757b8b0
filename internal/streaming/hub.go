package streaming

import (
	"context"
	"time"
)

// StreamEvent is a telemetry event emitted across the conversion, state
// sync, and test lifecycles. ID fields identify the entities the event
// concerns; unused ones stay empty.
type StreamEvent struct {
	EventType   string    `json:"event_type"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	JourneyID   string    `json:"journey_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	SuiteID     string    `json:"suite_id,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	WorkflowID  string   `json:"workflow_id,omitempty"`
	JourneyID   string   `json:"journey_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	SuiteID     string   `json:"suite_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for lifecycle telemetry events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// Publish stamps and publishes an event, tolerating a nil hub. Telemetry is
// advisory; publish errors are discarded.
func Publish(ctx context.Context, hub EventHub, event StreamEvent) {
	if hub == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_ = hub.Publish(ctx, event)
}
