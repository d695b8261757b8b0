package store

import (
	"encoding/json"
	"time"

	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

// RunRecord is the header row of a persisted suite run, without the
// per-test payloads.
type RunRecord struct {
	RunID     string        `json:"run_id"`
	SuiteID   string        `json:"suite_id"`
	SuiteName string        `json:"suite_name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  schema.Millis `json:"duration_ms"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	Timeouts  int           `json:"timeouts"`
	Skipped   int           `json:"skipped"`
	PassRate  float64       `json:"pass_rate"`
	CreatedAt time.Time     `json:"created_at"`
}

// TestRecord is one persisted test outcome inside a run. Detail carries
// the full suite.TestResult JSON for consumers that need the comparison.
type TestRecord struct {
	RunID               string           `json:"run_id"`
	TestID              string           `json:"test_id"`
	TestName            string           `json:"test_name,omitempty"`
	Kind                suite.TestKind   `json:"kind,omitempty"`
	Status              suite.TestStatus `json:"status"`
	StartedAt           time.Time        `json:"started_at"`
	Duration            schema.Millis    `json:"duration_ms"`
	WorkflowExecutionID string           `json:"workflow_execution_id,omitempty"`
	JourneyExecutionID  string           `json:"journey_execution_id,omitempty"`
	Score               float64          `json:"score"`
	Error               string           `json:"error,omitempty"`
	Detail              json.RawMessage  `json:"detail,omitempty"`
}

// RunEvent is an immutable entry in a run's append-only event log.
// Sequence is monotonic per run, starting at 1.
type RunEvent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"event_type"`
	TestID    string          `json:"test_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Schedule is a cron-triggered suite verification.
type Schedule struct {
	ID             string     `json:"id"`
	SuiteName      string     `json:"suite_name"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// GraphFilter specifies criteria for listing workflows or journeys.
type GraphFilter struct {
	Name   string     `json:"name,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing suite runs.
type RunFilter struct {
	SuiteName string     `json:"suite_name,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// TestFilter specifies criteria for listing test results.
type TestFilter struct {
	RunID  string           `json:"run_id,omitempty"`
	Status suite.TestStatus `json:"status,omitempty"`
	Kind   suite.TestKind   `json:"kind,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// RunEventFilter specifies criteria for listing run events by type.
type RunEventFilter struct {
	RunID  string     `json:"run_id,omitempty"`
	TestID string     `json:"test_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	CronExpression string     `json:"cron_expression,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	SuiteName string `json:"suite_name,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
