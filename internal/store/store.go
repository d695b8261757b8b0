package store

import (
	"context"

	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows (source graphs)
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter GraphFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Journeys (converted graphs)
	SaveJourney(ctx context.Context, j *schema.Journey) error
	GetJourney(ctx context.Context, id string) (*schema.Journey, error)
	JourneyForWorkflow(ctx context.Context, workflowID string) (*schema.Journey, error)
	ListJourneys(ctx context.Context, filter GraphFilter) ([]*schema.Journey, error)
	DeleteJourney(ctx context.Context, id string) error

	// Suites
	SaveSuite(ctx context.Context, ts *suite.TestSuite) error
	GetSuite(ctx context.Context, name string) (*suite.TestSuite, error)
	ListSuites(ctx context.Context) ([]string, error)
	DeleteSuite(ctx context.Context, name string) error

	// Suite runs (immutable once written)
	SaveSuiteRun(ctx context.Context, result *suite.SuiteResult) error
	GetSuiteRun(ctx context.Context, runID string) (*suite.SuiteResult, error)
	ListSuiteRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	ListTestResults(ctx context.Context, filter TestFilter) ([]*TestRecord, error)

	// Run events (append-only)
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
