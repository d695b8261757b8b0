package suite

import (
	"math"
	"time"

	"github.com/tandemlab/tandem/internal/integrations"
	"github.com/tandemlab/tandem/internal/statesync"
	"github.com/tandemlab/tandem/pkg/schema"
)

// TestStatus is the outcome of one test run.
type TestStatus string

const (
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestErrored TestStatus = "error"
	TestTimeout TestStatus = "timeout"
	TestSkipped TestStatus = "skipped"
)

// AssertionResult records one assertion evaluation. Failed assertions
// are results, not errors; a test carries all of them.
type AssertionResult struct {
	Kind     AssertionKind   `json:"kind"`
	Target   AssertionTarget `json:"target,omitempty"`
	Path     string          `json:"path,omitempty"`
	Passed   bool            `json:"passed"`
	Message  string          `json:"message,omitempty"`
	Expected any             `json:"expected,omitempty"`
	Actual   any             `json:"actual,omitempty"`
}

// TestResult is the full outcome of one compatibility test.
type TestResult struct {
	TestID              string                       `json:"test_id"`
	TestName            string                       `json:"test_name,omitempty"`
	Kind                TestKind                     `json:"kind,omitempty"`
	Status              TestStatus                   `json:"status"`
	StartedAt           time.Time                    `json:"started_at,omitempty"`
	Duration            schema.Millis                `json:"duration,omitempty"`
	WorkflowExecutionID string                       `json:"workflow_execution_id,omitempty"`
	JourneyExecutionID  string                       `json:"journey_execution_id,omitempty"`
	Comparison          *schema.ResultComparison     `json:"comparison,omitempty"`
	Integrations        *integrations.Comparison     `json:"integrations,omitempty"`
	Consistency         *statesync.ConsistencyReport `json:"consistency,omitempty"`
	Assertions          []AssertionResult            `json:"assertions,omitempty"`
	// Violations lists expected-behavior checks that did not hold.
	Violations []string `json:"violations,omitempty"`
	Error      string   `json:"error,omitempty"`
	Trace      string   `json:"trace,omitempty"`
}

// SuiteResult aggregates one run of a suite.
type SuiteResult struct {
	SuiteID   string        `json:"suite_id,omitempty"`
	SuiteName string        `json:"suite_name"`
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  schema.Millis `json:"duration"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	Timeouts  int           `json:"timeouts"`
	Skipped   int           `json:"skipped"`
	// PassRate is the percentage of executed (non-skipped) tests that
	// passed. A run with nothing executed reports 100.
	PassRate float64      `json:"pass_rate"`
	Results  []TestResult `json:"results"`
}

// summarize recomputes the counters from the per-test results.
func (r *SuiteResult) summarize() {
	r.Total = len(r.Results)
	r.Passed, r.Failed, r.Errors, r.Timeouts, r.Skipped = 0, 0, 0, 0, 0
	for i := range r.Results {
		switch r.Results[i].Status {
		case TestPassed:
			r.Passed++
		case TestFailed:
			r.Failed++
		case TestErrored:
			r.Errors++
		case TestTimeout:
			r.Timeouts++
		case TestSkipped:
			r.Skipped++
		}
	}
	executed := r.Total - r.Skipped
	if executed <= 0 {
		r.PassRate = 100
		return
	}
	r.PassRate = round2(100 * float64(r.Passed) / float64(executed))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
