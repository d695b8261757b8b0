// Package suite orchestrates compatibility test runs: registered suites
// of tests that execute a workflow and its journey counterpart side by
// side, compare the outcomes, and reduce everything to per-test pass or
// fail results.
package suite

import (
	"sort"
	"strings"
	"sync"

	"github.com/tandemlab/tandem/pkg/schema"
)

// TestKind labels what aspect of compatibility a test exercises.
type TestKind string

const (
	KindBasicExecution   TestKind = "basic_execution"
	KindOutputComparison TestKind = "output_comparison"
	KindSideEffects      TestKind = "side_effects"
	KindStateSync        TestKind = "state_sync"
	KindIntegration      TestKind = "integration"
	KindErrorHandling    TestKind = "error_handling"
	KindPerformance      TestKind = "performance"
)

// DefaultTestTimeout applies when neither the test nor the suite sets a
// per-test deadline.
const DefaultTestTimeout = schema.Millis(30_000)

// Config tunes how a suite runs.
type Config struct {
	// MaxConcurrentTests bounds parallelism; values <= 1 run tests
	// serially in declaration order.
	MaxConcurrentTests int `json:"max_concurrent_tests,omitempty"`
	// TestTimeout is the per-test deadline for tests that set none;
	// zero means DefaultTestTimeout.
	TestTimeout schema.Millis `json:"test_timeout,omitempty"`
	// FailFast stops scheduling further tests after the first one that
	// does not pass. Tests already running finish; the rest are skipped.
	FailFast bool `json:"fail_fast,omitempty"`
	// CaptureIntegrations compares recorded side effects on every test.
	CaptureIntegrations bool `json:"capture_integrations,omitempty"`
}

// TestSuite is a named collection of compatibility tests.
type TestSuite struct {
	ID          string              `json:"id,omitempty"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Tests       []CompatibilityTest `json:"tests"`
	Config      Config              `json:"config"`
}

// CompatibilityTest describes one workflow/journey comparison run.
type CompatibilityTest struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Kind       TestKind `json:"kind,omitempty"`
	WorkflowID string   `json:"workflow_id"`
	// JourneyID names a pre-converted journey. Empty means the workflow
	// graph is converted on the fly for this test.
	JourneyID  string           `json:"journey_id,omitempty"`
	Input      map[string]any   `json:"input,omitempty"`
	Expect     ExpectedBehavior `json:"expect,omitempty"`
	Assertions []Assertion      `json:"assertions,omitempty"`
	// Timeout overrides the suite-level test timeout.
	Timeout schema.Millis `json:"timeout,omitempty"`
	Tags    []string      `json:"tags,omitempty"`
}

// ExpectedBehavior states what must hold across the two execution
// results for a test to pass.
type ExpectedBehavior struct {
	// MatchPaths are GoJQ expressions whose extracted values must be
	// equal on both results. Tolerances allows a per-path absolute
	// delta when both values are numeric.
	MatchPaths []string           `json:"match_paths,omitempty"`
	Tolerances map[string]float64 `json:"tolerances,omitempty"`
	// DifferPaths are GoJQ expressions whose extracted values must NOT
	// be equal; identical values are a violation.
	DifferPaths []string `json:"differ_paths,omitempty"`
	// AllowedDiffs lists comparison difference kinds that never fail
	// the test, whatever their severity.
	AllowedDiffs []schema.DiffKind `json:"allowed_diffs,omitempty"`
	// ExpectedStatus, when set, must match the canonical status of
	// both results.
	ExpectedStatus string `json:"expected_status,omitempty"`
}

// AssertionKind selects the check an assertion performs.
type AssertionKind string

const (
	AssertEquals      AssertionKind = "equals"
	AssertContains    AssertionKind = "contains"
	AssertMatches     AssertionKind = "matches"
	AssertPerformance AssertionKind = "performance"
	AssertSideEffects AssertionKind = "side_effects"
)

// AssertionTarget picks which execution result an assertion reads.
type AssertionTarget string

const (
	TargetWorkflow AssertionTarget = "workflow"
	TargetJourney  AssertionTarget = "journey"
)

// DefaultPerformanceTolerance is the duration delta a performance
// assertion allows when the assertion sets none.
const DefaultPerformanceTolerance = schema.Millis(1000)

// Assertion is a single check against an execution result. Path-based
// kinds (equals, contains, matches) extract their value with a GoJQ
// expression from the target result; performance and side_effects read
// the run as a whole and ignore Path and Target.
type Assertion struct {
	Kind     AssertionKind   `json:"kind"`
	Target   AssertionTarget `json:"target,omitempty"` // default workflow
	Path     string          `json:"path,omitempty"`
	Expected any             `json:"expected,omitempty"`
	Pattern  string          `json:"pattern,omitempty"` // matches only
	// Tolerance is the allowed duration delta for performance checks;
	// zero means DefaultPerformanceTolerance.
	Tolerance schema.Millis `json:"tolerance,omitempty"`
	// Message replaces the generated failure message when set.
	Message string `json:"message,omitempty"`
}

// Registry holds test suites by name.
type Registry struct {
	mu     sync.RWMutex
	suites map[string]*TestSuite
}

// NewRegistry creates an empty suite registry.
func NewRegistry() *Registry {
	return &Registry{suites: make(map[string]*TestSuite)}
}

// Register adds a suite. Registering an already-taken name fails.
func (r *Registry) Register(ts *TestSuite) error {
	if err := validateSuite(ts); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.suites[ts.Name]; ok {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "suite %q is already registered", ts.Name).WithEntity(ts.Name)
	}
	r.suites[ts.Name] = ts
	return nil
}

// Suite returns the registered suite with the given name.
func (r *Registry) Suite(name string) (*TestSuite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.suites[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "suite %q is not registered", name).WithEntity(name)
	}
	return ts, nil
}

// Names lists the registered suite names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.suites))
	for name := range r.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove drops a suite. Removing an unknown name is a no-op.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.suites, name)
}

func validateSuite(ts *TestSuite) error {
	if ts == nil || strings.TrimSpace(ts.Name) == "" {
		return schema.NewError(schema.ErrCodeValidation, "suite name is required")
	}
	seen := make(map[string]struct{}, len(ts.Tests))
	for i := range ts.Tests {
		t := &ts.Tests[i]
		if strings.TrimSpace(t.ID) == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "test at index %d has no id", i).WithEntity(ts.Name)
		}
		if _, dup := seen[t.ID]; dup {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate test id %q", t.ID).WithEntity(ts.Name)
		}
		seen[t.ID] = struct{}{}
		if strings.TrimSpace(t.WorkflowID) == "" {
			return schema.NewErrorf(schema.ErrCodeValidation, "test %q names no workflow", t.ID).WithEntity(ts.Name)
		}
	}
	return nil
}
