package suite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/tandemlab/tandem/internal/compat"
	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/expressions"
	"github.com/tandemlab/tandem/internal/integrations"
	"github.com/tandemlab/tandem/internal/statesync"
	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

// WorkflowSource loads workflow graphs.
type WorkflowSource interface {
	Workflow(ctx context.Context, id string) (*schema.Workflow, error)
}

// JourneySource loads pre-converted journeys.
type JourneySource interface {
	Journey(ctx context.Context, id string) (*schema.Journey, error)
}

// Converter produces a journey from a workflow graph when a test names
// no journey explicitly.
type Converter interface {
	Convert(ctx context.Context, graph *schema.Workflow, opts convert.Options) (*schema.Journey, *schema.ValidationResult, error)
}

// WorkflowRunner executes a workflow on the original engine.
type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error)
}

// JourneyRunner executes a journey on the journey engine.
type JourneyRunner interface {
	ExecuteJourney(ctx context.Context, journey *schema.Journey, input map[string]any) (*schema.ExecutionResult, error)
}

// Comparator reduces two execution results to a comparison.
type Comparator interface {
	Compare(ctx context.Context, workflow, journey *schema.ExecutionResult, cfg compat.Config) (*schema.ResultComparison, error)
}

// IntegrationSource exposes recorded integration logs by execution id.
type IntegrationSource interface {
	Log(executionID string) *integrations.IntegrationLog
}

// IntegrationComparator validates recorded side effects between runs.
type IntegrationComparator interface {
	Compare(ctx context.Context, expected, actual *integrations.IntegrationLog, cfg integrations.Config) (*integrations.Comparison, error)
}

// StateValidator checks cross-engine state consistency after a run.
type StateValidator interface {
	ValidateStateConsistency(workflowExecID, journeyExecID string) (*statesync.ConsistencyReport, error)
}

// RunStore persists finished suite runs.
type RunStore interface {
	SaveSuiteRun(ctx context.Context, result *SuiteResult) error
}

// Deps wires the orchestrator's collaborators. WorkflowRunner,
// JourneyRunner, and Comparator are required; everything else is
// optional and widens what tests can check.
type Deps struct {
	Workflows      WorkflowSource
	Journeys       JourneySource
	Converter      Converter
	WorkflowRunner WorkflowRunner
	JourneyRunner  JourneyRunner
	Comparator     Comparator
	// CompareConfig overrides the comparison defaults for every test.
	CompareConfig *compat.Config
	// Defaults fills suite config fields the suite leaves unset.
	Defaults             Config
	Integrations         IntegrationSource
	IntegrationValidator IntegrationComparator
	States               StateValidator
	Store                RunStore
	Hub                  streaming.EventHub
	Logger               *slog.Logger
}

// Orchestrator runs compatibility suites end to end.
type Orchestrator struct {
	registry *Registry
	deps     Deps
	logger   *slog.Logger
	jq       *expressions.GoJQEngine
	now      func() time.Time
}

// NewOrchestrator builds an orchestrator over the given registry.
// A nil registry creates a fresh one.
func NewOrchestrator(registry *Registry, deps Deps) (*Orchestrator, error) {
	if deps.WorkflowRunner == nil || deps.JourneyRunner == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "both engine runners are required")
	}
	if deps.Comparator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "a result comparator is required")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		deps:     deps,
		logger:   logger,
		jq:       expressions.NewGoJQEngine(),
		now:      time.Now,
	}, nil
}

// Registry returns the suite registry the orchestrator runs from.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// RunSuite looks up a registered suite by name and runs it.
func (o *Orchestrator) RunSuite(ctx context.Context, name string) (*SuiteResult, error) {
	ts, err := o.registry.Suite(name)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, ts)
}

// RunTest executes a single compatibility test outside any suite, using
// the orchestrator's default configuration. Failures and timeouts land in
// the result status, not the error.
func (o *Orchestrator) RunTest(ctx context.Context, t *CompatibilityTest) (*TestResult, error) {
	if t == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "test is nil")
	}
	cfg := o.deps.Defaults
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultTestTimeout
	}
	return o.runTest(ctx, "", cfg, t), nil
}

// Run executes every test in the suite and aggregates the outcome.
// Individual test failures, timeouts, and errors never abort the run.
func (o *Orchestrator) Run(ctx context.Context, ts *TestSuite) (*SuiteResult, error) {
	if err := validateSuite(ts); err != nil {
		return nil, err
	}
	cfg := ts.Config
	if cfg.MaxConcurrentTests <= 0 {
		cfg.MaxConcurrentTests = o.deps.Defaults.MaxConcurrentTests
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = o.deps.Defaults.TestTimeout
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = DefaultTestTimeout
	}

	started := o.now()
	result := &SuiteResult{
		SuiteID:   ts.ID,
		SuiteName: ts.Name,
		RunID:     uuid.NewString(),
		StartedAt: started,
	}
	o.logger.Info("suite run started", "suite", ts.Name, "run_id", result.RunID, "tests", len(ts.Tests))
	streaming.Publish(ctx, o.deps.Hub, streaming.StreamEvent{
		EventType: schema.EventSuiteStarted,
		SuiteID:   ts.Name,
		Payload:   map[string]any{"run_id": result.RunID, "tests": len(ts.Tests)},
	})

	if cfg.MaxConcurrentTests <= 1 {
		result.Results = o.runSerial(ctx, ts, cfg)
	} else {
		result.Results = o.runChunked(ctx, ts, cfg)
	}

	result.Duration = schema.Millis(o.now().Sub(started).Milliseconds())
	result.summarize()

	streaming.Publish(ctx, o.deps.Hub, streaming.StreamEvent{
		EventType: schema.EventSuiteCompleted,
		SuiteID:   ts.Name,
		Payload: map[string]any{
			"run_id":    result.RunID,
			"passed":    result.Passed,
			"failed":    result.Failed,
			"errors":    result.Errors,
			"timeouts":  result.Timeouts,
			"skipped":   result.Skipped,
			"pass_rate": result.PassRate,
		},
	})
	o.logger.Info("suite run finished", "suite", ts.Name, "run_id", result.RunID,
		"passed", result.Passed, "failed", result.Failed, "errors", result.Errors,
		"timeouts", result.Timeouts, "skipped", result.Skipped, "pass_rate", result.PassRate)

	if o.deps.Store != nil {
		if err := o.deps.Store.SaveSuiteRun(ctx, result); err != nil {
			o.logger.Warn("suite run not persisted", "run_id", result.RunID, "error", err)
		}
	}
	return result, nil
}

func (o *Orchestrator) runSerial(ctx context.Context, ts *TestSuite, cfg Config) []TestResult {
	results := make([]TestResult, 0, len(ts.Tests))
	stopped := false
	for i := range ts.Tests {
		t := &ts.Tests[i]
		if stopped {
			results = append(results, skippedResult(t))
			continue
		}
		tr := o.runTest(ctx, ts.Name, cfg, t)
		results = append(results, *tr)
		if cfg.FailFast && tr.Status != TestPassed {
			stopped = true
		}
	}
	return results
}

// runChunked runs tests in sequential chunks of MaxConcurrentTests,
// with the tests inside a chunk fanned out on a worker pool. FailFast
// stops scheduling new chunks once a chunk holds a non-passing test.
func (o *Orchestrator) runChunked(ctx context.Context, ts *TestSuite, cfg Config) []TestResult {
	results := make([]TestResult, len(ts.Tests))
	pool := NewWorkerPool(cfg.MaxConcurrentTests)
	defer pool.Close()

	stopped := false
	for start := 0; start < len(ts.Tests); start += cfg.MaxConcurrentTests {
		end := start + cfg.MaxConcurrentTests
		if end > len(ts.Tests) {
			end = len(ts.Tests)
		}
		if stopped {
			for i := start; i < end; i++ {
				results[i] = skippedResult(&ts.Tests[i])
			}
			continue
		}
		for i := start; i < end; i++ {
			i, t := i, &ts.Tests[i]
			err := pool.Submit(ctx, func(ctx context.Context) TestStatus {
				results[i] = *o.runTest(ctx, ts.Name, cfg, t)
				return results[i].Status
			})
			if err != nil {
				// Context ended before the test could be scheduled.
				results[i] = skippedResult(t)
			}
		}
		pool.Wait()
		if cfg.FailFast {
			for i := start; i < end; i++ {
				if results[i].Status != TestPassed && results[i].Status != TestSkipped {
					stopped = true
					break
				}
			}
		}
	}
	m := pool.Metrics()
	o.logger.Debug("test pool drained", "suite", ts.Name,
		"finished", m.Finished, "failed", m.Failed, "panics", m.Panics)
	return results
}

func skippedResult(t *CompatibilityTest) TestResult {
	return TestResult{TestID: t.ID, TestName: t.Name, Kind: t.Kind, Status: TestSkipped}
}

// runTest executes one compatibility test under its own deadline. It
// never returns nil and never propagates an error; failures land in
// the result status.
func (o *Orchestrator) runTest(ctx context.Context, suiteName string, cfg Config, t *CompatibilityTest) (result *TestResult) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.TestTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	started := o.now()
	result = &TestResult{
		TestID:    t.ID,
		TestName:  t.Name,
		Kind:      t.Kind,
		Status:    TestErrored,
		StartedAt: started,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Status = TestErrored
			result.Error = fmt.Sprintf("panic: %v", r)
			result.Trace = string(debug.Stack())
		}
		result.Duration = schema.Millis(o.now().Sub(started).Milliseconds())
		streaming.Publish(ctx, o.deps.Hub, streaming.StreamEvent{
			EventType:  schema.EventTestCompleted,
			SuiteID:    suiteName,
			WorkflowID: t.WorkflowID,
			Payload: map[string]any{
				"test_id":     t.ID,
				"status":      string(result.Status),
				"duration_ms": int64(result.Duration),
			},
		})
		o.logger.Debug("test finished", "suite", suiteName, "test", t.ID, "status", result.Status)
	}()

	streaming.Publish(ctx, o.deps.Hub, streaming.StreamEvent{
		EventType:  schema.EventTestStarted,
		SuiteID:    suiteName,
		WorkflowID: t.WorkflowID,
		Payload:    map[string]any{"test_id": t.ID, "name": t.Name, "kind": string(t.Kind)},
	})

	journey, err := o.resolveJourney(tctx, t)
	if err != nil {
		return o.failWith(tctx, result, err)
	}

	wfRes, err := o.deps.WorkflowRunner.ExecuteWorkflow(tctx, t.WorkflowID, t.Input)
	if err != nil {
		return o.failWith(tctx, result, err)
	}
	result.WorkflowExecutionID = wfRes.ExecutionID

	jnRes, err := o.deps.JourneyRunner.ExecuteJourney(tctx, journey, t.Input)
	if err != nil {
		return o.failWith(tctx, result, err)
	}
	result.JourneyExecutionID = jnRes.ExecutionID

	comparison, err := o.deps.Comparator.Compare(tctx, wfRes, jnRes, o.compareConfig(journey))
	if err != nil {
		return o.failWith(tctx, result, err)
	}
	result.Comparison = comparison

	in := assertInput{workflow: wfRes, journey: jnRes}
	if in.workflowDoc, err = resultDocument(wfRes); err != nil {
		return o.failWith(tctx, result, err)
	}
	if in.journeyDoc, err = resultDocument(jnRes); err != nil {
		return o.failWith(tctx, result, err)
	}

	if cfg.CaptureIntegrations && o.deps.Integrations != nil && o.deps.IntegrationValidator != nil {
		icfg := integrations.DefaultConfig()
		if t.Kind == KindSideEffects {
			icfg.PreserveOrder = true
		}
		ic, err := o.deps.IntegrationValidator.Compare(tctx,
			o.deps.Integrations.Log(wfRes.ExecutionID),
			o.deps.Integrations.Log(jnRes.ExecutionID), icfg)
		if err != nil {
			return o.failWith(tctx, result, err)
		}
		result.Integrations = ic
		in.integrations = ic
	}

	if t.Kind == KindStateSync && o.deps.States != nil {
		report, err := o.deps.States.ValidateStateConsistency(wfRes.ExecutionID, jnRes.ExecutionID)
		switch {
		case err == nil:
			result.Consistency = report
			if !report.Consistent {
				result.Violations = append(result.Violations,
					fmt.Sprintf("state consistency %.2f with %d inconsistencies", report.Score, len(report.Inconsistencies)))
			}
		case schema.ErrorCode(err) != schema.ErrCodeNotFound:
			// Executions unknown to the state layer are fine; anything
			// else is a real failure.
			return o.failWith(tctx, result, err)
		}
	}

	result.Violations = append(result.Violations, o.evaluateBehavior(tctx, t, in)...)
	if msg, bad := blockingViolation(comparison, t.Expect.AllowedDiffs); bad {
		result.Violations = append(result.Violations, msg)
	}
	result.Assertions = o.evaluateAssertions(tctx, t.Assertions, in)

	result.Status = TestPassed
	for i := range result.Assertions {
		if !result.Assertions[i].Passed {
			result.Status = TestFailed
			break
		}
	}
	if len(result.Violations) > 0 {
		result.Status = TestFailed
	}
	return result
}

// failWith classifies an execution error: a deadline hit marks the test
// timed out, anything else marks it errored.
func (o *Orchestrator) failWith(ctx context.Context, result *TestResult, err error) *TestResult {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Status = TestTimeout
		result.Error = "test timed out"
		return result
	}
	result.Status = TestErrored
	result.Error = err.Error()
	return result
}

func (o *Orchestrator) resolveJourney(ctx context.Context, t *CompatibilityTest) (*schema.Journey, error) {
	if t.JourneyID != "" {
		if o.deps.Journeys == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"test %q names journey %q but no journey source is wired", t.ID, t.JourneyID)
		}
		return o.deps.Journeys.Journey(ctx, t.JourneyID)
	}
	if o.deps.Workflows == nil || o.deps.Converter == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"test %q needs on-the-fly conversion but no workflow source or converter is wired", t.ID)
	}
	graph, err := o.deps.Workflows.Workflow(ctx, t.WorkflowID)
	if err != nil {
		return nil, err
	}
	journey, vr, err := o.deps.Converter.Convert(ctx, graph, convert.Options{ValidateOutput: true})
	if err != nil {
		return nil, err
	}
	if vr != nil && !vr.Valid() {
		return nil, schema.NewErrorf(schema.ErrCodeConversion,
			"conversion produced %d validation errors", len(vr.Errors)).WithEntity(t.WorkflowID)
	}
	return journey, nil
}

// compareConfig builds the comparison config for one test, wiring the
// converter's node-to-state map so blocks pair with their states.
func (o *Orchestrator) compareConfig(journey *schema.Journey) compat.Config {
	cfg := compat.DefaultConfig()
	if o.deps.CompareConfig != nil {
		cfg = *o.deps.CompareConfig
	}
	if cfg.BlockStepMap == nil && journey != nil && journey.Metadata != nil && len(journey.Metadata.NodeStateMap) > 0 {
		cfg.BlockStepMap = journey.Metadata.NodeStateMap
	}
	return cfg
}

// resultDocument renders an execution result as a JSON document for
// GoJQ path extraction.
func resultDocument(res *schema.ExecutionResult) (map[string]any, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "result is not JSON-encodable: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "result document decode failed: %v", err)
	}
	return doc, nil
}
