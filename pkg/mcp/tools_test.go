package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/internal/compat"
	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/store"
	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/internal/validation"
	"github.com/tandemlab/tandem/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	workflows []*schema.Workflow
	journeys  []*schema.Journey
	suites    map[string]*suite.TestSuite
	suiteRuns map[string]*suite.SuiteResult
	runs      []*store.RunRecord
	results   []*store.TestRecord
	events    []*store.RunEvent
	schedules []*store.Schedule
}

func newMockStore() *mockStore {
	return &mockStore{
		suites:    make(map[string]*suite.TestSuite),
		suiteRuns: make(map[string]*suite.SuiteResult),
	}
}

func (m *mockStore) SaveWorkflow(_ context.Context, wf *schema.Workflow) error {
	m.workflows = append(m.workflows, wf)
	return nil
}

func (m *mockStore) GetWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	for _, wf := range m.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
}

func (m *mockStore) ListWorkflows(_ context.Context, filter store.GraphFilter) ([]*schema.Workflow, error) {
	result := make([]*schema.Workflow, 0)
	for _, wf := range m.workflows {
		if filter.Name != "" && wf.Name != filter.Name {
			continue
		}
		result = append(result, wf)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) SaveJourney(_ context.Context, j *schema.Journey) error {
	m.journeys = append(m.journeys, j)
	return nil
}

func (m *mockStore) GetJourney(_ context.Context, id string) (*schema.Journey, error) {
	for _, j := range m.journeys {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "journey not found")
}

func (m *mockStore) JourneyForWorkflow(_ context.Context, workflowID string) (*schema.Journey, error) {
	for _, j := range m.journeys {
		if j.WorkflowID == workflowID {
			return j, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "no journey for workflow")
}

func (m *mockStore) ListJourneys(_ context.Context, filter store.GraphFilter) ([]*schema.Journey, error) {
	result := make([]*schema.Journey, 0)
	for _, j := range m.journeys {
		if filter.Name != "" && j.Name != filter.Name {
			continue
		}
		result = append(result, j)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) GetSuite(_ context.Context, name string) (*suite.TestSuite, error) {
	if ts, ok := m.suites[name]; ok {
		return ts, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "suite not found")
}

func (m *mockStore) ListSuites(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(m.suites))
	for name := range m.suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *mockStore) GetSuiteRun(_ context.Context, runID string) (*suite.SuiteResult, error) {
	if r, ok := m.suiteRuns[runID]; ok {
		return r, nil
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "run not found")
}

func (m *mockStore) ListSuiteRuns(_ context.Context, filter store.RunFilter) ([]*store.RunRecord, error) {
	result := make([]*store.RunRecord, 0)
	for _, r := range m.runs {
		if filter.SuiteName != "" && r.SuiteName != filter.SuiteName {
			continue
		}
		result = append(result, r)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) ListTestResults(_ context.Context, filter store.TestFilter) ([]*store.TestRecord, error) {
	result := make([]*store.TestRecord, 0)
	for _, r := range m.results {
		if filter.RunID != "" && r.RunID != filter.RunID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		result = append(result, r)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) GetRunEvents(_ context.Context, runID string, since int64) ([]*store.RunEvent, error) {
	result := make([]*store.RunEvent, 0)
	for _, e := range m.events {
		if e.RunID != runID || e.Sequence <= since {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

func (m *mockStore) ListSchedules(_ context.Context, filter store.ScheduleFilter) ([]*store.Schedule, error) {
	result := make([]*store.Schedule, 0)
	for _, sched := range m.schedules {
		if filter.SuiteName != "" && sched.SuiteName != filter.SuiteName {
			continue
		}
		if filter.Enabled != nil && sched.Enabled != *filter.Enabled {
			continue
		}
		result = append(result, sched)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Stub engines ---

type journeySourceFunc func(ctx context.Context, id string) (*schema.Journey, error)

func (f journeySourceFunc) Journey(ctx context.Context, id string) (*schema.Journey, error) {
	return f(ctx, id)
}

type workflowRunnerFunc func(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error)

func (f workflowRunnerFunc) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error) {
	return f(ctx, workflowID, input)
}

type journeyRunnerFunc func(ctx context.Context, journey *schema.Journey, input map[string]any) (*schema.ExecutionResult, error)

func (f journeyRunnerFunc) ExecuteJourney(ctx context.Context, journey *schema.Journey, input map[string]any) (*schema.ExecutionResult, error) {
	return f(ctx, journey, input)
}

// agreeingOrchestrator wires stub engines whose results always match.
func agreeingOrchestrator(t *testing.T) *suite.Orchestrator {
	t.Helper()
	deps := suite.Deps{
		Journeys: journeySourceFunc(func(_ context.Context, id string) (*schema.Journey, error) {
			return &schema.Journey{ID: id}, nil
		}),
		WorkflowRunner: workflowRunnerFunc(func(_ context.Context, _ string, _ map[string]any) (*schema.ExecutionResult, error) {
			return &schema.ExecutionResult{
				ExecutionID: "wf-exec-1",
				Mode:        schema.ModeWorkflow,
				Status:      "success",
				Outputs:     map[string]any{"answer": float64(42)},
			}, nil
		}),
		JourneyRunner: journeyRunnerFunc(func(_ context.Context, _ *schema.Journey, _ map[string]any) (*schema.ExecutionResult, error) {
			return &schema.ExecutionResult{
				ExecutionID: "jn-exec-1",
				Mode:        schema.ModeJourney,
				Status:      "completed",
				Outputs:     map[string]any{"answer": float64(42)},
			}, nil
		}),
		Comparator: compat.NewEngine(nil, nil, nil),
	}
	o, err := suite.NewOrchestrator(nil, deps)
	require.NoError(t, err)
	return o
}

func newTestServer(t *testing.T, ms *mockStore) *TandemServer {
	t.Helper()
	validator, err := validation.New(nil, nil)
	require.NoError(t, err)
	return NewTandemServer(TandemServerDeps{
		Store:        ms,
		Converter:    convert.NewEngine(nil, nil, nil, nil, convert.EngineConfig{Version: "test"}),
		Validator:    validator,
		Comparator:   compat.NewEngine(nil, nil, nil),
		Orchestrator: agreeingOrchestrator(t),
	})
}

// --- Fixtures ---

func sampleWorkflow() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-support",
		Name: "Support Intake",
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStarter, Name: "Start"},
			{ID: "greet", Type: schema.NodeTypeAgent, Name: "Greet", Data: schema.NodeData{"prompt": "how can I help?"}},
			{ID: "reply", Type: schema.NodeTypeResponse, Name: "Reply"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "greet"},
			{ID: "e2", Source: "greet", Target: "reply"},
		},
	}
}

func sampleJourney() *schema.Journey {
	return &schema.Journey{
		ID:         "jn-support",
		WorkflowID: "wf-support",
		Name:       "Support Intake",
		States: []schema.JourneyState{
			{ID: "state_start", Type: schema.StateTypeInitial, Name: "Start", SourceNodeID: "start"},
			{ID: "state_greet", Type: schema.StateTypeChat, Name: "Greet", SourceNodeID: "greet", Config: map[string]any{"prompt": "how can I help?"}},
			{ID: "state_reply", Type: schema.StateTypeFinal, Name: "Reply", SourceNodeID: "reply"},
		},
		Transitions: []schema.JourneyTransition{
			{ID: "t1", From: "state_start", To: "state_greet"},
			{ID: "t2", From: "state_greet", To: "state_reply"},
		},
	}
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func toArg(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Convert tool ---

func TestConvertToolInlineWorkflow(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.convert_workflow", map[string]any{
		"workflow": toArg(t, sampleWorkflow()),
	})

	result, err := s.handleConvert(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	var out struct {
		Journey *schema.Journey `json:"journey"`
	}
	unmarshalResult(t, result, &out)
	require.NotNil(t, out.Journey)
	assert.Equal(t, "wf-support", out.Journey.WorkflowID)
	assert.NotEmpty(t, out.Journey.InitialStates())
}

func TestConvertToolFromStore(t *testing.T) {
	ms := newMockStore()
	ms.workflows = []*schema.Workflow{sampleWorkflow()}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.convert_workflow", map[string]any{
		"workflow_id": "wf-support",
	})

	result, err := s.handleConvert(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestConvertToolSave(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)

	req := buildRequest("tandem.convert_workflow", map[string]any{
		"workflow": toArg(t, sampleWorkflow()),
		"save":     true,
	})

	result, err := s.handleConvert(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	// Both the graph and the journey land in the store.
	require.Len(t, ms.workflows, 1)
	require.Len(t, ms.journeys, 1)
	assert.Equal(t, "wf-support", ms.journeys[0].WorkflowID)
}

func TestConvertToolMissingInput(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.convert_workflow", map[string]any{})
	result, err := s.handleConvert(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestConvertToolWorkflowNotFound(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.convert_workflow", map[string]any{
		"workflow_id": "missing",
	})
	result, err := s.handleConvert(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Validate tool ---

func TestValidateToolWorkflow(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.validate", map[string]any{
		"target":   "workflow",
		"workflow": toArg(t, sampleWorkflow()),
	})

	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Target string `json:"target"`
		Valid  bool   `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "workflow", out.Target)
	assert.True(t, out.Valid)
}

func TestValidateToolJourney(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.validate", map[string]any{
		"target":  "journey",
		"journey": toArg(t, sampleJourney()),
	})

	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Valid bool `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
}

func TestValidateToolConversion(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.validate", map[string]any{
		"target":   "conversion",
		"workflow": toArg(t, sampleWorkflow()),
		"journey":  toArg(t, sampleJourney()),
	})

	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Valid bool `json:"valid"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)
}

func TestValidateToolConversionUsesStoredJourney(t *testing.T) {
	ms := newMockStore()
	ms.workflows = []*schema.Workflow{sampleWorkflow()}
	ms.journeys = []*schema.Journey{sampleJourney()}
	s := newTestServer(t, ms)

	// Only the workflow is named; the journey comes from the store.
	req := buildRequest("tandem.validate", map[string]any{
		"target":      "conversion",
		"workflow_id": "wf-support",
	})

	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestValidateToolUnknownTarget(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.validate", map[string]any{"target": "pipeline"})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateToolMissingTarget(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.validate", map[string]any{})
	result, err := s.handleValidate(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Compare tool ---

func TestCompareToolMatchingResults(t *testing.T) {
	s := newTestServer(t, newMockStore())

	wfRes := &schema.ExecutionResult{
		ExecutionID: "wf-exec-1",
		Mode:        schema.ModeWorkflow,
		Status:      "success",
		Outputs:     map[string]any{"answer": 42},
	}
	jnRes := &schema.ExecutionResult{
		ExecutionID: "jn-exec-1",
		Mode:        schema.ModeJourney,
		Status:      "completed",
		Outputs:     map[string]any{"answer": 42},
	}

	req := buildRequest("tandem.compare_results", map[string]any{
		"workflow_result": toArg(t, wfRes),
		"journey_result":  toArg(t, jnRes),
	})

	result, err := s.handleCompare(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var comparison schema.ResultComparison
	unmarshalResult(t, result, &comparison)
	assert.True(t, comparison.Compatible)
	assert.Equal(t, float64(100), comparison.Score)
}

func TestCompareToolDivergingResults(t *testing.T) {
	s := newTestServer(t, newMockStore())

	wfRes := &schema.ExecutionResult{
		ExecutionID: "wf-exec-1",
		Mode:        schema.ModeWorkflow,
		Status:      "success",
		Outputs:     map[string]any{"answer": 42},
	}
	jnRes := &schema.ExecutionResult{
		ExecutionID: "jn-exec-1",
		Mode:        schema.ModeJourney,
		Status:      "error",
		Outputs:     map[string]any{"answer": 7},
	}

	req := buildRequest("tandem.compare_results", map[string]any{
		"workflow_result": toArg(t, wfRes),
		"journey_result":  toArg(t, jnRes),
	})

	result, err := s.handleCompare(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var comparison schema.ResultComparison
	unmarshalResult(t, result, &comparison)
	assert.False(t, comparison.Compatible)
	assert.NotEmpty(t, comparison.Diffs)
}

func TestCompareToolMissingArgs(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.compare_results", map[string]any{
		"workflow_result": toArg(t, &schema.ExecutionResult{}),
	})
	result, err := s.handleCompare(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Run suite tool ---

func TestRunSuiteToolInline(t *testing.T) {
	s := newTestServer(t, newMockStore())

	ts := &suite.TestSuite{
		Name: "inline-suite",
		Tests: []suite.CompatibilityTest{
			{ID: "t1", Name: "t1", WorkflowID: "wf-1", JourneyID: "jn-1"},
		},
	}

	req := buildRequest("tandem.run_suite", map[string]any{
		"suite": toArg(t, ts),
	})

	result, err := s.handleRunSuite(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var run suite.SuiteResult
	unmarshalResult(t, result, &run)
	assert.Equal(t, 1, run.Total)
	assert.Equal(t, 1, run.Passed)
	assert.NotEmpty(t, run.RunID)
}

func TestRunSuiteToolRegisteredName(t *testing.T) {
	s := newTestServer(t, newMockStore())

	ts := &suite.TestSuite{
		Name: "registered-suite",
		Tests: []suite.CompatibilityTest{
			{ID: "t1", Name: "t1", WorkflowID: "wf-1", JourneyID: "jn-1"},
		},
	}
	require.NoError(t, s.orchestrator.Registry().Register(ts))

	req := buildRequest("tandem.run_suite", map[string]any{
		"suite_name": "registered-suite",
	})

	result, err := s.handleRunSuite(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var run suite.SuiteResult
	unmarshalResult(t, result, &run)
	assert.Equal(t, "registered-suite", run.SuiteName)
}

func TestRunSuiteToolStoredName(t *testing.T) {
	ms := newMockStore()
	ms.suites["stored-suite"] = &suite.TestSuite{
		Name: "stored-suite",
		Tests: []suite.CompatibilityTest{
			{ID: "t1", Name: "t1", WorkflowID: "wf-1", JourneyID: "jn-1"},
		},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.run_suite", map[string]any{
		"suite_name": "stored-suite",
	})

	result, err := s.handleRunSuite(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestRunSuiteToolUnknownName(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.run_suite", map[string]any{
		"suite_name": "nope",
	})
	result, err := s.handleRunSuite(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunSuiteToolMissingArgs(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.run_suite", map[string]any{})
	result, err := s.handleRunSuite(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunSuiteToolAsync(t *testing.T) {
	s := newTestServer(t, newMockStore())

	ts := &suite.TestSuite{
		Name: "async-suite",
		Tests: []suite.CompatibilityTest{
			{ID: "t1", Name: "t1", WorkflowID: "wf-1", JourneyID: "jn-1"},
		},
	}

	req := buildRequest("tandem.run_suite", map[string]any{
		"suite": toArg(t, ts),
		"async": true,
	})

	result, err := s.handleRunSuite(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		SuiteName string `json:"suite_name"`
		Status    string `json:"status"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "async-suite", out.SuiteName)
	assert.Equal(t, "running", out.Status)
}

// --- Query tool ---

func TestQueryWorkflows(t *testing.T) {
	ms := newMockStore()
	ms.workflows = []*schema.Workflow{
		{ID: "wf-1", Name: "Intake"},
		{ID: "wf-2", Name: "Billing"},
		{ID: "wf-3", Name: "Intake"},
	}
	s := newTestServer(t, ms)

	// Query all.
	req := buildRequest("tandem.query", map[string]any{"resource": "workflows"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Workflows []*schema.Workflow `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Workflows, 3)

	// Query with name filter.
	req = buildRequest("tandem.query", map[string]any{
		"resource": "workflows",
		"filter":   map[string]any{"name": "Intake"},
	})
	result, err = s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Workflows, 2)
}

func TestQueryJourneys(t *testing.T) {
	ms := newMockStore()
	ms.journeys = []*schema.Journey{
		{ID: "jn-1", WorkflowID: "wf-1", Name: "Intake"},
		{ID: "jn-2", WorkflowID: "wf-2", Name: "Billing"},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "journeys",
		"filter":   map[string]any{"limit": 1},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Journeys []*schema.Journey `json:"journeys"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Journeys, 1)
}

func TestQuerySuites(t *testing.T) {
	ms := newMockStore()
	ms.suites["alpha"] = &suite.TestSuite{Name: "alpha"}
	ms.suites["beta"] = &suite.TestSuite{Name: "beta"}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{"resource": "suites"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Suites []string `json:"suites"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, []string{"alpha", "beta"}, out.Suites)
}

func TestQueryRuns(t *testing.T) {
	now := time.Now().UTC()
	ms := newMockStore()
	ms.runs = []*store.RunRecord{
		{RunID: "run-1", SuiteName: "alpha", StartedAt: now},
		{RunID: "run-2", SuiteName: "beta", StartedAt: now},
		{RunID: "run-3", SuiteName: "alpha", StartedAt: now},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"suite_name": "alpha"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Runs []*store.RunRecord `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Runs, 2)
}

func TestQueryResults(t *testing.T) {
	ms := newMockStore()
	ms.results = []*store.TestRecord{
		{RunID: "run-1", TestID: "t1", Status: suite.TestPassed},
		{RunID: "run-1", TestID: "t2", Status: suite.TestFailed},
		{RunID: "run-2", TestID: "t1", Status: suite.TestPassed},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "results",
		"filter":   map[string]any{"run_id": "run-1", "status": "failed"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Results []*store.TestRecord `json:"results"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "t2", out.Results[0].TestID)
}

func TestQueryEvents(t *testing.T) {
	now := time.Now().UTC()
	ms := newMockStore()
	ms.events = []*store.RunEvent{
		{RunID: "run-1", Type: "suite_started", Sequence: 1, Timestamp: now},
		{RunID: "run-1", Type: "test_completed", Sequence: 2, Timestamp: now},
		{RunID: "run-2", Type: "suite_started", Sequence: 1, Timestamp: now},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": "run-1", "sequence": 1},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Events []*store.RunEvent `json:"events"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "test_completed", out.Events[0].Type)
}

func TestQueryEventsMissingRunID(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.query", map[string]any{"resource": "events"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQuerySchedules(t *testing.T) {
	ms := newMockStore()
	ms.schedules = []*store.Schedule{
		{ID: "sched-1", SuiteName: "alpha", Enabled: true},
		{ID: "sched-2", SuiteName: "alpha", Enabled: false},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "schedules",
		"filter":   map[string]any{"enabled": true},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Schedules []*store.Schedule `json:"schedules"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Schedules, 1)
	assert.Equal(t, "sched-1", out.Schedules[0].ID)
}

func TestQueryReport(t *testing.T) {
	ms := newMockStore()
	ms.suiteRuns["run-1"] = &suite.SuiteResult{
		SuiteName: "alpha",
		RunID:     "run-1",
		Total:     2,
		Passed:    2,
		PassRate:  100,
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "report",
		"filter":   map[string]any{"run_id": "run-1"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "# Compatibility Report")
	assert.Contains(t, text, "alpha")
}

func TestQueryReportMissingRunID(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.query", map[string]any{"resource": "report"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryReplay(t *testing.T) {
	now := time.Now().UTC()
	ms := newMockStore()
	ms.events = []*store.RunEvent{
		{RunID: "run-1", Type: "suite_started", Sequence: 1, Timestamp: now},
		{RunID: "run-1", TestID: "t1", Type: "test_started", Sequence: 2, Timestamp: now},
		{RunID: "run-1", TestID: "t1", Type: "test_completed", Sequence: 3, Timestamp: now.Add(time.Second),
			Payload: json.RawMessage(`{"status":"passed","duration_ms":1000}`)},
		{RunID: "run-1", Type: "suite_completed", Sequence: 4, Timestamp: now.Add(time.Second)},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "replay",
		"filter":   map[string]any{"run_id": "run-1"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)

	var out struct {
		Replay map[string]*store.TestReplay `json:"replay"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Replay, 1)
	assert.Equal(t, "passed", out.Replay["t1"].Status)
	assert.Equal(t, int64(1000), out.Replay["t1"].DurationMs)
}

func TestQueryReplaySequenceGap(t *testing.T) {
	ms := newMockStore()
	ms.events = []*store.RunEvent{
		{RunID: "run-1", Type: "suite_started", Sequence: 1},
		{RunID: "run-1", Type: "suite_completed", Sequence: 3},
	}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.query", map[string]any{
		"resource": "replay",
		"filter":   map[string]any{"run_id": "run-1"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "sequence gap")
}

func TestQueryUnknownResource(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.query", map[string]any{"resource": "invalid"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Diagram tool ---

func TestDiagramToolMermaid(t *testing.T) {
	ms := newMockStore()
	ms.journeys = []*schema.Journey{sampleJourney()}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.diagram", map[string]any{
		"journey_id": "jn-support",
		"format":     "mermaid",
	})

	result, err := s.handleDiagram(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "graph TD")
	assert.Contains(t, text, "state_greet")
}

func TestDiagramToolConvertsWorkflowOnTheFly(t *testing.T) {
	ms := newMockStore()
	ms.workflows = []*schema.Workflow{sampleWorkflow()}
	s := newTestServer(t, ms)

	// No stored journey for the workflow, so the graph is converted first.
	req := buildRequest("tandem.diagram", map[string]any{
		"workflow_id": "wf-support",
		"format":      "mermaid",
	})

	result, err := s.handleDiagram(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "graph TD")
}

func TestDiagramToolMissingIDs(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("tandem.diagram", map[string]any{"format": "mermaid"})
	result, err := s.handleDiagram(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDiagramToolUnknownFormat(t *testing.T) {
	ms := newMockStore()
	ms.journeys = []*schema.Journey{sampleJourney()}
	s := newTestServer(t, ms)

	req := buildRequest("tandem.diagram", map[string]any{
		"journey_id": "jn-support",
		"format":     "tiff",
	})
	result, err := s.handleDiagram(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Filter helpers ---

func TestExtractInt(t *testing.T) {
	filter := map[string]any{
		"float":  float64(7),
		"int":    3,
		"string": "11",
		"bad":    "x",
	}
	assert.Equal(t, 7, extractInt(filter, "float", 0))
	assert.Equal(t, 3, extractInt(filter, "int", 0))
	assert.Equal(t, 11, extractInt(filter, "string", 0))
	assert.Equal(t, 5, extractInt(filter, "bad", 5))
	assert.Equal(t, 5, extractInt(filter, "absent", 5))
	assert.Equal(t, 5, extractInt(nil, "any", 5))
}

func TestExtractTime(t *testing.T) {
	ts := extractTime(map[string]any{"since": "2026-08-01T00:00:00Z"}, "since")
	require.NotNil(t, ts)
	assert.Equal(t, 2026, ts.Year())

	assert.Nil(t, extractTime(map[string]any{"since": "yesterday"}, "since"))
	assert.Nil(t, extractTime(nil, "since"))
}
