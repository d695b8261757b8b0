package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/internal/suite"
	tdmcp "github.com/tandemlab/tandem/pkg/mcp"
	"github.com/tandemlab/tandem/pkg/schema"
)

// --- MCP test environment ---

// testEnv runs the MCP server against the full pipeline harness.
type testEnv struct {
	*harness
	server *tdmcp.TandemServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	h := newHarness(t)
	srv := tdmcp.NewTandemServer(tdmcp.TandemServerDeps{
		Store:        h.store,
		Converter:    h.converter,
		Validator:    h.validator,
		Comparator:   h.comparator,
		Orchestrator: h.orchestrator,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{harness: h, server: srv}
}

// callTool drives a full JSON-RPC round trip through HandleMessage:
// initialize, then tools/call.
func (e *testEnv) callTool(t *testing.T, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	srv := e.server.MCPServer()

	initMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      0,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "e2e-test", "version": "1.0.0"},
		},
	}
	rawInit, err := json.Marshal(initMsg)
	require.NoError(t, err)
	require.NotNil(t, srv.HandleMessage(ctx, rawInit))

	callMsg := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": toolName, "arguments": args},
	}
	rawCall, err := json.Marshal(callMsg)
	require.NoError(t, err)
	resp := srv.HandleMessage(ctx, rawCall)
	require.NotNil(t, resp)

	respBytes, err := json.Marshal(resp)
	require.NoError(t, err)

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))
	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

// decodeResult asserts the tool succeeded and parses its JSON payload.
func decodeResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %s", resultText(t, result))
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), target))
}

func asArg(t *testing.T, v any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

// --- MCP E2E Scenarios ---

// 1. Convert a stored graph over MCP with save, then query both sides
// back.
func TestMCPConvertSaveQuery(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SaveWorkflow(context.Background(), supportWorkflow()))

	result := env.callTool(t, "tandem.convert_workflow", map[string]any{
		"workflow_id": "wf-support",
		"save":        true,
	})
	var converted struct {
		Journey    schema.Journey           `json:"journey"`
		Validation *schema.ValidationResult `json:"validation"`
	}
	decodeResult(t, result, &converted)
	assert.Equal(t, "wf-support", converted.Journey.WorkflowID)
	require.NotNil(t, converted.Validation)
	assert.Empty(t, converted.Validation.Errors)

	queryResult := env.callTool(t, "tandem.query", map[string]any{"resource": "journeys"})
	var journeys map[string][]schema.Journey
	decodeResult(t, queryResult, &journeys)
	require.Len(t, journeys["journeys"], 1)
	assert.Equal(t, converted.Journey.ID, journeys["journeys"][0].ID)

	wfResult := env.callTool(t, "tandem.query", map[string]any{"resource": "workflows"})
	var workflows map[string][]schema.Workflow
	decodeResult(t, wfResult, &workflows)
	require.Len(t, workflows["workflows"], 1)
	assert.Equal(t, "wf-support", workflows["workflows"][0].ID)
}

// 2. Conversion validation over MCP reports the stored pair valid.
func TestMCPValidateConversion(t *testing.T) {
	env := newTestEnv(t)
	env.seedPair(supportWorkflow())

	result := env.callTool(t, "tandem.validate", map[string]any{
		"target":      "conversion",
		"workflow_id": "wf-support",
	})
	var verdict struct {
		Target string                   `json:"target"`
		Valid  bool                     `json:"valid"`
		Result *schema.ValidationResult `json:"result"`
	}
	decodeResult(t, result, &verdict)
	assert.Equal(t, "conversion", verdict.Target)
	assert.True(t, verdict.Valid)
}

// 3. Result comparison over MCP scores agreeing runs at 100.
func TestMCPCompareResults(t *testing.T) {
	env := newTestEnv(t)

	wfRes := &schema.ExecutionResult{
		ExecutionID: "wf-1", Mode: schema.ModeWorkflow, Status: "success",
		Outputs: map[string]any{"total": 10},
	}
	jnRes := &schema.ExecutionResult{
		ExecutionID: "jn-1", Mode: schema.ModeJourney, Status: "completed",
		Outputs: map[string]any{"total": 10},
	}

	result := env.callTool(t, "tandem.compare_results", map[string]any{
		"workflow_result": asArg(t, wfRes),
		"journey_result":  asArg(t, jnRes),
	})
	var comparison schema.ResultComparison
	decodeResult(t, result, &comparison)
	assert.True(t, comparison.Compatible)
	assert.Equal(t, float64(100), comparison.Score)
	assert.Empty(t, comparison.Diffs)
}

// 4. A suite run over MCP leaves a queryable trail: run header, events,
// and the rendered report.
func TestMCPRunSuiteAndReport(t *testing.T) {
	env := newTestEnv(t)
	env.seedPair(supportWorkflow())

	ts := basicSuite("mcp-compat",
		suite.CompatibilityTest{ID: "t1", WorkflowID: "wf-support"},
	)
	runResult := env.callTool(t, "tandem.run_suite", map[string]any{"suite": asArg(t, ts)})
	var run struct {
		RunID  string  `json:"run_id"`
		Total  int     `json:"total"`
		Passed int     `json:"passed"`
		Rate   float64 `json:"pass_rate"`
	}
	decodeResult(t, runResult, &run)
	assert.Equal(t, 1, run.Total)
	assert.Equal(t, 1, run.Passed)
	require.NotEmpty(t, run.RunID)

	eventsResult := env.callTool(t, "tandem.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": run.RunID},
	})
	var events map[string][]json.RawMessage
	decodeResult(t, eventsResult, &events)
	require.NotEmpty(t, events["events"])

	reportResult := env.callTool(t, "tandem.query", map[string]any{
		"resource": "report",
		"filter":   map[string]any{"run_id": run.RunID},
	})
	report := resultText(t, reportResult)
	assert.Contains(t, report, "# Compatibility Report")
	assert.Contains(t, report, "mcp-compat")
}

// 5. Diagram rendering over MCP returns Mermaid source for the stored
// journey.
func TestMCPDiagram(t *testing.T) {
	env := newTestEnv(t)
	journey := env.seedPair(supportWorkflow())

	result := env.callTool(t, "tandem.diagram", map[string]any{
		"journey_id": journey.ID,
		"format":     "mermaid",
	})
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.True(t, strings.HasPrefix(text, "graph TD"), "mermaid output should open with graph TD: %q", text)
}

// 6. Tool failures surface as tool errors, not JSON-RPC failures.
func TestMCPErrorSurface(t *testing.T) {
	env := newTestEnv(t)

	result := env.callTool(t, "tandem.convert_workflow", map[string]any{
		"workflow_id": "wf-missing",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "wf-missing")
}
