package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tandemlab/tandem/internal/compat"
	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/diagram"
	"github.com/tandemlab/tandem/internal/store"
	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/pkg/schema"
)

// handleConvert converts a workflow graph into a journey.
func (s *TandemServer) handleConvert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.converter == nil {
		return mcp.NewToolResultError("no converter configured"), nil
	}

	graph, errResult := s.resolveWorkflow(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	// Capture session mapping for notifications.
	if agentID := req.GetString("agent_id", ""); agentID != "" {
		s.captureSession(ctx, agentID)
	}

	opts := convert.DefaultOptions()
	opts.PreserveLayout = req.GetBool("preserve_layout", opts.PreserveLayout)
	opts.GenerateDescriptions = req.GetBool("generate_descriptions", opts.GenerateDescriptions)
	opts.StrictMode = req.GetBool("strict", opts.StrictMode)

	journey, report, convErr := s.converter.Convert(ctx, graph, opts)
	if convErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("conversion failed: %v", convErr)), nil
	}

	if req.GetBool("save", false) {
		if s.store == nil {
			return mcp.NewToolResultError("no store configured, cannot save"), nil
		}
		// The graph is saved too so the journey's workflow reference
		// resolves for later queries and suite runs.
		if saveErr := s.store.SaveWorkflow(ctx, graph); saveErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to save workflow: %v", saveErr)), nil
		}
		if saveErr := s.store.SaveJourney(ctx, journey); saveErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to save journey: %v", saveErr)), nil
		}
	}

	return marshalResult(map[string]any{
		"journey":    journey,
		"validation": report,
	})
}

// handleValidate validates a workflow, a journey, or a conversion pair.
func (s *TandemServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.validator == nil {
		return mcp.NewToolResultError("no validator configured"), nil
	}

	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError("target is required"), nil
	}

	var result *schema.ValidationResult
	switch target {
	case "workflow":
		graph, errResult := s.resolveWorkflow(ctx, req)
		if errResult != nil {
			return errResult, nil
		}
		result = s.validator.ValidateWorkflow(graph)

	case "journey":
		journey, errResult := s.resolveJourney(ctx, req, "")
		if errResult != nil {
			return errResult, nil
		}
		result = s.validator.ValidateJourney(journey)

	case "conversion":
		graph, errResult := s.resolveWorkflow(ctx, req)
		if errResult != nil {
			return errResult, nil
		}
		journey, errResult := s.resolveJourney(ctx, req, graph.ID)
		if errResult != nil {
			return errResult, nil
		}
		result = s.validator.ValidateConversion(graph, journey)

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown target: %s", target)), nil
	}

	return marshalResult(map[string]any{
		"target": target,
		"valid":  result.Valid(),
		"result": result,
	})
}

// handleCompare deep-diffs two execution results.
func (s *TandemServer) handleCompare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.comparator == nil {
		return mcp.NewToolResultError("no comparator configured"), nil
	}

	wfRaw := mcp.ParseStringMap(req, "workflow_result", nil)
	if wfRaw == nil {
		return mcp.NewToolResultError("workflow_result is required"), nil
	}
	jnRaw := mcp.ParseStringMap(req, "journey_result", nil)
	if jnRaw == nil {
		return mcp.NewToolResultError("journey_result is required"), nil
	}

	var wfRes, jnRes schema.ExecutionResult
	if errResult := decodeArg(wfRaw, &wfRes, "workflow_result"); errResult != nil {
		return errResult, nil
	}
	if errResult := decodeArg(jnRaw, &jnRes, "journey_result"); errResult != nil {
		return errResult, nil
	}

	cfg := compat.DefaultConfig()
	cfg.MaxDepth = req.GetInt("max_depth", cfg.MaxDepth)
	cfg.CompareDuration = req.GetBool("compare_duration", cfg.CompareDuration)
	cfg.DurationTolerance = schema.Millis(req.GetFloat("duration_tolerance_ms", float64(cfg.DurationTolerance)))

	comparison, cmpErr := s.comparator.Compare(ctx, &wfRes, &jnRes, cfg)
	if cmpErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("comparison failed: %v", cmpErr)), nil
	}

	return marshalResult(comparison)
}

// handleRunSuite runs a compatibility test suite, optionally asynchronously.
func (s *TandemServer) handleRunSuite(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.orchestrator == nil {
		return mcp.NewToolResultError("no orchestrator configured"), nil
	}

	agentID := req.GetString("agent_id", "")
	if agentID != "" {
		s.captureSession(ctx, agentID)
	}

	ts, errResult := s.resolveSuite(ctx, req)
	if errResult != nil {
		return errResult, nil
	}

	if req.GetBool("async", false) {
		// The request context dies with the response; the run gets its own.
		go s.runAndNotify(context.Background(), ts, agentID)
		return marshalResult(map[string]any{
			"suite_name": ts.Name,
			"status":     "running",
		})
	}

	result, runErr := s.orchestrator.Run(ctx, ts)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("suite run failed: %v", runErr)), nil
	}
	s.notifyRunCompleted(ctx, agentID, result)

	return marshalResult(result)
}

// handleQuery lists stored resources based on filters.
func (s *TandemServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}

	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "journeys":
		return s.queryJourneys(ctx, filter)
	case "suites":
		return s.querySuites(ctx)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "results":
		return s.queryResults(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "schedules":
		return s.querySchedules(ctx, filter)
	case "report":
		return s.queryReport(ctx, filter)
	case "replay":
		return s.queryReplay(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleDiagram renders a journey diagram in the requested format.
func (s *TandemServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}

	journeyID := req.GetString("journey_id", "")
	workflowID := req.GetString("workflow_id", "")
	if journeyID == "" && workflowID == "" {
		return mcp.NewToolResultError("one of journey_id or workflow_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}

	journey, errResult := s.diagramJourney(ctx, journeyID, workflowID)
	if errResult != nil {
		return errResult, nil
	}

	model, buildErr := diagram.Build(journey, nil)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "dot", "svg":
		out, imgErr := diagram.RenderImage(model, diagram.Format(format))
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	case "png":
		png, imgErr := diagram.RenderImage(model, diagram.FormatPNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("diagram render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return mcp.NewToolResultError("format must be mermaid, dot, svg, or png"), nil
	}
}

// diagramJourney loads the journey to render, converting the workflow graph
// when no stored journey exists for it.
func (s *TandemServer) diagramJourney(ctx context.Context, journeyID, workflowID string) (*schema.Journey, *mcp.CallToolResult) {
	if journeyID != "" {
		journey, err := s.store.GetJourney(ctx, journeyID)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("journey lookup failed: %v", err))
		}
		return journey, nil
	}

	if journey, err := s.store.JourneyForWorkflow(ctx, workflowID); err == nil {
		return journey, nil
	}
	if s.converter == nil {
		return nil, mcp.NewToolResultError("no stored journey for workflow and no converter configured")
	}
	graph, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err))
	}
	journey, _, err := s.converter.Convert(ctx, graph, convert.DefaultOptions())
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("conversion failed: %v", err))
	}
	return journey, nil
}

// --- Query helpers ---

func (s *TandemServer) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	workflows, err := s.store.ListWorkflows(ctx, graphFilter(filter))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *TandemServer) queryJourneys(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	journeys, err := s.store.ListJourneys(ctx, graphFilter(filter))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"journeys": journeys})
}

func (s *TandemServer) querySuites(ctx context.Context) (*mcp.CallToolResult, error) {
	names, err := s.store.ListSuites(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"suites": names})
}

func (s *TandemServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if name, ok := filter["suite_name"].(string); ok {
		rf.SuiteName = name
	}
	rf.Since = extractTime(filter, "since")

	runs, err := s.store.ListSuiteRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *TandemServer) queryResults(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	tf := store.TestFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		tf.RunID = runID
	}
	if status, ok := filter["status"].(string); ok {
		tf.Status = suite.TestStatus(status)
	}
	if kind, ok := filter["kind"].(string); ok {
		tf.Kind = suite.TestKind(kind)
	}

	results, err := s.store.ListTestResults(ctx, tf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"results": results})
}

func (s *TandemServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, ok := filter["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
	}
	since := int64(extractInt(filter, "sequence", 0))

	events, err := s.store.GetRunEvents(ctx, runID, since)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *TandemServer) querySchedules(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	sf := store.ScheduleFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if name, ok := filter["suite_name"].(string); ok {
		sf.SuiteName = name
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		sf.Enabled = &enabled
	}

	schedules, err := s.store.ListSchedules(ctx, sf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"schedules": schedules})
}

// queryReport renders a stored run as a markdown report.
func (s *TandemServer) queryReport(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, ok := filter["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("report query requires 'run_id' in filter"), nil
	}

	run, err := s.store.GetSuiteRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
	}
	return mcp.NewToolResultText(suite.BuildReport(run).Markdown()), nil
}

// queryReplay reconstructs per-test states from a run's event trail.
func (s *TandemServer) queryReplay(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, ok := filter["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("replay query requires 'run_id' in filter"), nil
	}

	events, err := s.store.GetRunEvents(ctx, runID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event lookup failed: %v", err)), nil
	}
	states, err := store.ReplayRunEvents(runID, events)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("replay failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"replay": states})
}

// --- Internal helpers ---

// resolveWorkflow loads a workflow graph from the store by workflow_id or
// decodes the inline workflow argument.
func (s *TandemServer) resolveWorkflow(ctx context.Context, req mcp.CallToolRequest) (*schema.Workflow, *mcp.CallToolResult) {
	if id := req.GetString("workflow_id", ""); id != "" {
		if s.store == nil {
			return nil, mcp.NewToolResultError("no store configured")
		}
		graph, err := s.store.GetWorkflow(ctx, id)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err))
		}
		return graph, nil
	}

	raw := mcp.ParseStringMap(req, "workflow", nil)
	if raw == nil {
		return nil, mcp.NewToolResultError("one of workflow_id or workflow is required")
	}
	var graph schema.Workflow
	if errResult := decodeArg(raw, &graph, "workflow"); errResult != nil {
		return nil, errResult
	}
	return &graph, nil
}

// resolveJourney loads a journey by journey_id, decodes the inline journey
// argument, or falls back to the journey stored for workflowID.
func (s *TandemServer) resolveJourney(ctx context.Context, req mcp.CallToolRequest, workflowID string) (*schema.Journey, *mcp.CallToolResult) {
	if id := req.GetString("journey_id", ""); id != "" {
		if s.store == nil {
			return nil, mcp.NewToolResultError("no store configured")
		}
		journey, err := s.store.GetJourney(ctx, id)
		if err != nil {
			return nil, mcp.NewToolResultError(fmt.Sprintf("journey lookup failed: %v", err))
		}
		return journey, nil
	}

	if raw := mcp.ParseStringMap(req, "journey", nil); raw != nil {
		var journey schema.Journey
		if errResult := decodeArg(raw, &journey, "journey"); errResult != nil {
			return nil, errResult
		}
		return &journey, nil
	}

	if workflowID != "" && s.store != nil {
		journey, err := s.store.JourneyForWorkflow(ctx, workflowID)
		if err == nil {
			return journey, nil
		}
	}
	return nil, mcp.NewToolResultError("one of journey_id or journey is required")
}

// resolveSuite decodes the inline suite argument or looks up suite_name in
// the orchestrator registry, falling back to the store.
func (s *TandemServer) resolveSuite(ctx context.Context, req mcp.CallToolRequest) (*suite.TestSuite, *mcp.CallToolResult) {
	if raw := mcp.ParseStringMap(req, "suite", nil); raw != nil {
		var ts suite.TestSuite
		if errResult := decodeArg(raw, &ts, "suite"); errResult != nil {
			return nil, errResult
		}
		return &ts, nil
	}

	name := req.GetString("suite_name", "")
	if name == "" {
		return nil, mcp.NewToolResultError("one of suite_name or suite is required")
	}

	if ts, err := s.orchestrator.Registry().Suite(name); err == nil {
		return ts, nil
	}
	if s.store != nil {
		if ts, err := s.store.GetSuite(ctx, name); err == nil {
			return ts, nil
		}
	}
	return nil, mcp.NewToolResultError(fmt.Sprintf("suite %q not found", name))
}

// runAndNotify executes a suite in the background and pushes the outcome to
// the agent's session.
func (s *TandemServer) runAndNotify(ctx context.Context, ts *suite.TestSuite, agentID string) {
	result, err := s.orchestrator.Run(ctx, ts)
	if err != nil {
		s.logger.Error("async suite run failed", "suite", ts.Name, "error", err)
		if agentID != "" {
			_ = s.notifier.Notify(ctx, agentID, map[string]any{
				"type":       "suite.run_failed",
				"suite_name": ts.Name,
				"error":      err.Error(),
			})
		}
		return
	}
	s.notifyRunCompleted(ctx, agentID, result)
}

// notifyRunCompleted pushes a run summary to the agent. Best-effort.
func (s *TandemServer) notifyRunCompleted(ctx context.Context, agentID string, result *suite.SuiteResult) {
	if agentID == "" {
		return
	}
	err := s.notifier.Notify(ctx, agentID, map[string]any{
		"type":       "suite.run_completed",
		"suite_name": result.SuiteName,
		"run_id":     result.RunID,
		"total":      result.Total,
		"passed":     result.Passed,
		"failed":     result.Failed,
		"errors":     result.Errors,
		"pass_rate":  result.PassRate,
	})
	if err != nil {
		s.logger.Warn("run notification failed", "agent_id", agentID, "error", err)
	}
}

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *TandemServer) captureSession(ctx context.Context, agentID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(agentID, session.SessionID())
	}
}

// decodeArg converts a parsed argument map into a typed value via JSON.
func decodeArg(raw map[string]any, target any, name string) *mcp.CallToolResult {
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid %s: %v", name, err))
	}
	if err := json.Unmarshal(data, target); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return nil
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// graphFilter builds a workflow/journey list filter from query arguments.
func graphFilter(filter map[string]any) store.GraphFilter {
	gf := store.GraphFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if name, ok := filter["name"].(string); ok {
		gf.Name = name
	}
	gf.Since = extractTime(filter, "since")
	return gf
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractTime parses an RFC3339 timestamp from a filter map.
func extractTime(filter map[string]any, key string) *time.Time {
	if filter == nil {
		return nil
	}
	raw, ok := filter[key].(string)
	if !ok || raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	return nil
}
