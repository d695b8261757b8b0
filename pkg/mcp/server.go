package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tandemlab/tandem/internal/compat"
	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/store"
	"github.com/tandemlab/tandem/internal/suite"
	"github.com/tandemlab/tandem/internal/validation"
)

// TandemServerDeps holds the dependencies for creating a TandemServer.
type TandemServerDeps struct {
	Store        store.Store
	Converter    *convert.Engine
	Validator    *validation.Validator
	Comparator   *compat.Engine
	Orchestrator *suite.Orchestrator
	Logger       *slog.Logger
}

// TandemServer wraps an MCP server with conversion and verification tool
// handlers.
type TandemServer struct {
	store        store.Store
	converter    *convert.Engine
	validator    *validation.Validator
	comparator   *compat.Engine
	orchestrator *suite.Orchestrator
	logger       *slog.Logger
	sessions     *SessionRegistry
	notifier     AgentNotifier
	mcpServer    *server.MCPServer
}

// NewTandemServer creates a new TandemServer with all 6 tools registered.
func NewTandemServer(deps TandemServerDeps) *TandemServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &TandemServer{
		store:        deps.Store,
		converter:    deps.Converter,
		validator:    deps.Validator,
		comparator:   deps.Comparator,
		orchestrator: deps.Orchestrator,
		logger:       logger,
		sessions:     NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"tandem",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Tandem transpiles visual workflow graphs into conversational journeys and verifies that both representations behave the same. Use tandem.convert_workflow to generate a journey from a graph, tandem.validate to check graphs/journeys/conversions, tandem.compare_results to deep-diff two execution results, tandem.run_suite to run compatibility test suites, tandem.query to list stored artifacts, and tandem.diagram to render a journey."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *TandemServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *TandemServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *TandemServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: convertTool(), Handler: s.handleConvert},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: compareTool(), Handler: s.handleCompare},
		{Tool: runSuiteTool(), Handler: s.handleRunSuite},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func convertTool() mcp.Tool {
	return mcp.NewTool("tandem.convert_workflow",
		mcp.WithDescription("Convert a visual workflow graph into a conversational journey"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow graph to convert")),
		mcp.WithObject("workflow", mcp.Description("Inline workflow graph (alternative to workflow_id)")),
		mcp.WithBoolean("preserve_layout", mcp.Description("Preserve node positions and audit snapshots (default: true)")),
		mcp.WithBoolean("generate_descriptions", mcp.Description("Fill missing state descriptions from type defaults (default: true)")),
		mcp.WithBoolean("strict", mcp.Description("Fail on nodes that need the generic fallback converter (default: false)")),
		mcp.WithBoolean("save", mcp.Description("Persist the converted journey (default: false)")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent, used for notifications")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("tandem.validate",
		mcp.WithDescription("Validate a workflow graph, a journey, or a workflow/journey conversion pair"),
		mcp.WithString("target", mcp.Required(),
			mcp.Enum("workflow", "journey", "conversion"),
			mcp.Description("What to validate"),
		),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow graph")),
		mcp.WithObject("workflow", mcp.Description("Inline workflow graph")),
		mcp.WithString("journey_id", mcp.Description("ID of a stored journey")),
		mcp.WithObject("journey", mcp.Description("Inline journey")),
	)
}

func compareTool() mcp.Tool {
	return mcp.NewTool("tandem.compare_results",
		mcp.WithDescription("Deep-diff a workflow execution result against a journey execution result and score their similarity"),
		mcp.WithObject("workflow_result", mcp.Required(), mcp.Description("Execution result reported by the workflow engine")),
		mcp.WithObject("journey_result", mcp.Required(), mcp.Description("Execution result reported by the journey engine")),
		mcp.WithNumber("max_depth", mcp.Description("Structural recursion bound (default: 10)")),
		mcp.WithBoolean("compare_duration", mcp.Description("Include the timing check (default: true)")),
		mcp.WithNumber("duration_tolerance_ms", mcp.Description("Allowed duration delta in milliseconds (default: 1000)")),
	)
}

func runSuiteTool() mcp.Tool {
	return mcp.NewTool("tandem.run_suite",
		mcp.WithDescription("Run a compatibility test suite and report per-test outcomes"),
		mcp.WithString("suite_name", mcp.Description("Name of a registered or stored suite")),
		mcp.WithObject("suite", mcp.Description("Inline suite definition (alternative to suite_name)")),
		mcp.WithBoolean("async", mcp.Description("Return immediately and notify on completion (default: false)")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent, used for run-completed notifications")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("tandem.query",
		mcp.WithDescription("Query stored workflows, journeys, suites, runs, results, run events, or schedules, render a run report, or replay a run's event trail"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "journeys", "suites", "runs", "results", "events", "schedules", "report", "replay"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (name, since, limit, offset, suite_name, run_id, status, kind, enabled, sequence)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("tandem.diagram",
		mcp.WithDescription("Render a journey as a diagram. Returns Mermaid flowchart syntax, DOT source, SVG text, or a base64-encoded PNG"),
		mcp.WithString("journey_id", mcp.Description("ID of a stored journey to render")),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow graph; its journey is looked up or converted on the fly")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "dot", "svg", "png"),
			mcp.Description("Output format: mermaid (flowchart syntax), dot (graphviz source), svg (markup), or png (base64)"),
		),
	)
}
