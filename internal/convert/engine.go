package convert

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

// Validator cross-checks conversion output. Implemented by the validation
// package; nil disables output validation.
type Validator interface {
	ValidateJourney(journey *schema.Journey) *schema.ValidationResult
	ValidateConversion(graph *schema.Workflow, journey *schema.Journey) *schema.ValidationResult
}

// EngineConfig holds configuration for the conversion engine.
type EngineConfig struct {
	Version string // stamped into journey metadata, "dev" when empty
}

// Engine orchestrates node analysis, state generation, and transition
// wiring into a complete workflow-to-journey conversion.
type Engine struct {
	analyzer  *Analyzer
	generator *Generator
	registry  *Registry
	validator Validator
	hub       streaming.EventHub
	logger    *slog.Logger
	version   string
}

// NewEngine creates a conversion engine. registry nil installs the built-in
// converter set; validator and hub are optional.
func NewEngine(registry *Registry, validator Validator, hub streaming.EventHub, logger *slog.Logger, cfg EngineConfig) *Engine {
	gen := NewGenerator()
	if registry == nil {
		registry = DefaultRegistry(gen)
	}
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Engine{
		analyzer:  NewAnalyzer(),
		generator: gen,
		registry:  registry,
		validator: validator,
		hub:       hub,
		logger:    logger,
		version:   version,
	}
}

// SetValidator installs the output validator after construction. The
// validation layer needs the engine as its converter catalog, so one
// side has to be wired late.
func (e *Engine) SetValidator(v Validator) {
	e.validator = v
}

// Convert transpiles a workflow graph into a journey. Findings from the
// conversion and any output validation are returned alongside the journey;
// a non-nil error means no journey could be produced at all.
func (e *Engine) Convert(ctx context.Context, graph *schema.Workflow, opts Options) (*schema.Journey, *schema.ValidationResult, error) {
	if graph == nil {
		return nil, nil, schema.NewError(schema.ErrCodeConversion, "workflow is nil")
	}

	streaming.Publish(ctx, e.hub, streaming.StreamEvent{
		EventType:  schema.EventConversionStarted,
		WorkflowID: graph.ID,
		Payload:    map[string]any{"nodes": len(graph.Nodes), "edges": len(graph.Edges)},
	})

	cctx := NewContext(graph, opts)
	vr := &schema.ValidationResult{}

	for i := range graph.Nodes {
		node := &graph.Nodes[i]
		e.convertOne(node, cctx, vr)
	}

	e.wireEdges(cctx, vr)
	e.wireContainers(cctx)
	e.ensureInitial(cctx, vr)
	e.ensureFinal(cctx, vr)

	journey := e.buildJourney(graph, cctx)

	if opts.ValidateOutput && e.validator != nil {
		vr.Merge(e.validator.ValidateJourney(journey))
		vr.Merge(e.validator.ValidateConversion(graph, journey))
	}

	e.logger.Info("workflow converted",
		slog.String("workflow_id", graph.ID),
		slog.String("journey_id", journey.ID),
		slog.Int("states", len(journey.States)),
		slog.Int("transitions", len(journey.Transitions)),
		slog.Bool("valid", vr.Valid()),
	)
	streaming.Publish(ctx, e.hub, streaming.StreamEvent{
		EventType:  schema.EventConversionCompleted,
		WorkflowID: graph.ID,
		JourneyID:  journey.ID,
		Payload: map[string]any{
			"states":      len(journey.States),
			"transitions": len(journey.Transitions),
			"warnings":    len(cctx.Warnings()),
		},
	})

	return journey, vr, nil
}

// StrategyFor reports the conversion strategy the engine would pick for a
// node, without running any converter.
func (e *Engine) StrategyFor(node *schema.Node) schema.ConversionStrategy {
	return e.analyzer.strategy(node, e.analyzer.complexity(node))
}

// CanConvert reports whether a dedicated or generic converter is registered
// for the node's strategy.
func (e *Engine) CanConvert(node *schema.Node) bool {
	_, _, err := e.registry.Resolve(e.StrategyFor(node))
	return err == nil
}

// convertOne analyzes and converts a single node, isolating its failures:
// a failed node is rolled back and recorded, never aborting the run.
func (e *Engine) convertOne(node *schema.Node, cctx *Context, vr *schema.ValidationResult) {
	path := "nodes." + node.ID

	analysis := e.analyzer.Analyze(node, cctx)
	cctx.RecordStrategy(node.ID, analysis.Strategy)

	converter, fallback, err := e.registry.Resolve(analysis.Strategy)
	if err != nil {
		vr.AddWarning(path, schema.CodeNoConverter,
			fmt.Sprintf("no converter for strategy %q; node skipped", analysis.Strategy))
		cctx.AddWarning("node %s skipped: no converter for strategy %s", node.ID, analysis.Strategy)
		return
	}
	if fallback {
		if cctx.Options.StrictMode {
			vr.AddError(path, schema.CodeGenericFallback,
				fmt.Sprintf("no converter for strategy %q in strict mode", analysis.Strategy))
			return
		}
		vr.AddWarning(path, schema.CodeGenericFallback,
			fmt.Sprintf("strategy %q handled by the generic converter", analysis.Strategy))
		cctx.AddWarning("node %s converted generically (strategy %s)", node.ID, analysis.Strategy)
	}

	states, transitions := cctx.mark()
	if err := e.runConverter(converter, node, analysis, cctx); err != nil {
		cctx.rollbackTo(states, transitions, node.ID)
		vr.AddError(path, schema.CodeConversionFailed, err.Error())
		e.logger.Warn("node conversion failed",
			slog.String("node_id", node.ID),
			slog.String("strategy", string(analysis.Strategy)),
			slog.String("error", err.Error()),
		)
		return
	}

	if cctx.Options.PreserveLayout {
		if s := cctx.StateByID(cctx.PrimaryStateOf(node.ID)); s != nil {
			s.Preservation = e.generator.CreateStatePreservation(node, cctx)
		}
	}
	for _, v := range e.generator.ExtractNodeVariables(node) {
		cctx.AddVariable(v)
	}
}

// runConverter invokes a converter, turning panics into errors.
func (e *Engine) runConverter(c Converter, node *schema.Node, analysis NodeAnalysis, cctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeConversion, "converter panic: %v", r)
		}
	}()
	return c.Convert(node, analysis, cctx)
}

// wireEdges maps graph edges onto transitions between the states their
// endpoint nodes produced. Container boundaries redirect: an edge from a
// container to its own child leaves the start state; an edge from a child
// back to its container enters the end state.
func (e *Engine) wireEdges(cctx *Context, vr *schema.ValidationResult) {
	for _, edge := range cctx.Graph.Edges {
		path := "edges." + edge.ID
		src := cctx.Node(edge.Source)
		dst := cctx.Node(edge.Target)
		if src == nil || dst == nil {
			vr.AddWarning(path, schema.CodeUnknownEndpoint,
				fmt.Sprintf("edge references unknown node %q", missingEndpoint(edge, src)))
			continue
		}

		from := cctx.TerminalStateOf(edge.Source)
		to := cctx.PrimaryStateOf(edge.Target)
		if src.Type.IsContainer() && dst.ParentID == src.ID {
			from = cctx.PrimaryStateOf(edge.Source)
		}
		if dst.Type.IsContainer() && src.ParentID == dst.ID {
			to = cctx.TerminalStateOf(edge.Target)
		}
		if from == "" || to == "" {
			vr.AddWarning(path, schema.CodeUnknownEndpoint, "edge endpoint produced no states; transition skipped")
			continue
		}

		t := schema.JourneyTransition{ID: "t_" + edge.ID, From: from, To: to}
		if edge.Condition != "" {
			t.Condition = edge.Condition
		} else if bv := edge.BranchValue(); bv != "" {
			t.Condition = fmt.Sprintf("variables.%s == %q", ConditionVariable(src), bv)
		}
		cctx.AddTransition(t)
	}
}

// wireContainers connects container start/end states to their body: entry
// children hang off the start state, exit children feed the end state, and
// an empty container short-circuits start to end. Explicit transitions from
// edge wiring are never duplicated.
func (e *Engine) wireContainers(cctx *Context) {
	for i := range cctx.Graph.Nodes {
		node := &cctx.Graph.Nodes[i]
		if !node.Type.IsContainer() {
			continue
		}
		startID := cctx.PrimaryStateOf(node.ID)
		endID := cctx.TerminalStateOf(node.ID)
		if startID == "" || endID == "" || startID == endID {
			continue
		}

		children := cctx.Graph.ChildrenOf(node.ID)
		if len(children) == 0 {
			if !cctx.hasTransition(startID, endID) {
				cctx.AddTransition(schema.JourneyTransition{
					ID:   "t_" + node.ID + "_body",
					From: startID,
					To:   endID,
				})
			}
			continue
		}

		for _, childID := range children {
			childPrim := cctx.PrimaryStateOf(childID)
			childTerm := cctx.TerminalStateOf(childID)
			if childPrim == "" {
				continue
			}
			if !cctx.hasSiblingEdge(childID, node.ID, edgeIncoming) && !cctx.hasTransition(startID, childPrim) {
				cctx.AddTransition(schema.JourneyTransition{
					ID:   fmt.Sprintf("t_%s_enter_%s", node.ID, childID),
					From: startID,
					To:   childPrim,
				})
			}
			if !cctx.hasSiblingEdge(childID, node.ID, edgeOutgoing) && !cctx.hasTransition(childTerm, endID) {
				cctx.AddTransition(schema.JourneyTransition{
					ID:   fmt.Sprintf("t_%s_exit_%s", node.ID, childID),
					From: childTerm,
					To:   endID,
				})
			}
		}
	}
}

// ensureInitial guarantees exactly one initial state: zero initials get a
// synthesized entry wired to the states nothing points at, extras are
// demoted to chat states.
func (e *Engine) ensureInitial(cctx *Context, vr *schema.ValidationResult) {
	var initials []int
	for i := range cctx.states {
		if cctx.states[i].Type == schema.StateTypeInitial {
			initials = append(initials, i)
		}
	}

	switch {
	case len(initials) == 0:
		vr.AddWarning("journey", schema.CodeNoInitialState, "no initial state produced; entry state synthesized")
		cctx.AddWarning("synthesized entry state: workflow has no starter node")
		entry := schema.JourneyState{
			ID:          StateIDPrefix + "initial",
			Type:        schema.StateTypeInitial,
			Name:        stateDefaults[schema.StateTypeInitial].name,
			Description: stateDefaults[schema.StateTypeInitial].desc,
		}
		targets := cctx.statesWithNoIncoming()
		cctx.AddState(entry)
		if len(targets) == 0 && len(cctx.states) > 1 {
			targets = []string{cctx.states[0].ID}
		}
		for _, id := range targets {
			cctx.AddTransition(schema.JourneyTransition{
				ID:   "t_initial_" + id,
				From: entry.ID,
				To:   id,
			})
		}
	case len(initials) > 1:
		vr.AddWarning("journey", schema.CodeMultipleInitial,
			fmt.Sprintf("%d initial states produced; extras demoted to chat", len(initials)))
		for _, i := range initials[1:] {
			cctx.states[i].Type = schema.StateTypeChat
		}
	}
}

// ensureFinal guarantees at least one final state, synthesizing one fed by
// every dead-end state when the workflow declared no terminal node.
func (e *Engine) ensureFinal(cctx *Context, vr *schema.ValidationResult) {
	for i := range cctx.states {
		if cctx.states[i].Type == schema.StateTypeFinal {
			return
		}
	}

	vr.AddWarning("journey", schema.CodeNoFinalState, "no final state produced; exit state synthesized")
	cctx.AddWarning("synthesized exit state: workflow has no terminal node")
	exit := schema.JourneyState{
		ID:          StateIDPrefix + "final",
		Type:        schema.StateTypeFinal,
		Name:        stateDefaults[schema.StateTypeFinal].name,
		Description: stateDefaults[schema.StateTypeFinal].desc,
	}
	sources := cctx.statesWithNoOutgoing()
	cctx.AddState(exit)
	if len(sources) == 0 && len(cctx.states) > 1 {
		sources = []string{cctx.states[len(cctx.states)-2].ID}
	}
	for _, id := range sources {
		cctx.AddTransition(schema.JourneyTransition{
			ID:   "t_" + id + "_final",
			From: id,
			To:   exit.ID,
		})
	}
}

// buildJourney assembles the final journey with its conversion metadata.
func (e *Engine) buildJourney(graph *schema.Workflow, cctx *Context) *schema.Journey {
	vars := make(map[string]schema.Variable, len(cctx.varOrder))
	for _, name := range cctx.varOrder {
		vars[name] = cctx.variables[name]
	}

	return &schema.Journey{
		ID:          uuid.NewString(),
		WorkflowID:  graph.ID,
		Name:        firstNonEmpty(graph.Name, "Untitled Journey"),
		Description: graph.Description,
		States:      cctx.states,
		Transitions: cctx.transitions,
		Variables:   vars,
		Metadata: &schema.ConversionMetadata{
			ConvertedAt:    time.Now().UTC(),
			ToolVersion:    e.version,
			NodeCount:      len(graph.Nodes),
			EdgeCount:      len(graph.Edges),
			StrategyCounts: cctx.StrategyCounts(),
			NodeStateMap:   maps.Clone(cctx.primary),
			Warnings:       cctx.Warnings(),
		},
	}
}

func missingEndpoint(edge schema.Edge, src *schema.Node) string {
	if src == nil {
		return edge.Source
	}
	return edge.Target
}
