package convert

import (
	"fmt"

	"github.com/tandemlab/tandem/pkg/schema"
)

// LoopContinueEvent drives the synthesized loop-back transition when the
// loop node declares no continuation condition.
const LoopContinueEvent = "loop_continue"

// emitSingle generates one state for a node and maps it as both the node's
// entry and exit. Shared by all single-state converters.
func emitSingle(gen *Generator, node *schema.Node, ctx *Context, stateType schema.StateType) schema.JourneyState {
	s := gen.GenerateState(node, ctx, stateType, nil)
	ctx.AddState(s)
	ctx.MapStates(node.ID, s.ID, s.ID)
	return s
}

// --- initial_state ---

type initialConverter struct{ gen *Generator }

func (c *initialConverter) Strategy() schema.ConversionStrategy { return schema.StrategyInitialState }

func (c *initialConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	emitSingle(c.gen, node, ctx, schema.StateTypeInitial)
	return nil
}

// --- conditional_branching ---

type branchingConverter struct{ gen *Generator }

func (c *branchingConverter) Strategy() schema.ConversionStrategy {
	return schema.StrategyConditionalBranching
}

func (c *branchingConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	// One condition state; the per-branch transitions come from the node's
	// outgoing edges during wiring.
	emitSingle(c.gen, node, ctx, schema.StateTypeCondition)
	return nil
}

// --- loop_construct ---

type loopConverter struct{ gen *Generator }

func (c *loopConverter) Strategy() schema.ConversionStrategy { return schema.StrategyLoopConstruct }

func (c *loopConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	startOv := &StateOverrides{
		ID:   StateIDPrefix + node.ID + "_start",
		Name: containerStateName(node, "Start"),
	}
	if cfg := containerConfig(node, "condition", "max_iterations", "collection", "iterator"); cfg != nil {
		startOv.Config = cfg
	}
	start := c.gen.GenerateState(node, ctx, schema.StateTypeLoopStart, startOv)
	end := c.gen.GenerateState(node, ctx, schema.StateTypeLoopEnd, &StateOverrides{
		ID:   StateIDPrefix + node.ID + "_end",
		Name: containerStateName(node, "End"),
	})
	ctx.AddState(start)
	ctx.AddState(end)
	ctx.MapStates(node.ID, start.ID, end.ID)

	back := schema.JourneyTransition{
		ID:   "t_" + node.ID + "_loopback",
		From: end.ID,
		To:   start.ID,
	}
	if cond := node.Data.GetString("condition"); cond != "" {
		back.Condition = cond
	} else {
		back.Event = LoopContinueEvent
	}
	ctx.AddTransition(back)
	return nil
}

// --- parallel_construct ---

type parallelConverter struct{ gen *Generator }

func (c *parallelConverter) Strategy() schema.ConversionStrategy {
	return schema.StrategyParallelConstruct
}

func (c *parallelConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	startOv := &StateOverrides{
		ID:   StateIDPrefix + node.ID + "_start",
		Name: containerStateName(node, "Start"),
	}
	if cfg := containerConfig(node, "max_concurrency", "branches"); cfg != nil {
		startOv.Config = cfg
	}
	start := c.gen.GenerateState(node, ctx, schema.StateTypeParallelStart, startOv)
	end := c.gen.GenerateState(node, ctx, schema.StateTypeParallelEnd, &StateOverrides{
		ID:   StateIDPrefix + node.ID + "_end",
		Name: containerStateName(node, "End"),
	})
	ctx.AddState(start)
	ctx.AddState(end)
	ctx.MapStates(node.ID, start.ID, end.ID)
	return nil
}

// --- final_state ---

type finalConverter struct{ gen *Generator }

func (c *finalConverter) Strategy() schema.ConversionStrategy { return schema.StrategyFinalState }

func (c *finalConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	emitSingle(c.gen, node, ctx, schema.StateTypeFinal)
	return nil
}

// --- tool_state ---

type toolConverter struct{ gen *Generator }

func (c *toolConverter) Strategy() schema.ConversionStrategy { return schema.StrategyToolState }

func (c *toolConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	emitSingle(c.gen, node, ctx, schema.StateTypeTool)
	return nil
}

// --- chat_state ---

type chatConverter struct{ gen *Generator }

func (c *chatConverter) Strategy() schema.ConversionStrategy { return schema.StrategyChatState }

func (c *chatConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	emitSingle(c.gen, node, ctx, schema.StateTypeChat)
	return nil
}

// --- subjourney ---

type subjourneyConverter struct{ gen *Generator }

func (c *subjourneyConverter) Strategy() schema.ConversionStrategy { return schema.StrategySubjourney }

func (c *subjourneyConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	s := c.gen.GenerateState(node, ctx, schema.StateTypeTool, nil)
	if ref := node.Data.GetString("workflow_id"); ref != "" {
		if s.Config == nil {
			s.Config = make(map[string]any)
		}
		s.Config["sub_journey"] = ref
	} else {
		ctx.AddWarning("workflow node %s references no workflow_id", node.ID)
	}
	ctx.AddState(s)
	ctx.MapStates(node.ID, s.ID, s.ID)
	return nil
}

// --- complex_multi_state ---

type multiStateConverter struct{ gen *Generator }

func (c *multiStateConverter) Strategy() schema.ConversionStrategy {
	return schema.StrategyComplexMultiState
}

func (c *multiStateConverter) Convert(node *schema.Node, analysis NodeAnalysis, ctx *Context) error {
	states := c.gen.GenerateMultipleStates(node, ctx, analysis.RequiredStates)
	for _, s := range states {
		ctx.AddState(s)
	}
	for i := 0; i < len(states)-1; i++ {
		ctx.AddTransition(schema.JourneyTransition{
			ID:   fmt.Sprintf("t_%s_seq_%d", node.ID, i+1),
			From: states[i].ID,
			To:   states[i+1].ID,
		})
	}
	ctx.MapStates(node.ID, states[0].ID, states[len(states)-1].ID)
	return nil
}

// --- standard (and generic fallback) ---

type standardConverter struct{ gen *Generator }

func (c *standardConverter) Strategy() schema.ConversionStrategy { return schema.StrategyStandard }

func (c *standardConverter) Convert(node *schema.Node, _ NodeAnalysis, ctx *Context) error {
	emitSingle(c.gen, node, ctx, StateTypeForNode(node))
	return nil
}

// containerStateName suffixes the node's own name, deferring to the
// type-default table when the node is unnamed.
func containerStateName(node *schema.Node, suffix string) string {
	if node.Name == "" {
		return ""
	}
	return node.Name + " " + suffix
}

// containerConfig copies the listed node data keys into a state config,
// returning nil when none are present.
func containerConfig(node *schema.Node, keys ...string) map[string]any {
	var cfg map[string]any
	for _, k := range keys {
		v, ok := node.Data[k]
		if !ok {
			continue
		}
		if cfg == nil {
			cfg = make(map[string]any)
		}
		cfg[k] = schema.DeepCopyValue(v)
	}
	return cfg
}
