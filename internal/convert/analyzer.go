package convert

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/tandemlab/tandem/internal/expressions"
	"github.com/tandemlab/tandem/pkg/schema"
)

// ComplexityClass buckets a node's estimated conversion difficulty.
type ComplexityClass string

const (
	ComplexityLow    ComplexityClass = "low"
	ComplexityMedium ComplexityClass = "medium"
	ComplexityHigh   ComplexityClass = "high"
)

// Special-handling tags attached by analysis.
const (
	HandlingContainer    = "container"
	HandlingNested       = "nested"
	HandlingConditional  = "conditional_routing"
	HandlingComplex      = "high_complexity"
	HandlingDependencies = "cross_node_dependencies"
)

// NodeAnalysis is the transient product of analyzing one node: produced by
// analysis, consumed by generation, then discarded.
type NodeAnalysis struct {
	NodeID              string
	Type                schema.NodeType
	Complexity          float64
	Strategy            schema.ConversionStrategy
	RequiredStates      int
	Class               ComplexityClass
	SpecialHandling     []string
	Dependencies        []string
	ConditionalOutgoing int
}

// Analyzer classifies workflow nodes, picks conversion strategies, and
// estimates required state counts. Stateless and safe for concurrent use.
type Analyzer struct{}

// NewAnalyzer creates a node analyzer.
func NewAnalyzer() *Analyzer { return &Analyzer{} }

// Analyze produces the NodeAnalysis for one node. High estimated complexity
// records a non-fatal warning on the context.
func (a *Analyzer) Analyze(node *schema.Node, ctx *Context) NodeAnalysis {
	complexity := a.complexity(node)
	condOut := ctx.ConditionalOutgoing(node.ID)
	strategy := a.strategy(node, complexity)
	required := a.requiredStates(strategy, complexity, condOut)
	deps := a.dependencies(node, ctx)
	class := a.classify(complexity, required)

	if class == ComplexityHigh {
		ctx.AddWarning("node %s: high conversion complexity %.1f (%d states)", node.ID, complexity, required)
	}

	return NodeAnalysis{
		NodeID:              node.ID,
		Type:                node.Type,
		Complexity:          complexity,
		Strategy:            strategy,
		RequiredStates:      required,
		Class:               class,
		SpecialHandling:     a.specialHandling(node, complexity, condOut, deps),
		Dependencies:        deps,
		ConditionalOutgoing: condOut,
	}
}

// complexity scores a node: type-base weight + 0.1 per config key + 0.5 per
// sub-block, rounded to one decimal.
func (a *Analyzer) complexity(node *schema.Node) float64 {
	var base float64
	switch node.Type {
	case schema.NodeTypeLoop, schema.NodeTypeParallel:
		base = 4
	case schema.NodeTypeCondition:
		base = 3
	case schema.NodeTypeStarter, schema.NodeTypeResponse:
		base = 1
	default:
		base = 2
	}
	score := base + 0.1*float64(len(node.Data)) + 0.5*float64(len(node.Data.SubBlocks()))
	return math.Round(score*10) / 10
}

// strategy picks the conversion strategy from the fixed priority table.
// The switch is exhaustive over NodeType; new types fall to the default arm
// and must be revisited deliberately.
func (a *Analyzer) strategy(node *schema.Node, complexity float64) schema.ConversionStrategy {
	switch node.Type {
	case schema.NodeTypeStarter:
		return schema.StrategyInitialState
	case schema.NodeTypeCondition, schema.NodeTypeRouter:
		return schema.StrategyConditionalBranching
	case schema.NodeTypeLoop:
		return schema.StrategyLoopConstruct
	case schema.NodeTypeParallel:
		return schema.StrategyParallelConstruct
	case schema.NodeTypeResponse:
		return schema.StrategyFinalState
	case schema.NodeTypeAPI, schema.NodeTypeFunction:
		return schema.StrategyToolState
	case schema.NodeTypeAgent:
		return schema.StrategyChatState
	case schema.NodeTypeWorkflow:
		return schema.StrategySubjourney
	case schema.NodeTypeWebhook, schema.NodeTypeTrigger:
		fallthrough
	default:
		if complexity > 3 {
			return schema.StrategyComplexMultiState
		}
		return schema.StrategyStandard
	}
}

// requiredStates estimates how many journey states the node expands into.
func (a *Analyzer) requiredStates(strategy schema.ConversionStrategy, complexity float64, condOut int) int {
	switch strategy {
	case schema.StrategyConditionalBranching:
		return 1 + condOut
	case schema.StrategyLoopConstruct, schema.StrategyParallelConstruct:
		return 3 // start / body / end
	case schema.StrategyComplexMultiState:
		return int(math.Ceil(complexity / 2))
	default:
		return 1
	}
}

// classify buckets (complexity, requiredStates) into low/medium/high.
func (a *Analyzer) classify(complexity float64, required int) ComplexityClass {
	switch {
	case complexity >= 6 || required >= 4:
		return ComplexityHigh
	case complexity >= 3 || required >= 2:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

// specialHandling collects the tags downstream generation must honor.
func (a *Analyzer) specialHandling(node *schema.Node, complexity float64, condOut int, deps []string) []string {
	var tags []string
	if node.Type.IsContainer() {
		tags = append(tags, HandlingContainer)
	}
	if node.ParentID != "" {
		tags = append(tags, HandlingNested)
	}
	if condOut > 0 || node.Type == schema.NodeTypeRouter {
		tags = append(tags, HandlingConditional)
	}
	if complexity > 3 {
		tags = append(tags, HandlingComplex)
	}
	if len(deps) > 0 {
		tags = append(tags, HandlingDependencies)
	}
	return tags
}

// explicitRefKeys are config keys that name other nodes directly.
var explicitRefKeys = []string{"depends_on", "references", "source_node"}

// dependencies gathers the node IDs this node depends on: its parent
// container, explicit reference fields, and variable references scanned from
// the serialized config. Only IDs resolving to real nodes are kept.
func (a *Analyzer) dependencies(node *schema.Node, ctx *Context) []string {
	seen := make(map[string]bool)
	var deps []string
	add := func(id string) {
		if id == "" || id == node.ID || seen[id] || ctx.Node(id) == nil {
			return
		}
		seen[id] = true
		deps = append(deps, id)
	}

	add(node.ParentID)

	for _, key := range explicitRefKeys {
		switch v := node.Data[key].(type) {
		case string:
			add(v)
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
	}

	if len(node.Data) > 0 {
		if raw, err := json.Marshal(node.Data); err == nil {
			for _, ref := range expressions.ScanVariableRefs(string(raw)) {
				add(expressions.RefRoot(ref))
			}
		}
	}

	sort.Strings(deps)
	return deps
}
