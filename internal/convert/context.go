package convert

import (
	"fmt"

	"github.com/tandemlab/tandem/pkg/schema"
)

// Options control a single conversion run.
type Options struct {
	// PreserveLayout copies node positions onto states, attaches the
	// _preserved_<nodeId> snapshot variable, and builds the audit bundle.
	PreserveLayout bool
	// GenerateDescriptions fills state descriptions from the type-default
	// table when the node provides none.
	GenerateDescriptions bool
	// ValidateOutput runs journey and cross-validation on the result.
	ValidateOutput bool
	// StrictMode upgrades the generic-converter fallback to an error.
	StrictMode bool
}

// DefaultOptions returns the options used when callers pass none.
func DefaultOptions() Options {
	return Options{
		PreserveLayout:       true,
		GenerateDescriptions: true,
		ValidateOutput:       true,
	}
}

// Context carries the graph indexes and accumulators for one conversion.
// It is not safe for concurrent use; each Convert call builds its own.
type Context struct {
	Graph   *schema.Workflow
	Options Options

	nodes    map[string]*schema.Node
	outgoing map[string][]schema.Edge
	incoming map[string][]schema.Edge

	states      []schema.JourneyState
	transitions []schema.JourneyTransition
	variables   map[string]schema.Variable
	varOrder    []string
	primary     map[string]string // node ID -> primary (entry) state ID
	terminal    map[string]string // node ID -> terminal (exit) state ID
	strategies  map[string]schema.ConversionStrategy
	warnings    []string
}

// NewContext indexes the graph for conversion.
func NewContext(graph *schema.Workflow, opts Options) *Context {
	c := &Context{
		Graph:      graph,
		Options:    opts,
		nodes:      make(map[string]*schema.Node, len(graph.Nodes)),
		outgoing:   make(map[string][]schema.Edge),
		incoming:   make(map[string][]schema.Edge),
		variables:  make(map[string]schema.Variable),
		primary:    make(map[string]string),
		terminal:   make(map[string]string),
		strategies: make(map[string]schema.ConversionStrategy),
	}
	for i := range graph.Nodes {
		n := &graph.Nodes[i]
		c.nodes[n.ID] = n
	}
	for _, e := range graph.Edges {
		c.outgoing[e.Source] = append(c.outgoing[e.Source], e)
		c.incoming[e.Target] = append(c.incoming[e.Target], e)
	}
	return c
}

// Node returns the node with the given ID, or nil.
func (c *Context) Node(id string) *schema.Node { return c.nodes[id] }

// Outgoing returns the edges leaving a node.
func (c *Context) Outgoing(id string) []schema.Edge { return c.outgoing[id] }

// Incoming returns the edges entering a node.
func (c *Context) Incoming(id string) []schema.Edge { return c.incoming[id] }

// ConditionalOutgoing counts the conditional edges leaving a node.
func (c *Context) ConditionalOutgoing(id string) int {
	n := 0
	for _, e := range c.outgoing[id] {
		if e.IsConditional() {
			n++
		}
	}
	return n
}

// AddState appends a generated state.
func (c *Context) AddState(s schema.JourneyState) {
	c.states = append(c.states, s)
}

// AddTransition appends a generated transition.
func (c *Context) AddTransition(t schema.JourneyTransition) {
	c.transitions = append(c.transitions, t)
}

// AddVariable registers a journey-level variable. On a name collision with a
// different source node, the variable is stored under <nodeID>_<name>.
func (c *Context) AddVariable(v schema.Variable) {
	name := v.Name
	if prev, ok := c.variables[name]; ok {
		if prev.SourceNodeID == v.SourceNodeID {
			return
		}
		name = v.SourceNodeID + "_" + v.Name
		if _, taken := c.variables[name]; taken {
			return
		}
		v.Name = name
	}
	c.variables[name] = v
	c.varOrder = append(c.varOrder, name)
}

// AddWarning records a non-fatal conversion note.
func (c *Context) AddWarning(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

// MapStates records the primary and terminal state for a node. Converters
// producing a single state pass it as both.
func (c *Context) MapStates(nodeID, primaryID, terminalID string) {
	c.primary[nodeID] = primaryID
	c.terminal[nodeID] = terminalID
}

// RecordStrategy notes the strategy chosen for a node.
func (c *Context) RecordStrategy(nodeID string, s schema.ConversionStrategy) {
	c.strategies[nodeID] = s
}

// StrategyCounts tallies chosen strategies for conversion metadata.
func (c *Context) StrategyCounts() map[string]int {
	counts := make(map[string]int, len(c.strategies))
	for _, s := range c.strategies {
		counts[string(s)]++
	}
	return counts
}

// Warnings returns the accumulated conversion notes.
func (c *Context) Warnings() []string { return c.warnings }

// mark checkpoints the state and transition accumulators.
func (c *Context) mark() (states, transitions int) {
	return len(c.states), len(c.transitions)
}

// rollbackTo discards everything a failed node conversion added after the
// checkpoint and unmaps the node.
func (c *Context) rollbackTo(states, transitions int, nodeID string) {
	c.states = c.states[:states]
	c.transitions = c.transitions[:transitions]
	delete(c.primary, nodeID)
	delete(c.terminal, nodeID)
}

// PrimaryStateOf returns the entry state ID generated for a node, or "".
func (c *Context) PrimaryStateOf(nodeID string) string { return c.primary[nodeID] }

// TerminalStateOf returns the exit state ID generated for a node, or "".
func (c *Context) TerminalStateOf(nodeID string) string { return c.terminal[nodeID] }

// StateByID returns a pointer into the accumulated state list, or nil.
func (c *Context) StateByID(id string) *schema.JourneyState {
	for i := range c.states {
		if c.states[i].ID == id {
			return &c.states[i]
		}
	}
	return nil
}

type edgeDirection int

const (
	edgeIncoming edgeDirection = iota
	edgeOutgoing
)

// hasTransition reports whether a transition from -> to already exists.
func (c *Context) hasTransition(from, to string) bool {
	for _, t := range c.transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// hasSiblingEdge reports whether a child node has an edge in the given
// direction whose peer is another child of the same container. Edges from
// outside the container or from the container itself do not count.
func (c *Context) hasSiblingEdge(childID, containerID string, dir edgeDirection) bool {
	var edges []schema.Edge
	if dir == edgeIncoming {
		edges = c.incoming[childID]
	} else {
		edges = c.outgoing[childID]
	}
	for _, e := range edges {
		peerID := e.Source
		if dir == edgeOutgoing {
			peerID = e.Target
		}
		if peer := c.nodes[peerID]; peer != nil && peer.ParentID == containerID {
			return true
		}
	}
	return false
}

// statesWithNoIncoming returns the IDs of states no transition points at,
// in state order.
func (c *Context) statesWithNoIncoming() []string {
	targeted := make(map[string]bool, len(c.transitions))
	for _, t := range c.transitions {
		targeted[t.To] = true
	}
	var out []string
	for i := range c.states {
		if !targeted[c.states[i].ID] {
			out = append(out, c.states[i].ID)
		}
	}
	return out
}

// statesWithNoOutgoing returns the IDs of states with no leaving
// transition, in state order.
func (c *Context) statesWithNoOutgoing() []string {
	sourced := make(map[string]bool, len(c.transitions))
	for _, t := range c.transitions {
		sourced[t.From] = true
	}
	var out []string
	for i := range c.states {
		if !sourced[c.states[i].ID] {
			out = append(out, c.states[i].ID)
		}
	}
	return out
}

// containerChain returns the parent container IDs of a node,
// innermost-first. Bounded by node count to survive malformed parent loops.
func (c *Context) containerChain(node *schema.Node) []string {
	var chain []string
	cur := node.ParentID
	for range len(c.nodes) {
		if cur == "" {
			break
		}
		chain = append(chain, cur)
		parent := c.nodes[cur]
		if parent == nil {
			break
		}
		cur = parent.ParentID
	}
	return chain
}
