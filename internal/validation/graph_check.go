package validation

import (
	"fmt"
	"strings"

	"github.com/tandemlab/tandem/pkg/schema"
)

// checkGraph runs the connectivity analysis over the node graph: entry node
// presence, disconnected nodes, and cycle discovery. Cycles are legal in
// visual workflows (loop containers unroll them), so they surface as
// warnings, never as errors.
func checkGraph(w *schema.Workflow, res *schema.ValidationResult) {
	out := outgoingIndex(w)

	if !hasEntryNode(w) {
		res.AddWarning("nodes", schema.CodeNoStarterNode,
			"workflow has no starter, trigger, or webhook node")
	}

	for _, id := range disconnectedNodes(w) {
		res.AddWarning("nodes."+id, schema.CodeDisconnectedNode,
			fmt.Sprintf("node %q has no edges and no container", id))
	}

	for _, cycle := range findCycles(w.Nodes, out) {
		res.AddWarning("nodes."+cycle[0], schema.CodePotentialCycles,
			"potential cycle detected: "+strings.Join(cycle, " -> "))
	}
}

// outgoingIndex maps node id to its edge targets, keeping edge order and
// dropping endpoints that do not exist (reported separately).
func outgoingIndex(w *schema.Workflow) map[string][]string {
	out := make(map[string][]string, len(w.Nodes))
	for _, e := range w.Edges {
		if w.NodeByID(e.Source) == nil || w.NodeByID(e.Target) == nil {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
	}
	return out
}

func hasEntryNode(w *schema.Workflow) bool {
	for _, n := range w.Nodes {
		if n.Type.IsEntry() {
			return true
		}
	}
	return false
}

// disconnectedNodes returns nodes that participate in no edge and no
// containment relation. A single-node workflow is never disconnected.
func disconnectedNodes(w *schema.Workflow) []string {
	if len(w.Nodes) <= 1 {
		return nil
	}

	connected := make(map[string]struct{}, len(w.Nodes))
	for _, e := range w.Edges {
		if w.NodeByID(e.Source) != nil && w.NodeByID(e.Target) != nil {
			connected[e.Source] = struct{}{}
			connected[e.Target] = struct{}{}
		}
	}
	for _, n := range w.Nodes {
		if n.ParentID != "" {
			connected[n.ID] = struct{}{}
			connected[n.ParentID] = struct{}{}
		}
	}

	var isolated []string
	for _, n := range w.Nodes {
		if _, ok := connected[n.ID]; !ok {
			isolated = append(isolated, n.ID)
		}
	}
	return isolated
}

// findCycles discovers cycles with a depth-first search carrying an explicit
// recursion stack. Each back edge yields one cycle, reported as the node
// path from the re-entered node back to itself. Traversal follows node and
// edge declaration order, so reports are deterministic.
func findCycles(nodes []schema.Node, out map[string][]string) [][]string {
	const (
		white = iota // unvisited
		gray         // on the recursion stack
		black        // fully explored
	)

	color := make(map[string]int, len(nodes))
	var stack []string
	var cycles [][]string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, next := range out[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := make([]string, 0, len(stack)-start+1)
				cycle = append(cycle, stack[start:]...)
				cycle = append(cycle, next)
				cycles = append(cycles, cycle)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, n := range nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
	return cycles
}
