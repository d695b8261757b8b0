package diagram

import "strings"

// NodeKind classifies a diagram node by its journey state type.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindChat      NodeKind = "chat"
	NodeKindTool      NodeKind = "tool"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindParallel  NodeKind = "parallel"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title    string
	Nodes    []*Node
	Edges    []Edge
	Clusters []*Cluster
	Levels   [][]string
}

// Node represents a single journey state in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// Cluster groups the states generated from one workflow container
// (a loop or parallel region). Membership is by node ID.
type Cluster struct {
	ID    string
	Label string
	Nodes []string
}

// StatusOverlay carries runtime state for a node, taken from a journey
// execution result. Status is canonical.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge represents a transition between two states.
type Edge struct {
	From  string
	To    string
	Label string
}

// NodeByID returns the node with the given ID, or nil.
func (m *Model) NodeByID(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// firstLine truncates a label to its first line for renderers that cannot
// handle embedded newlines.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
