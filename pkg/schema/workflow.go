package schema

import "strings"

// Workflow is the JSON-serializable visual workflow graph: typed nodes
// connected by directed edges, with loop/parallel containers nesting their
// children via ParentID.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Variables   map[string]any `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Node is a single block on the workflow canvas.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Name     string   `json:"name,omitempty"`
	Position Position `json:"position"`
	Data     NodeData `json:"data,omitempty"`      // type-specific config bag
	ParentID string   `json:"parent_id,omitempty"` // containing loop/parallel node
}

// Position is the canvas placement of a node or state.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects two nodes. Source handles of the form "condition-<value>"
// carry the branch value taken out of condition/router nodes.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"` // CEL expression, optional
}

// conditionHandlePrefix marks source handles that encode a branch value.
const conditionHandlePrefix = "condition-"

// BranchValue returns the branch value encoded in a "condition-<value>"
// source handle, or "" when the edge carries none.
func (e Edge) BranchValue() string {
	if strings.HasPrefix(e.SourceHandle, conditionHandlePrefix) {
		return e.SourceHandle[len(conditionHandlePrefix):]
	}
	return ""
}

// IsConditional reports whether the edge is taken only when a condition or
// branch value holds.
func (e Edge) IsConditional() bool {
	return e.Condition != "" || e.BranchValue() != ""
}

// NodeType enumerates the kinds of blocks in a workflow graph.
type NodeType string

const (
	NodeTypeStarter   NodeType = "starter"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeAPI       NodeType = "api"
	NodeTypeFunction  NodeType = "function"
	NodeTypeCondition NodeType = "condition"
	NodeTypeRouter    NodeType = "router"
	NodeTypeResponse  NodeType = "response"
	NodeTypeLoop      NodeType = "loop"
	NodeTypeParallel  NodeType = "parallel"
	NodeTypeWorkflow  NodeType = "workflow"
	NodeTypeWebhook   NodeType = "webhook"
	NodeTypeTrigger   NodeType = "trigger"
)

// IsContainer reports whether nodes of this type nest child nodes.
func (t NodeType) IsContainer() bool {
	return t == NodeTypeLoop || t == NodeTypeParallel
}

// IsEntry reports whether nodes of this type can start an execution.
func (t NodeType) IsEntry() bool {
	return t == NodeTypeStarter || t == NodeTypeWebhook || t == NodeTypeTrigger
}

// NodeData is the opaque per-node config bag. Accessors keep callers off raw
// type assertions; missing or mistyped keys read as zero values.
type NodeData map[string]any

// GetString returns the string value at key, or "".
func (d NodeData) GetString(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return ""
}

// GetBool returns the bool value at key, or false.
func (d NodeData) GetBool(key string) bool {
	if b, ok := d[key].(bool); ok {
		return b
	}
	return false
}

// GetMap returns the nested map at key, or nil.
func (d NodeData) GetMap(key string) map[string]any {
	if m, ok := d[key].(map[string]any); ok {
		return m
	}
	return nil
}

// Inputs returns the declared input schema of the node.
func (d NodeData) Inputs() map[string]any { return d.GetMap("inputs") }

// Outputs returns the declared output schema of the node.
func (d NodeData) Outputs() map[string]any { return d.GetMap("outputs") }

// SubBlocks returns the node's sub-block values (editor fields).
func (d NodeData) SubBlocks() map[string]any { return d.GetMap("sub_blocks") }

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// ChildrenOf returns the IDs of nodes nested directly inside the given
// container node, in declaration order.
func (w *Workflow) ChildrenOf(containerID string) []string {
	var ids []string
	for i := range w.Nodes {
		if w.Nodes[i].ParentID == containerID {
			ids = append(ids, w.Nodes[i].ID)
		}
	}
	return ids
}
