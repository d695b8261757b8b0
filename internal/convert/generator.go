package convert

import (
	"fmt"
	"sort"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// StateIDPrefix is prepended to node IDs to form default state IDs.
const StateIDPrefix = "state_"

// PreservedVarPrefix is prepended to node IDs to form the snapshot variable
// each preserved state carries.
const PreservedVarPrefix = "_preserved_"

// StateOverrides customize one generated state. Zero values defer to the
// resolution chain: override -> node-provided -> type default -> generic.
type StateOverrides struct {
	ID          string
	Name        string
	Description string
	Config      map[string]any
}

// stateDefaults is the type-keyed default name/description table.
var stateDefaults = map[schema.StateType]struct{ name, desc string }{
	schema.StateTypeInitial:       {"Start", "Entry point of the journey"},
	schema.StateTypeChat:          {"Conversation", "Talk with the agent"},
	schema.StateTypeTool:          {"Tool Call", "Invoke a tool and capture its output"},
	schema.StateTypeCondition:     {"Decision", "Route on a condition"},
	schema.StateTypeLoopStart:     {"Loop Start", "Begin a repeated section"},
	schema.StateTypeLoopEnd:       {"Loop End", "Close a repeated section"},
	schema.StateTypeParallelStart: {"Parallel Start", "Fan out concurrent branches"},
	schema.StateTypeParallelEnd:   {"Parallel End", "Join concurrent branches"},
	schema.StateTypeFinal:         {"End", "Journey complete"},
}

// Generator builds journey states, variables, and preservation bundles from
// workflow nodes. Stateless and safe for concurrent use.
type Generator struct{}

// NewGenerator creates a state generator.
func NewGenerator() *Generator { return &Generator{} }

// GenerateState builds one journey state from a node. The ID defaults to
// state_<nodeId>; name and description resolve override-first; position is
// copied only when layout preservation is on, and preservation also attaches
// the _preserved_<nodeId> snapshot variable.
func (g *Generator) GenerateState(node *schema.Node, ctx *Context, stateType schema.StateType, ov *StateOverrides) schema.JourneyState {
	defaults := stateDefaults[stateType]

	id := StateIDPrefix + node.ID
	name := firstNonEmpty(overrideName(ov), node.Name, defaults.name, string(stateType))
	desc := ""
	if ctx.Options.GenerateDescriptions {
		desc = firstNonEmpty(overrideDesc(ov), node.Data.GetString("description"), defaults.desc)
	}
	if ov != nil && ov.ID != "" {
		id = ov.ID
	}

	state := schema.JourneyState{
		ID:           id,
		Type:         stateType,
		Name:         name,
		Description:  desc,
		SourceNodeID: node.ID,
		Config:       g.stateConfig(node, stateType, ov),
	}

	if ctx.Options.PreserveLayout {
		state.Position = node.Position
		state.Variables = map[string]any{
			PreservedVarPrefix + node.ID: map[string]any{
				"id":          node.ID,
				"type":        string(node.Type),
				"data":        schema.DeepCopyMap(map[string]any(node.Data)),
				"position":    map[string]any{"x": node.Position.X, "y": node.Position.Y},
				"captured_at": time.Now().UTC().Format(time.RFC3339),
			},
		}
	}

	return state
}

// GenerateMultipleStates fans one node into n states suffixed _<index+1>,
// all of the node's natural state type. Chaining transitions between them
// are the caller's responsibility.
func (g *Generator) GenerateMultipleStates(node *schema.Node, ctx *Context, n int) []schema.JourneyState {
	if n < 1 {
		n = 1
	}
	stateType := StateTypeForNode(node)
	states := make([]schema.JourneyState, 0, n)
	for i := range n {
		ov := &StateOverrides{
			ID:   fmt.Sprintf("%s%s_%d", StateIDPrefix, node.ID, i+1),
			Name: fmt.Sprintf("%s (%d/%d)", firstNonEmpty(node.Name, stateDefaults[stateType].name), i+1, n),
		}
		states = append(states, g.GenerateState(node, ctx, stateType, ov))
	}
	return states
}

// CreateStatePreservation builds the audit bundle for a node: the original
// node snapshot, its layout and container chain, its adjacent edges with
// handle mappings and branch conditions, and its config metadata. Distinct
// from the inline _preserved_ variable.
func (g *Generator) CreateStatePreservation(node *schema.Node, ctx *Context) *schema.StatePreservation {
	p := &schema.StatePreservation{
		OriginalNode: map[string]any{
			"id":        node.ID,
			"type":      string(node.Type),
			"name":      node.Name,
			"data":      schema.DeepCopyMap(map[string]any(node.Data)),
			"position":  map[string]any{"x": node.Position.X, "y": node.Position.Y},
			"parent_id": node.ParentID,
		},
		Layout: schema.PreservedLayout{
			Position:   node.Position,
			Containers: ctx.containerChain(node),
			Style:      schema.DeepCopyMap(node.Data.GetMap("style")),
		},
		Metadata: map[string]any{
			"type":              string(node.Type),
			"config_keys":       sortedKeys(map[string]any(node.Data)),
			"custom_properties": customProperties(node.Data),
		},
		CapturedAt: time.Now().UTC(),
	}

	for _, e := range ctx.Incoming(node.ID) {
		p.Connections = append(p.Connections, schema.PreservedEdge{
			EdgeID:       e.ID,
			Direction:    "incoming",
			PeerNodeID:   e.Source,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Condition:    firstNonEmpty(e.Condition, e.BranchValue()),
		})
	}
	for _, e := range ctx.Outgoing(node.ID) {
		p.Connections = append(p.Connections, schema.PreservedEdge{
			EdgeID:       e.ID,
			Direction:    "outgoing",
			PeerNodeID:   e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
			Condition:    firstNonEmpty(e.Condition, e.BranchValue()),
		})
	}

	return p
}

// ExtractNodeVariables derives one journey variable per declared input,
// declared output, and valued sub-block, in that group order with names
// sorted inside each group. Types come from the declared-type table,
// falling back to runtime-value inference.
func (g *Generator) ExtractNodeVariables(node *schema.Node) []schema.Variable {
	var vars []schema.Variable

	for _, name := range sortedKeys(node.Data.Inputs()) {
		vars = append(vars, variableFrom(node.ID, name, node.Data.Inputs()[name], nil))
	}
	for _, name := range sortedKeys(node.Data.Outputs()) {
		vars = append(vars, variableFrom(node.ID, name, node.Data.Outputs()[name], nil))
	}
	for _, name := range sortedKeys(node.Data.SubBlocks()) {
		val := node.Data.SubBlocks()[name]
		if val == nil {
			continue
		}
		vars = append(vars, variableFrom(node.ID, name, nil, val))
	}

	return vars
}

// StateTypeForNode maps a node type to the journey state type its simple
// conversions produce. Containers are handled by their own converters.
func StateTypeForNode(node *schema.Node) schema.StateType {
	switch node.Type {
	case schema.NodeTypeStarter, schema.NodeTypeTrigger:
		return schema.StateTypeInitial
	case schema.NodeTypeCondition, schema.NodeTypeRouter:
		return schema.StateTypeCondition
	case schema.NodeTypeResponse:
		return schema.StateTypeFinal
	case schema.NodeTypeAPI, schema.NodeTypeFunction, schema.NodeTypeWebhook, schema.NodeTypeWorkflow:
		return schema.StateTypeTool
	case schema.NodeTypeAgent:
		return schema.StateTypeChat
	default:
		return schema.StateTypeChat
	}
}

// ConditionVariable names the variable a condition/router node routes on:
// the configured name, or <nodeId>_result.
func ConditionVariable(node *schema.Node) string {
	if v := node.Data.GetString("variable"); v != "" {
		return v
	}
	return node.ID + "_result"
}

// stateConfig derives the state's config bag from the node by state type.
func (g *Generator) stateConfig(node *schema.Node, stateType schema.StateType, ov *StateOverrides) map[string]any {
	if ov != nil && ov.Config != nil {
		return ov.Config
	}

	cfg := make(map[string]any)
	switch stateType {
	case schema.StateTypeInitial:
		if in := node.Data.Inputs(); in != nil {
			cfg["input_schema"] = schema.DeepCopyMap(in)
		}
	case schema.StateTypeTool:
		cfg["tools"] = toolBindings(node)
		if op := node.Data.GetString("operation"); op != "" {
			cfg["operation"] = op
		}
	case schema.StateTypeChat:
		if prompt := firstNonEmpty(node.Data.GetString("prompt"), node.Data.GetString("system_prompt")); prompt != "" {
			cfg["prompt"] = prompt
		}
		if agent := node.Data.GetString("agent"); agent != "" {
			cfg["agent"] = agent
		}
	case schema.StateTypeCondition:
		cfg["variable"] = ConditionVariable(node)
		if expr := node.Data.GetString("expression"); expr != "" {
			cfg["expression"] = expr
		}
	case schema.StateTypeFinal:
		if out := node.Data.Outputs(); out != nil {
			cfg["output_schema"] = schema.DeepCopyMap(out)
		}
	}
	if len(cfg) == 0 {
		return nil
	}
	return cfg
}

// toolBindings extracts the tool names a tool state binds: a "tools" list,
// a single "tool", or a synthesized descriptor for api/function/webhook
// nodes.
func toolBindings(node *schema.Node) []any {
	if raw, ok := node.Data["tools"].([]any); ok && len(raw) > 0 {
		return raw
	}
	if tool := node.Data.GetString("tool"); tool != "" {
		return []any{tool}
	}

	switch node.Type {
	case schema.NodeTypeAPI:
		binding := map[string]any{"kind": "http"}
		if url := firstNonEmpty(node.Data.GetString("endpoint"), node.Data.GetString("url")); url != "" {
			binding["endpoint"] = url
		}
		if m := node.Data.GetString("method"); m != "" {
			binding["method"] = m
		}
		return []any{binding}
	case schema.NodeTypeFunction:
		if fn := firstNonEmpty(node.Data.GetString("function"), node.Data.GetString("code_ref"), node.ID); fn != "" {
			return []any{map[string]any{"kind": "function", "ref": fn}}
		}
	case schema.NodeTypeWebhook:
		if url := node.Data.GetString("url"); url != "" {
			return []any{map[string]any{"kind": "webhook", "url": url}}
		}
	case schema.NodeTypeWorkflow:
		if ref := node.Data.GetString("workflow_id"); ref != "" {
			return []any{map[string]any{"kind": "sub_journey", "workflow_id": ref}}
		}
	}
	return nil
}

// variableFrom builds one typed variable from a declaration or a runtime value.
func variableFrom(nodeID, name string, declared, value any) schema.Variable {
	t := declaredType(declared)
	if value == nil {
		if m, ok := declared.(map[string]any); ok {
			value = m["default"]
		}
	}
	if t == "" {
		t = inferType(value)
	}
	return schema.Variable{Name: name, Type: t, Value: schema.DeepCopyValue(value), SourceNodeID: nodeID}
}

// declaredType reads the declared-type table: a bare type string or a
// {"type": ...} spec. Unknown declarations return "".
func declaredType(spec any) schema.VariableType {
	var raw string
	switch s := spec.(type) {
	case string:
		raw = s
	case map[string]any:
		raw, _ = s["type"].(string)
	}
	switch raw {
	case "string", "text":
		return schema.VariableTypeString
	case "number", "integer", "float":
		return schema.VariableTypeNumber
	case "boolean", "bool":
		return schema.VariableTypeBoolean
	case "array", "list":
		return schema.VariableTypeArray
	case "json", "object", "map":
		return schema.VariableTypeJSON
	}
	return ""
}

// inferType falls back to runtime-value inference for undeclared types.
func inferType(value any) schema.VariableType {
	switch value.(type) {
	case bool:
		return schema.VariableTypeBoolean
	case float64, float32, int, int64, int32:
		return schema.VariableTypeNumber
	case string:
		return schema.VariableTypeString
	case []any:
		return schema.VariableTypeArray
	default:
		return schema.VariableTypeJSON
	}
}

// customProperties returns config keys outside the structural well-knowns.
func customProperties(data schema.NodeData) map[string]any {
	wellKnown := map[string]bool{"inputs": true, "outputs": true, "sub_blocks": true, "style": true}
	props := make(map[string]any)
	for k, v := range data {
		if !wellKnown[k] {
			props[k] = schema.DeepCopyValue(v)
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func overrideName(ov *StateOverrides) string {
	if ov == nil {
		return ""
	}
	return ov.Name
}

func overrideDesc(ov *StateOverrides) string {
	if ov == nil {
		return ""
	}
	return ov.Description
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
