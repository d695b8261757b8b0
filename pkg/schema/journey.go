package schema

import "time"

// Journey is the conversational state machine produced from a workflow graph.
type Journey struct {
	ID          string              `json:"id"`
	WorkflowID  string              `json:"workflow_id"`
	Name        string              `json:"name,omitempty"`
	Description string              `json:"description,omitempty"`
	States      []JourneyState      `json:"states"`
	Transitions []JourneyTransition `json:"transitions"`
	Variables   map[string]Variable `json:"variables,omitempty"`
	Metadata    *ConversionMetadata `json:"metadata,omitempty"`
}

// JourneyState is a single state in the journey machine.
type JourneyState struct {
	ID           string             `json:"id"`
	Type         StateType          `json:"type"`
	Name         string             `json:"name,omitempty"`
	Description  string             `json:"description,omitempty"`
	Position     Position           `json:"position"`
	Config       map[string]any     `json:"config,omitempty"`
	Variables    map[string]any     `json:"variables,omitempty"`
	Preservation *StatePreservation `json:"preservation,omitempty"`
	SourceNodeID string             `json:"source_node_id,omitempty"`
}

// JourneyTransition moves the machine from one state to another, optionally
// gated by a condition expression or a named event.
type JourneyTransition struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"` // CEL expression
	Event     string `json:"event,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// StateType enumerates the closed set of journey state kinds.
type StateType string

const (
	StateTypeInitial       StateType = "initial"
	StateTypeChat          StateType = "chat"
	StateTypeTool          StateType = "tool"
	StateTypeCondition     StateType = "condition"
	StateTypeLoopStart     StateType = "loop_start"
	StateTypeLoopEnd       StateType = "loop_end"
	StateTypeParallelStart StateType = "parallel_start"
	StateTypeParallelEnd   StateType = "parallel_end"
	StateTypeFinal         StateType = "final"
)

// ConversionStrategy enumerates how a workflow node maps to journey states.
type ConversionStrategy string

const (
	StrategyInitialState         ConversionStrategy = "initial_state"
	StrategyConditionalBranching ConversionStrategy = "conditional_branching"
	StrategyLoopConstruct        ConversionStrategy = "loop_construct"
	StrategyParallelConstruct    ConversionStrategy = "parallel_construct"
	StrategyFinalState           ConversionStrategy = "final_state"
	StrategyToolState            ConversionStrategy = "tool_state"
	StrategyChatState            ConversionStrategy = "chat_state"
	StrategySubjourney           ConversionStrategy = "subjourney"
	StrategyComplexMultiState    ConversionStrategy = "complex_multi_state"
	StrategyStandard             ConversionStrategy = "standard"
)

// VariableType enumerates the closed set of journey variable types.
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeNumber  VariableType = "number"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeJSON    VariableType = "json"
	VariableTypeArray   VariableType = "array"
)

// Variable is a journey-level typed variable declaration.
type Variable struct {
	Name         string       `json:"name"`
	Type         VariableType `json:"type"`
	Value        any          `json:"value,omitempty"`
	SourceNodeID string       `json:"source_node_id,omitempty"`
}

// StatePreservation is the audit bundle that lets a journey state be traced
// back to the workflow node it was generated from.
type StatePreservation struct {
	OriginalNode map[string]any  `json:"original_node"`
	Layout       PreservedLayout `json:"layout"`
	Connections  []PreservedEdge `json:"connections,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	CapturedAt   time.Time       `json:"captured_at"`
}

// PreservedLayout captures the node's visual placement and container chain.
type PreservedLayout struct {
	Position   Position       `json:"position"`
	Containers []string       `json:"containers,omitempty"` // innermost-first parent chain
	Style      map[string]any `json:"style,omitempty"`
}

// PreservedEdge captures one edge adjacent to the preserved node.
type PreservedEdge struct {
	EdgeID       string `json:"edge_id"`
	Direction    string `json:"direction"` // incoming | outgoing
	PeerNodeID   string `json:"peer_node_id"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Condition    string `json:"condition,omitempty"` // branch value from condition-* handles
}

// ConversionMetadata records how and when a journey was generated.
type ConversionMetadata struct {
	ConvertedAt    time.Time         `json:"converted_at"`
	ToolVersion    string            `json:"tool_version,omitempty"`
	NodeCount      int               `json:"node_count"`
	EdgeCount      int               `json:"edge_count"`
	StrategyCounts map[string]int    `json:"strategy_counts,omitempty"`
	NodeStateMap   map[string]string `json:"node_state_map,omitempty"` // node ID -> primary state ID
	Warnings       []string          `json:"warnings,omitempty"`
}

// StateByID returns the state with the given ID, or nil.
func (j *Journey) StateByID(id string) *JourneyState {
	for i := range j.States {
		if j.States[i].ID == id {
			return &j.States[i]
		}
	}
	return nil
}

// InitialStates returns all states of type initial. A valid journey has
// exactly one.
func (j *Journey) InitialStates() []JourneyState {
	var out []JourneyState
	for _, s := range j.States {
		if s.Type == StateTypeInitial {
			out = append(out, s)
		}
	}
	return out
}

// TransitionsFrom returns the transitions leaving the given state.
func (j *Journey) TransitionsFrom(stateID string) []JourneyTransition {
	var out []JourneyTransition
	for _, t := range j.Transitions {
		if t.From == stateID {
			out = append(out, t)
		}
	}
	return out
}
