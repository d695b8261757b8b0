package validation

import (
	"fmt"

	"github.com/tandemlab/tandem/pkg/schema"
)

// ValidateJourney checks a converted journey: state machine shape, entry and
// exit invariants, reachability, and state content.
func (v *Validator) ValidateJourney(j *schema.Journey) *schema.ValidationResult {
	res := &schema.ValidationResult{}
	if j == nil {
		res.AddCritical("journey", schema.CodeMissingRequiredField, "journey is nil")
		return res
	}

	checkJourneyRequired(j, res)
	if !res.Valid() {
		return res
	}

	v.checkJourneySchema(j, res)
	checkStateIDs(j, res)
	v.checkTransitions(j, res)
	checkEntryAndExit(j, res)
	checkReachability(j, res)
	checkStateContent(j, res)
	return res
}

func checkJourneyRequired(j *schema.Journey, res *schema.ValidationResult) {
	if j.ID == "" {
		res.AddCritical("id", schema.CodeMissingRequiredField, "journey id is required")
	}
	if j.States == nil {
		res.AddCritical("states", schema.CodeMissingRequiredField, "states must be an array")
	}
	if j.Transitions == nil {
		res.AddCritical("transitions", schema.CodeMissingRequiredField, "transitions must be an array")
	}
}

func (v *Validator) checkJourneySchema(j *schema.Journey, res *schema.ValidationResult) {
	violations, err := v.jsonSchema.JourneyViolations(j)
	if err != nil {
		res.AddError("journey", schema.CodeSchemaViolation, "schema check failed: "+err.Error())
		return
	}
	for _, violation := range violations {
		res.AddError("journey", schema.CodeSchemaViolation, violation)
	}
}

func checkStateIDs(j *schema.Journey, res *schema.ValidationResult) {
	seen := make(map[string]struct{}, len(j.States))
	for _, s := range j.States {
		if _, dup := seen[s.ID]; dup {
			res.AddError("states."+s.ID, schema.CodeDuplicateStateID,
				fmt.Sprintf("duplicate state id %q", s.ID))
			continue
		}
		seen[s.ID] = struct{}{}
	}
}

// checkTransitions flags duplicate transition ids, dangling endpoints, and
// conditions that fail the syntax check.
func (v *Validator) checkTransitions(j *schema.Journey, res *schema.ValidationResult) {
	seen := make(map[string]struct{}, len(j.Transitions))
	for _, t := range j.Transitions {
		path := "transitions." + t.ID

		if _, dup := seen[t.ID]; dup {
			res.AddError(path, schema.CodeDuplicateTransition,
				fmt.Sprintf("duplicate transition id %q", t.ID))
		}
		seen[t.ID] = struct{}{}

		if j.StateByID(t.From) == nil {
			res.AddError(path, schema.CodeDanglingTransition,
				fmt.Sprintf("transition source %q does not exist", t.From))
		}
		if j.StateByID(t.To) == nil {
			res.AddError(path, schema.CodeDanglingTransition,
				fmt.Sprintf("transition target %q does not exist", t.To))
		}

		v.checkCondition(res, path, t.Condition)
	}
}

// checkEntryAndExit enforces the journey shape invariants: exactly one
// initial state that nothing transitions into, and at least one final state.
// A journey with no usable entry point cannot run at all, so that finding
// is critical.
func checkEntryAndExit(j *schema.Journey, res *schema.ValidationResult) {
	incoming := make(map[string]int, len(j.States))
	for _, t := range j.Transitions {
		incoming[t.To]++
	}

	initials := j.InitialStates()
	switch {
	case len(initials) == 0:
		res.AddCritical("states", schema.CodeNoInitialState, "journey has no initial state")
	case len(initials) > 1:
		res.AddError("states", schema.CodeMultipleInitial,
			fmt.Sprintf("journey has %d initial states, want exactly one", len(initials)))
	case incoming[initials[0].ID] > 0:
		res.AddCritical("states."+initials[0].ID, schema.CodeNoInitialState,
			"initial state has incoming transitions and cannot serve as the entry point")
	}

	finals := 0
	for _, s := range j.States {
		if s.Type == schema.StateTypeFinal {
			finals++
		}
	}
	if finals == 0 {
		res.AddError("states", schema.CodeNoFinalState, "journey has no final state")
	}
}

// checkReachability walks the transition graph breadth-first from every
// initial state and warns about states the walk never touches.
func checkReachability(j *schema.Journey, res *schema.ValidationResult) {
	initials := j.InitialStates()
	if len(initials) == 0 {
		return
	}

	out := make(map[string][]string, len(j.States))
	for _, t := range j.Transitions {
		out[t.From] = append(out[t.From], t.To)
	}

	visited := make(map[string]struct{}, len(j.States))
	queue := make([]string, 0, len(initials))
	for _, s := range initials {
		visited[s.ID] = struct{}{}
		queue = append(queue, s.ID)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range out[id] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}

	for _, s := range j.States {
		if _, ok := visited[s.ID]; !ok {
			res.AddWarning("states."+s.ID, schema.CodeUnreachableState,
				fmt.Sprintf("state %q is not reachable from any initial state", s.ID))
		}
	}
}

// checkStateContent warns about states that will run but do nothing useful:
// tool states without bound tools and chat states without a prompt or agent.
func checkStateContent(j *schema.Journey, res *schema.ValidationResult) {
	for _, s := range j.States {
		path := "states." + s.ID
		switch s.Type {
		case schema.StateTypeTool:
			if !hasToolBinding(s.Config) {
				res.AddWarning(path, schema.CodeToolStateNoTools,
					fmt.Sprintf("tool state %q has no bound tools", s.ID))
			}
		case schema.StateTypeChat:
			if !hasChatContent(s.Config) {
				res.AddWarning(path, schema.CodeChatStateEmpty,
					fmt.Sprintf("chat state %q has no prompt or agent", s.ID))
			}
		}
	}
}

func hasToolBinding(config map[string]any) bool {
	if config == nil {
		return false
	}
	if tools, ok := config["tools"].([]any); ok && len(tools) > 0 {
		return true
	}
	if sub, ok := config["sub_journey"].(string); ok && sub != "" {
		return true
	}
	return false
}

func hasChatContent(config map[string]any) bool {
	if config == nil {
		return false
	}
	if prompt, ok := config["prompt"].(string); ok && prompt != "" {
		return true
	}
	if agent, ok := config["agent"].(string); ok && agent != "" {
		return true
	}
	return false
}
