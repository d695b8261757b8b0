package statesync

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/tandemlab/tandem/pkg/schema"
)

// ConsistencyIssue is one parity check that failed.
type ConsistencyIssue struct {
	Check    string `json:"check"`
	Variable string `json:"variable,omitempty"`
	Detail   string `json:"detail"`
}

// ConsistencyReport scores how convergent two executions' states are.
// Score is 100×max(0, 1 − inconsistencies/totalChecks).
type ConsistencyReport struct {
	Consistent      bool               `json:"consistent"`
	Score           float64            `json:"score"`
	TotalChecks     int                `json:"total_checks"`
	Inconsistencies []ConsistencyIssue `json:"inconsistencies,omitempty"`
}

// Parity check names.
const (
	CheckVariablePresence = "variable_presence"
	CheckVariableValue    = "variable_value"
	CheckVariableType     = "variable_type"
	CheckHistoryLength    = "history_length"
	CheckProgressDrift    = "progress_drift"
)

// ValidateStateConsistency checks variable presence/value/type parity,
// conversation history length parity, and progress drift between the two
// executions. Read-only: neither state is touched.
func (l *Layer) ValidateStateConsistency(workflowExecID, journeyExecID string) (*ConsistencyReport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	workflow, ok := l.states[workflowExecID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", workflowExecID).WithEntity(workflowExecID)
	}
	journey, ok := l.states[journeyExecID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"no state for execution %s", journeyExecID).WithEntity(journeyExecID)
	}

	report := &ConsistencyReport{}

	names := make(map[string]struct{}, len(workflow.Variables)+len(journey.Variables))
	for name := range workflow.Variables {
		names[name] = struct{}{}
	}
	for name := range journey.Variables {
		names[name] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		wv, inWorkflow := workflow.Variables[name]
		jv, inJourney := journey.Variables[name]

		report.TotalChecks++
		if !inWorkflow || !inJourney {
			side := "workflow"
			if !inJourney {
				side = "journey"
			}
			report.Inconsistencies = append(report.Inconsistencies, ConsistencyIssue{
				Check:    CheckVariablePresence,
				Variable: name,
				Detail:   fmt.Sprintf("variable missing on the %s side", side),
			})
			continue
		}

		report.TotalChecks++
		if !reflect.DeepEqual(wv.Value, jv.Value) {
			report.Inconsistencies = append(report.Inconsistencies, ConsistencyIssue{
				Check:    CheckVariableValue,
				Variable: name,
				Detail:   "values differ between executions",
			})
		}
		report.TotalChecks++
		if wv.Type != jv.Type {
			report.Inconsistencies = append(report.Inconsistencies, ConsistencyIssue{
				Check:    CheckVariableType,
				Variable: name,
				Detail:   fmt.Sprintf("workflow has %s, journey has %s", wv.Type, jv.Type),
			})
		}
	}

	report.TotalChecks++
	wfHistory, jnHistory := historyLength(workflow), historyLength(journey)
	if wfHistory != jnHistory {
		report.Inconsistencies = append(report.Inconsistencies, ConsistencyIssue{
			Check:  CheckHistoryLength,
			Detail: fmt.Sprintf("workflow has %d messages, journey has %d", wfHistory, jnHistory),
		})
	}

	report.TotalChecks++
	if drift := progressDrift(workflow, journey); drift > l.cfg.ProgressTolerance {
		report.Inconsistencies = append(report.Inconsistencies, ConsistencyIssue{
			Check:  CheckProgressDrift,
			Detail: fmt.Sprintf("progress differs by %.1f points (tolerance %.1f)", drift, l.cfg.ProgressTolerance),
		})
	}

	report.Consistent = len(report.Inconsistencies) == 0
	report.Score = consistencyScore(len(report.Inconsistencies), report.TotalChecks)
	return report, nil
}

func historyLength(s *ExecutionState) int {
	if s.Context == nil {
		return 0
	}
	return len(s.Context.History)
}

func progressDrift(a, b *ExecutionState) float64 {
	pa, pb := 0.0, 0.0
	if a.Progress != nil {
		pa = a.Progress.Percentage
	}
	if b.Progress != nil {
		pb = b.Progress.Percentage
	}
	return math.Abs(pa - pb)
}

func consistencyScore(inconsistencies, totalChecks int) float64 {
	if totalChecks == 0 {
		return 100
	}
	score := 100 * math.Max(0, 1-float64(inconsistencies)/float64(totalChecks))
	return math.Round(score*100) / 100
}
