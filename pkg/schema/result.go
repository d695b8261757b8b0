package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// ExecutionMode distinguishes which engine produced a result.
type ExecutionMode string

const (
	ModeWorkflow ExecutionMode = "workflow"
	ModeJourney  ExecutionMode = "journey"
)

// ExecutionStatus is the canonical execution lifecycle state.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusError     ExecutionStatus = "error"
	StatusCancelled ExecutionStatus = "cancelled"
)

// statusAliases maps engine-specific status spellings onto the canonical set.
var statusAliases = map[string]ExecutionStatus{
	"success":   StatusCompleted,
	"completed": StatusCompleted,
	"finished":  StatusCompleted,
	"done":      StatusCompleted,
	"failed":    StatusError,
	"error":     StatusError,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"aborted":   StatusCancelled,
	"running":   StatusRunning,
	"executing": StatusRunning,
	"pending":   StatusPending,
	"queued":    StatusPending,
}

// CanonicalStatus maps a raw engine status onto the canonical set. Unknown
// values pass through lowercased and compare literally.
func CanonicalStatus(raw string) ExecutionStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := statusAliases[key]; ok {
		return s
	}
	return ExecutionStatus(key)
}

// IsTerminal reports whether the status is a final lifecycle state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Millis is a duration in milliseconds. It unmarshals from JSON numbers
// (already milliseconds) or duration strings with additive ms/s/m tokens
// ("1m30s" -> 90000).
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := ParseMillis(str)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*m = Millis(math.Round(f))
	return nil
}

// ParseMillis converts a duration string to milliseconds. Accepts a bare
// number (already milliseconds) or additive ms/s/m tokens: "250ms", "90s",
// "1m30s" -> 90000.
func ParseMillis(s string) (Millis, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, NewError(ErrCodeValidation, "empty duration")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Millis(math.Round(f)), nil
	}

	var total float64
	for i := 0; i < len(s); {
		start := i
		for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == start {
			return 0, NewErrorf(ErrCodeValidation, "invalid duration %q", s)
		}
		num, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return 0, NewErrorf(ErrCodeValidation, "invalid duration %q", s)
		}
		unitStart := i
		for i < len(s) && (s[i] < '0' || s[i] > '9') && s[i] != '.' {
			i++
		}
		switch s[unitStart:i] {
		case "ms":
			total += num
		case "s":
			total += num * 1000
		case "m":
			total += num * 60000
		default:
			return 0, NewErrorf(ErrCodeValidation, "unknown duration unit in %q", s)
		}
	}
	return Millis(math.Round(total)), nil
}

// ExecutionResult is what an external engine reports for one run of a
// workflow or a journey. Workflow runs carry block results; journey runs
// carry step results plus conversation and session state.
type ExecutionResult struct {
	ExecutionID string           `json:"execution_id"`
	Mode        ExecutionMode    `json:"mode"`
	Status      string           `json:"status"` // raw engine status; canonicalized when compared
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Duration    Millis           `json:"duration,omitempty"`
	Outputs     map[string]any   `json:"outputs,omitempty"`
	Variables   map[string]any   `json:"variables,omitempty"`
	Errors      []ExecutionIssue `json:"errors,omitempty"`
	Warnings    []ExecutionIssue `json:"warnings,omitempty"`

	Blocks []BlockResult `json:"blocks,omitempty"` // workflow mode

	Steps        []StepResult       `json:"steps,omitempty"` // journey mode
	Conversation *ConversationState `json:"conversation,omitempty"`
	Session      map[string]any     `json:"session,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionIssue is one error or warning reported by an engine.
type ExecutionIssue struct {
	Code    string `json:"code,omitempty"`
	Source  string `json:"source,omitempty"` // block/state ID that raised it
	Message string `json:"message"`
}

// SortKey is the composite ordering key used when normalizing issue lists.
func (i ExecutionIssue) SortKey() string {
	return i.Code + "\x00" + i.Source + "\x00" + i.Message
}

// BlockResult summarizes one node execution in a workflow run.
type BlockResult struct {
	NodeID     string         `json:"node_id"`
	Type       string         `json:"type,omitempty"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// StepResult summarizes one state execution in a journey run.
type StepResult struct {
	StateID    string         `json:"state_id"`
	Type       string         `json:"type,omitempty"`
	Status     string         `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// ConversationState is the journey-side conversational context.
type ConversationState struct {
	Messages    []ConversationMessage `json:"messages,omitempty"`
	ActiveTools []string              `json:"active_tools,omitempty"`
}

// ConversationMessage is one turn in a journey conversation.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DiffKind classifies one structural difference between two results.
type DiffKind string

const (
	DiffValueMismatch     DiffKind = "value_mismatch"
	DiffTypeMismatch      DiffKind = "type_mismatch"
	DiffMissingKey        DiffKind = "missing_key"
	DiffExtraKey          DiffKind = "extra_key"
	DiffCountMismatch     DiffKind = "count_mismatch"
	DiffStructureMismatch DiffKind = "structure_mismatch"
	DiffPerformance       DiffKind = "performance_variation"
)

// ResultDiff is one difference found between two execution results.
type ResultDiff struct {
	Path     string   `json:"path"`
	Kind     DiffKind `json:"kind"`
	Severity Severity `json:"severity"`
	Expected any      `json:"expected,omitempty"`
	Actual   any      `json:"actual,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Blocking reports whether the diff alone makes two results incompatible.
func (d ResultDiff) Blocking() bool {
	return d.Severity == SeverityCritical || d.Severity == SeverityError
}

// severityWeights drive the similarity score.
var severityWeights = map[Severity]float64{
	SeverityCritical: 20,
	SeverityError:    10,
	SeverityWarning:  5,
	SeverityInfo:     1,
}

// SimilarityScore reduces a diff list to a 0-100 score:
// 100 - sum(severityWeight) / (1 + ln(diffCount+1)) * 10, floored at 0,
// rounded to 2 decimals. No diffs scores 100.
func SimilarityScore(diffs []ResultDiff) float64 {
	if len(diffs) == 0 {
		return 100
	}
	var sum float64
	for _, d := range diffs {
		sum += severityWeights[d.Severity]
	}
	score := 100 - sum/(1+math.Log(float64(len(diffs)+1)))*10
	if score < 0 {
		return 0
	}
	return math.Round(score*100) / 100
}

// ResultComparison is the full outcome of comparing a workflow result
// against a journey result.
type ResultComparison struct {
	WorkflowExecutionID string            `json:"workflow_execution_id,omitempty"`
	JourneyExecutionID  string            `json:"journey_execution_id,omitempty"`
	Compatible          bool              `json:"compatible"`
	Score               float64           `json:"score"`
	Diffs               []ResultDiff      `json:"diffs,omitempty"`
	Summary             ComparisonSummary `json:"summary"`
	ComparedAt          time.Time         `json:"compared_at"`
}

// ComparisonSummary counts diffs by severity and kind.
type ComparisonSummary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity,omitempty"`
	ByKind     map[DiffKind]int `json:"by_kind,omitempty"`
}

// Summarize recomputes the summary, score, and compatible flag from the
// diff list.
func (c *ResultComparison) Summarize() {
	c.Summary = ComparisonSummary{
		Total:      len(c.Diffs),
		BySeverity: make(map[Severity]int),
		ByKind:     make(map[DiffKind]int),
	}
	compatible := true
	for _, d := range c.Diffs {
		c.Summary.BySeverity[d.Severity]++
		c.Summary.ByKind[d.Kind]++
		if d.Blocking() {
			compatible = false
		}
	}
	c.Compatible = compatible
	c.Score = SimilarityScore(c.Diffs)
}
