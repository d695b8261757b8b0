package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// DefaultTimingTolerance allows actual durations to deviate up to 50%
// from the expected duration before a timing diff is raised.
const DefaultTimingTolerance = 0.5

// Config tunes one integration comparison.
type Config struct {
	// PreserveOrder enables the cross-category call order check.
	PreserveOrder bool
	// TimingTolerance is the allowed duration deviation as a fraction of
	// the expected duration; zero means DefaultTimingTolerance.
	TimingTolerance float64
	// FailOnMismatch returns an INTEGRATION_MISMATCH error instead of an
	// incompatible report.
	FailOnMismatch bool
}

func DefaultConfig() Config {
	return Config{TimingTolerance: DefaultTimingTolerance}
}

// CategoryComparison is the outcome for one side-effect category.
// Severity is error when any high-impact difference exists, warning when
// any medium, info otherwise.
type CategoryComparison struct {
	Category      Category        `json:"category"`
	ExpectedCalls int             `json:"expected_calls"`
	ActualCalls   int             `json:"actual_calls"`
	Severity      schema.Severity `json:"severity"`
	Diffs         []Diff          `json:"diffs,omitempty"`
}

// Summary counts differences by impact.
type Summary struct {
	TotalDiffs int            `json:"total_diffs"`
	ByImpact   map[Impact]int `json:"by_impact,omitempty"`
}

// Comparison is the aggregated outcome across all categories. Compatible
// requires zero high-impact differences anywhere.
type Comparison struct {
	ExpectedExecutionID string               `json:"expected_execution_id"`
	ActualExecutionID   string               `json:"actual_execution_id"`
	Compatible          bool                 `json:"compatible"`
	Severity            schema.Severity      `json:"severity"`
	Categories          []CategoryComparison `json:"categories"`
	SequenceDiffs       []Diff               `json:"sequence_diffs,omitempty"`
	Summary             Summary              `json:"summary"`
	ComparedAt          time.Time            `json:"compared_at"`
}

// Validator compares the recorded side effects of two executions.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator. logger nil falls back to slog.Default().
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger}
}

// Compare diffs the actual log against the expected one: four category
// comparisons matched by order within each category, plus the optional
// cross-category call order check.
func (v *Validator) Compare(ctx context.Context, expected, actual *IntegrationLog, cfg Config) (*Comparison, error) {
	if expected == nil || actual == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "cannot compare nil integration logs")
	}
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeCancelled, "integration comparison cancelled").WithCause(err)
	}
	tolerance := cfg.TimingTolerance
	if tolerance <= 0 {
		tolerance = DefaultTimingTolerance
	}

	comparison := &Comparison{
		ExpectedExecutionID: expected.ExecutionID,
		ActualExecutionID:   actual.ExecutionID,
		Summary:             Summary{ByImpact: make(map[Impact]int)},
		ComparedAt:          time.Now().UTC(),
	}

	comparison.Categories = []CategoryComparison{
		compareAPICategory(expected.APICalls, actual.APICalls, tolerance),
		compareDBCategory(expected.DBOperations, actual.DBOperations, tolerance),
		compareServiceCategory(expected.ServiceCalls, actual.ServiceCalls, tolerance),
		compareWebhookCategory(expected.Webhooks, actual.Webhooks, tolerance),
	}
	if cfg.PreserveOrder {
		if d := compareSequence(expected, actual); d != nil {
			comparison.SequenceDiffs = []Diff{*d}
		}
	}

	for _, cat := range comparison.Categories {
		for _, d := range cat.Diffs {
			comparison.Summary.TotalDiffs++
			comparison.Summary.ByImpact[d.Impact]++
		}
	}
	for _, d := range comparison.SequenceDiffs {
		comparison.Summary.TotalDiffs++
		comparison.Summary.ByImpact[d.Impact]++
	}

	high := comparison.Summary.ByImpact[ImpactHigh]
	comparison.Compatible = high == 0
	comparison.Severity = overallSeverity(comparison.Summary.ByImpact)

	v.logger.Debug("integrations compared",
		slog.String("expected_execution_id", expected.ExecutionID),
		slog.String("actual_execution_id", actual.ExecutionID),
		slog.Int("total_diffs", comparison.Summary.TotalDiffs),
		slog.Int("high_impact", high),
		slog.Bool("compatible", comparison.Compatible),
	)

	if cfg.FailOnMismatch && !comparison.Compatible {
		return nil, schema.NewErrorf(schema.ErrCodeIntegration,
			"integration behavior diverged: %d high-impact differences", high).
			WithEntity(actual.ExecutionID).
			WithDetails(map[string]any{
				"total_diffs": comparison.Summary.TotalDiffs,
				"high_impact": high,
			})
	}
	return comparison, nil
}

func compareAPICategory(expected, actual []APICall, tolerance float64) CategoryComparison {
	cat := CategoryComparison{Category: CategoryAPI, ExpectedCalls: len(expected), ActualCalls: len(actual)}
	for i := range expected {
		if i >= len(actual) {
			cat.Diffs = append(cat.Diffs, missingCall(CategoryAPI, expected[i].Sequence,
				expected[i].Method+" "+expected[i].Endpoint))
			continue
		}
		cat.Diffs = append(cat.Diffs, compareAPICalls(expected[i], actual[i], tolerance)...)
	}
	for i := len(expected); i < len(actual); i++ {
		cat.Diffs = append(cat.Diffs, extraCall(CategoryAPI, actual[i].Sequence,
			actual[i].Method+" "+actual[i].Endpoint))
	}
	cat.Severity = severityFor(cat.Diffs)
	return cat
}

func compareDBCategory(expected, actual []DBOperation, tolerance float64) CategoryComparison {
	cat := CategoryComparison{Category: CategoryDB, ExpectedCalls: len(expected), ActualCalls: len(actual)}
	for i := range expected {
		if i >= len(actual) {
			cat.Diffs = append(cat.Diffs, missingCall(CategoryDB, expected[i].Sequence,
				expected[i].Operation+" "+expected[i].Table))
			continue
		}
		cat.Diffs = append(cat.Diffs, compareDBOperations(expected[i], actual[i], tolerance)...)
	}
	for i := len(expected); i < len(actual); i++ {
		cat.Diffs = append(cat.Diffs, extraCall(CategoryDB, actual[i].Sequence,
			actual[i].Operation+" "+actual[i].Table))
	}
	cat.Severity = severityFor(cat.Diffs)
	return cat
}

func compareServiceCategory(expected, actual []ServiceCall, tolerance float64) CategoryComparison {
	cat := CategoryComparison{Category: CategoryService, ExpectedCalls: len(expected), ActualCalls: len(actual)}
	for i := range expected {
		if i >= len(actual) {
			cat.Diffs = append(cat.Diffs, missingCall(CategoryService, expected[i].Sequence,
				expected[i].Service+"."+expected[i].Operation))
			continue
		}
		cat.Diffs = append(cat.Diffs, compareServiceCalls(expected[i], actual[i], tolerance)...)
	}
	for i := len(expected); i < len(actual); i++ {
		cat.Diffs = append(cat.Diffs, extraCall(CategoryService, actual[i].Sequence,
			actual[i].Service+"."+actual[i].Operation))
	}
	cat.Severity = severityFor(cat.Diffs)
	return cat
}

func compareWebhookCategory(expected, actual []WebhookDelivery, tolerance float64) CategoryComparison {
	cat := CategoryComparison{Category: CategoryWebhook, ExpectedCalls: len(expected), ActualCalls: len(actual)}
	for i := range expected {
		if i >= len(actual) {
			cat.Diffs = append(cat.Diffs, missingCall(CategoryWebhook, expected[i].Sequence,
				expected[i].Event+" "+expected[i].URL))
			continue
		}
		cat.Diffs = append(cat.Diffs, compareWebhooks(expected[i], actual[i], tolerance)...)
	}
	for i := len(expected); i < len(actual); i++ {
		cat.Diffs = append(cat.Diffs, extraCall(CategoryWebhook, actual[i].Sequence,
			actual[i].Event+" "+actual[i].URL))
	}
	cat.Severity = severityFor(cat.Diffs)
	return cat
}

// compareSequence checks the cross-category call order and reports the
// first divergent position. Later positions rarely align again once order
// is broken, so a single witness keeps the report readable.
func compareSequence(expected, actual *IntegrationLog) *Diff {
	e, a := expected.ordered(), actual.ordered()
	n := len(e)
	if len(a) < n {
		n = len(a)
	}
	for i := 0; i < n; i++ {
		if e[i].Category == a[i].Category && e[i].Ref == a[i].Ref {
			continue
		}
		return &Diff{
			Category: e[i].Category,
			Field:    "sequence",
			Sequence: i,
			Expected: e[i].String(),
			Actual:   a[i].String(),
			Impact:   ImpactHigh,
			Message:  fmt.Sprintf("call order diverges at position %d", i),
		}
	}
	return nil
}

func missingCall(category Category, sequence int, ref string) Diff {
	return Diff{
		Category: category, Field: "missing_call", Sequence: sequence,
		Expected: ref, Impact: ImpactHigh,
		Message: fmt.Sprintf("expected %s call %q was not made", category, ref),
	}
}

func extraCall(category Category, sequence int, ref string) Diff {
	return Diff{
		Category: category, Field: "extra_call", Sequence: sequence,
		Actual: ref, Impact: ImpactMedium,
		Message: fmt.Sprintf("unexpected %s call %q", category, ref),
	}
}

// severityFor maps impacts to a severity: error for any high, warning for
// any medium, info otherwise.
func severityFor(diffs []Diff) schema.Severity {
	severity := schema.SeverityInfo
	for _, d := range diffs {
		switch d.Impact {
		case ImpactHigh:
			return schema.SeverityError
		case ImpactMedium:
			severity = schema.SeverityWarning
		}
	}
	return severity
}

func overallSeverity(byImpact map[Impact]int) schema.Severity {
	switch {
	case byImpact[ImpactHigh] > 0:
		return schema.SeverityError
	case byImpact[ImpactMedium] > 0:
		return schema.SeverityWarning
	default:
		return schema.SeverityInfo
	}
}
