package suite

import (
	"fmt"
	"strings"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// SuiteSummary condenses one suite run for reporting.
type SuiteSummary struct {
	SuiteName string        `json:"suite_name"`
	RunID     string        `json:"run_id,omitempty"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Errors    int           `json:"errors"`
	Timeouts  int           `json:"timeouts"`
	Skipped   int           `json:"skipped"`
	PassRate  float64       `json:"pass_rate"`
	Duration  schema.Millis `json:"duration"`
}

// RunReport is the cross-suite rollup of one or more suite runs.
type RunReport struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Suites          []SuiteSummary `json:"suites"`
	TotalTests      int            `json:"total_tests"`
	TotalPassed     int            `json:"total_passed"`
	TotalFailed     int            `json:"total_failed"`
	TotalErrors     int            `json:"total_errors"`
	TotalTimeouts   int            `json:"total_timeouts"`
	TotalSkipped    int            `json:"total_skipped"`
	AveragePassRate float64        `json:"average_pass_rate"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// BuildReport rolls suite results up into a cross-suite report with
// recommendation strings for the common trouble patterns.
func BuildReport(results ...*SuiteResult) *RunReport {
	report := &RunReport{GeneratedAt: time.Now().UTC()}
	var rateSum float64
	perfDiffs, totalDiffs := 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		report.Suites = append(report.Suites, SuiteSummary{
			SuiteName: r.SuiteName,
			RunID:     r.RunID,
			Total:     r.Total,
			Passed:    r.Passed,
			Failed:    r.Failed,
			Errors:    r.Errors,
			Timeouts:  r.Timeouts,
			Skipped:   r.Skipped,
			PassRate:  r.PassRate,
			Duration:  r.Duration,
		})
		report.TotalTests += r.Total
		report.TotalPassed += r.Passed
		report.TotalFailed += r.Failed
		report.TotalErrors += r.Errors
		report.TotalTimeouts += r.Timeouts
		report.TotalSkipped += r.Skipped
		rateSum += r.PassRate
		for i := range r.Results {
			if c := r.Results[i].Comparison; c != nil {
				totalDiffs += c.Summary.Total
				perfDiffs += c.Summary.ByKind[schema.DiffPerformance]
			}
		}
	}
	if len(report.Suites) > 0 {
		report.AveragePassRate = round2(rateSum / float64(len(report.Suites)))
	} else {
		report.AveragePassRate = 100
	}
	report.Recommendations = recommendations(report, perfDiffs, totalDiffs)
	return report
}

func recommendations(r *RunReport, perfDiffs, totalDiffs int) []string {
	var recs []string
	if r.AveragePassRate < 95 {
		recs = append(recs, fmt.Sprintf(
			"average pass rate %.2f%% is below 95%%; review failing tests before relying on the journey engine",
			r.AveragePassRate))
	}
	if r.TotalErrors > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d tests finished with errors; fix engine or conversion failures first, error results hide real compatibility signals",
			r.TotalErrors))
	}
	if totalDiffs > 0 && perfDiffs*2 > totalDiffs {
		recs = append(recs, fmt.Sprintf(
			"performance variations dominate the differences (%d of %d); widen the duration tolerance or profile the journey engine",
			perfDiffs, totalDiffs))
	}
	return recs
}

// Markdown renders the report for humans.
func (r *RunReport) Markdown() string {
	var b strings.Builder
	b.WriteString("# Compatibility Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**%d/%d tests passed** (average pass rate %.2f%%)\n\n",
		r.TotalPassed, r.TotalTests, r.AveragePassRate)
	b.WriteString("| Suite | Passed | Failed | Errors | Timeouts | Skipped | Pass rate |\n")
	b.WriteString("|-------|--------|--------|--------|----------|---------|-----------|\n")
	for _, s := range r.Suites {
		fmt.Fprintf(&b, "| %s | %d | %d | %d | %d | %d | %.2f%% |\n",
			s.SuiteName, s.Passed, s.Failed, s.Errors, s.Timeouts, s.Skipped, s.PassRate)
	}
	if len(r.Recommendations) > 0 {
		b.WriteString("\n## Recommendations\n\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(&b, "- %s\n", rec)
		}
	}
	return b.String()
}
