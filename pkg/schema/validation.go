package schema

import (
	"encoding/json"
	"fmt"
)

// Severity ranks validation findings and result diffs.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Blocking reports whether the severity invalidates its subject.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityError
}

// Impact grades how much a finding matters for compatibility.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// ValidationIssue is a single validation finding with location context.
type ValidationIssue struct {
	Path     string   `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Impact   Impact   `json:"impact,omitempty"`
}

// ValidationResult aggregates all findings from a validation pass.
// Critical/error findings land in Errors; warning/info findings in Warnings.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no blocking findings (warnings are
// acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Add routes an issue to the right bucket by severity.
func (r *ValidationResult) Add(issue ValidationIssue) {
	if issue.Severity.Blocking() {
		r.Errors = append(r.Errors, issue)
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// AddCritical appends a critical-severity finding.
func (r *ValidationResult) AddCritical(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityCritical})
}

// AddError appends an error-severity finding.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning appends a warning-severity finding.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// AddInfo appends an info-severity finding.
func (r *ValidationResult) AddInfo(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityInfo})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a TandemError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}

// MarshalJSON emits the {valid, errors, warnings} document shape.
func (r ValidationResult) MarshalJSON() ([]byte, error) {
	type alias struct {
		Valid    bool              `json:"valid"`
		Errors   []ValidationIssue `json:"errors,omitempty"`
		Warnings []ValidationIssue `json:"warnings,omitempty"`
	}
	return json.Marshal(alias{Valid: r.Valid(), Errors: r.Errors, Warnings: r.Warnings})
}
