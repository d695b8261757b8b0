package validation

import (
	"fmt"

	"github.com/tandemlab/tandem/pkg/schema"
)

// Loss thresholds for conversion fidelity. Containers expand into multiple
// states, so honest conversions rarely shrink; heavy shrinkage means nodes
// were dropped.
const (
	stateLossThreshold      = 0.5
	transitionLossThreshold = 0.3
)

// ValidateConversion cross-checks a journey against the workflow it was
// converted from: identity preservation, conversion fidelity, and metadata
// completeness.
func (v *Validator) ValidateConversion(w *schema.Workflow, j *schema.Journey) *schema.ValidationResult {
	res := &schema.ValidationResult{}
	if w == nil {
		res.AddCritical("workflow", schema.CodeMissingRequiredField, "workflow is nil")
	}
	if j == nil {
		res.AddCritical("journey", schema.CodeMissingRequiredField, "journey is nil")
	}
	if !res.Valid() {
		return res
	}

	if j.WorkflowID != w.ID {
		res.AddError("workflow_id", schema.CodeWorkflowIDMismatch,
			fmt.Sprintf("journey references workflow %q, want %q", j.WorkflowID, w.ID))
	}

	checkConversionLoss(w, j, res)
	checkConversionMetadata(j, res)
	return res
}

func checkConversionLoss(w *schema.Workflow, j *schema.Journey, res *schema.ValidationResult) {
	if loss := lossRatio(len(w.Nodes), len(j.States)); loss > stateLossThreshold {
		res.Add(schema.ValidationIssue{
			Path:     "states",
			Code:     schema.CodeStateCountLoss,
			Severity: schema.SeverityWarning,
			Impact:   schema.ImpactHigh,
			Message: fmt.Sprintf("conversion kept %d states for %d nodes (%.0f%% loss)",
				len(j.States), len(w.Nodes), loss*100),
		})
	}

	if loss := lossRatio(len(w.Edges), len(j.Transitions)); loss > transitionLossThreshold {
		res.Add(schema.ValidationIssue{
			Path:     "transitions",
			Code:     schema.CodeTransitionCountLoss,
			Severity: schema.SeverityWarning,
			Impact:   schema.ImpactMedium,
			Message: fmt.Sprintf("conversion kept %d transitions for %d edges (%.0f%% loss)",
				len(j.Transitions), len(w.Edges), loss*100),
		})
	}
}

// lossRatio is the fraction of source elements with no counterpart in the
// output. Growth counts as zero loss.
func lossRatio(source, output int) float64 {
	if source == 0 || output >= source {
		return 0
	}
	return 1 - float64(output)/float64(source)
}

func checkConversionMetadata(j *schema.Journey, res *schema.ValidationResult) {
	switch {
	case j.Metadata == nil:
		res.AddWarning("metadata", schema.CodeMissingMetadata,
			"journey has no conversion metadata")
	case j.Metadata.ConvertedAt.IsZero():
		res.AddWarning("metadata", schema.CodeMissingMetadata,
			"conversion metadata has no timestamp")
	case j.Metadata.ToolVersion == "":
		res.AddWarning("metadata", schema.CodeMissingMetadata,
			"conversion metadata has no tool version")
	}
}
