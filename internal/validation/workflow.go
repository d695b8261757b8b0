package validation

import (
	"fmt"

	"github.com/tandemlab/tandem/pkg/schema"
)

// ValidateWorkflow checks a visual workflow graph before conversion.
// Missing required fields short-circuit, everything else accumulates.
func (v *Validator) ValidateWorkflow(w *schema.Workflow) *schema.ValidationResult {
	res := &schema.ValidationResult{}
	if w == nil {
		res.AddCritical("workflow", schema.CodeMissingRequiredField, "workflow is nil")
		return res
	}

	checkWorkflowRequired(w, res)
	if !res.Valid() {
		return res
	}

	v.checkWorkflowSchema(w, res)
	checkNodeIDs(w, res)
	v.checkEdges(w, res)
	v.checkConverterCoverage(w, res)
	checkGraph(w, res)
	return res
}

func checkWorkflowRequired(w *schema.Workflow, res *schema.ValidationResult) {
	if w.ID == "" {
		res.AddCritical("id", schema.CodeMissingRequiredField, "workflow id is required")
	}
	if w.Nodes == nil {
		res.AddCritical("nodes", schema.CodeMissingRequiredField, "nodes must be an array")
	}
	if w.Edges == nil {
		res.AddCritical("edges", schema.CodeMissingRequiredField, "edges must be an array")
	}
}

func (v *Validator) checkWorkflowSchema(w *schema.Workflow, res *schema.ValidationResult) {
	violations, err := v.jsonSchema.WorkflowViolations(w)
	if err != nil {
		res.AddError("workflow", schema.CodeSchemaViolation, "schema check failed: "+err.Error())
		return
	}
	for _, violation := range violations {
		res.AddError("workflow", schema.CodeSchemaViolation, violation)
	}
}

// checkNodeIDs flags duplicate node ids. Conversion indexes nodes by id, so
// duplicates are unrecoverable.
func checkNodeIDs(w *schema.Workflow, res *schema.ValidationResult) {
	seen := make(map[string]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if _, dup := seen[n.ID]; dup {
			res.AddCritical("nodes."+n.ID, schema.CodeDuplicateNodeID,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		seen[n.ID] = struct{}{}
	}
}

// checkEdges flags duplicate edge ids, references to unknown nodes, and
// conditions that fail the syntax check.
func (v *Validator) checkEdges(w *schema.Workflow, res *schema.ValidationResult) {
	seen := make(map[string]struct{}, len(w.Edges))
	for _, e := range w.Edges {
		path := "edges." + e.ID

		if _, dup := seen[e.ID]; dup {
			res.AddError(path, schema.CodeDuplicateEdgeID, fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		seen[e.ID] = struct{}{}

		if w.NodeByID(e.Source) == nil {
			res.AddError(path, schema.CodeUnknownEndpoint,
				fmt.Sprintf("edge source %q does not exist", e.Source))
		}
		if w.NodeByID(e.Target) == nil {
			res.AddError(path, schema.CodeUnknownEndpoint,
				fmt.Sprintf("edge target %q does not exist", e.Target))
		}

		v.checkCondition(res, path, e.Condition)
	}
}

// checkConverterCoverage warns about nodes the conversion layer cannot
// handle. Skipped when no catalog is wired.
func (v *Validator) checkConverterCoverage(w *schema.Workflow, res *schema.ValidationResult) {
	if v.catalog == nil {
		return
	}
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if !v.catalog.CanConvert(n) {
			res.AddWarning("nodes."+n.ID, schema.CodeNoConverter,
				fmt.Sprintf("no converter registered for node type %q", n.Type))
		}
	}
}
