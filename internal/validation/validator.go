// Package validation implements the three verification passes over
// conversion inputs and outputs: workflow graphs before conversion,
// journeys after conversion, and the cross-checks between the two.
package validation

import (
	"github.com/tandemlab/tandem/internal/expressions"
	"github.com/tandemlab/tandem/pkg/schema"
)

// ConverterCatalog answers whether the conversion layer can handle a node.
// The conversion engine implements it; a nil catalog skips coverage checks.
type ConverterCatalog interface {
	CanConvert(node *schema.Node) bool
}

// Validator runs the verification passes. Every pass is read-only, returns
// an independent result, and is safe for concurrent use.
type Validator struct {
	jsonSchema *JSONSchemaValidator
	catalog    ConverterCatalog
	checker    expressions.Checker
}

// New builds a Validator. catalog may be nil to skip converter coverage
// checks, checker may be nil to skip condition syntax checks.
func New(catalog ConverterCatalog, checker expressions.Checker) (*Validator, error) {
	js, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{jsonSchema: js, catalog: catalog, checker: checker}, nil
}

// Schemas exposes the underlying JSON Schema validator, for callers that
// need raw input validation.
func (v *Validator) Schemas() *JSONSchemaValidator {
	return v.jsonSchema
}

// checkCondition records a warning when an expression fails the syntax check.
func (v *Validator) checkCondition(res *schema.ValidationResult, path, expr string) {
	if v.checker == nil || expr == "" {
		return
	}
	if err := v.checker.Check(expr); err != nil {
		res.AddWarning(path, schema.CodeInvalidCondition, "condition does not parse: "+err.Error())
	}
}
