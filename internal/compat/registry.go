package compat

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tandemlab/tandem/internal/expressions"
	"github.com/tandemlab/tandem/pkg/schema"
)

// Formatter renders a finished comparison for export. Report formats are
// delegated to externally registered formatters by name.
type Formatter interface {
	Name() string
	Format(c *schema.ResultComparison) ([]byte, error)
}

// Transformer rewrites a normalized result before diffing, for callers that
// need to reshape engine-specific output.
type Transformer interface {
	Name() string
	Transform(r *schema.ExecutionResult) *schema.ExecutionResult
}

// Validator contributes custom diffs to a comparison.
type Validator interface {
	Name() string
	Validate(ctx context.Context, workflow, journey *schema.ExecutionResult) ([]schema.ResultDiff, error)
}

// Registry holds the pluggable comparison extensions. Requesting an
// unregistered name fails fast rather than silently skipping the extension.
type Registry struct {
	mu           sync.RWMutex
	formatters   map[string]Formatter
	transformers map[string]Transformer
	validators   map[string]Validator
}

func NewRegistry() *Registry {
	return &Registry{
		formatters:   make(map[string]Formatter),
		transformers: make(map[string]Transformer),
		validators:   make(map[string]Validator),
	}
}

// DefaultRegistry returns a registry with the built-in formatters installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.RegisterFormatter(jsonFormatter{}); err != nil {
		panic(err)
	}
	if err := r.RegisterFormatter(csvFormatter{}); err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) RegisterFormatter(f Formatter) error {
	if f == nil || f.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "formatter must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.formatters[f.Name()]; dup {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "formatter %q already registered", f.Name())
	}
	r.formatters[f.Name()] = f
	return nil
}

func (r *Registry) RegisterTransformer(t Transformer) error {
	if t == nil || t.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "transformer must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.transformers[t.Name()]; dup {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "transformer %q already registered", t.Name())
	}
	r.transformers[t.Name()] = t
	return nil
}

func (r *Registry) RegisterValidator(v Validator) error {
	if v == nil || v.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "validator must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.validators[v.Name()]; dup {
		return schema.NewErrorf(schema.ErrCodeAlreadyExists, "validator %q already registered", v.Name())
	}
	r.validators[v.Name()] = v
	return nil
}

func (r *Registry) Formatter(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formatters[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unregistered formatter %q", name)
	}
	return f, nil
}

func (r *Registry) Transformer(name string) (Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transformers[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unregistered transformer %q", name)
	}
	return t, nil
}

func (r *Registry) Validator(name string) (Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "unregistered validator %q", name)
	}
	return v, nil
}

// --- Built-in formatters ---

type jsonFormatter struct{}

func (jsonFormatter) Name() string { return "json" }

func (jsonFormatter) Format(c *schema.ResultComparison) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

type csvFormatter struct{}

func (csvFormatter) Name() string { return "csv" }

func (csvFormatter) Format(c *schema.ResultComparison) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"path", "kind", "severity", "message"}); err != nil {
		return nil, err
	}
	for _, d := range c.Diffs {
		if err := w.Write([]string{d.Path, string(d.Kind), string(d.Severity), d.Message}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- Expr validator ---

// ExprValidator evaluates a boolean expr-lang rule against both results.
// The rule sees `workflow` and `journey` environments with status, outputs,
// variables, duration_ms, error_count, and warning_count. A false result
// contributes one diff at the validator's severity.
type ExprValidator struct {
	name     string
	source   string
	severity schema.Severity
	engine   *expressions.ExprEngine
}

// NewExprValidator compiles the rule up front so a bad expression fails at
// registration time, not mid-comparison.
func NewExprValidator(name, source string, severity schema.Severity) (*ExprValidator, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "validator name is required")
	}
	engine := expressions.NewExprEngine()
	if err := engine.Check(source); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "validator %q: bad rule", name).WithCause(err)
	}
	if severity == "" {
		severity = schema.SeverityError
	}
	return &ExprValidator{name: name, source: source, severity: severity, engine: engine}, nil
}

func (v *ExprValidator) Name() string { return v.name }

func (v *ExprValidator) Validate(ctx context.Context, workflow, journey *schema.ExecutionResult) ([]schema.ResultDiff, error) {
	env := map[string]any{
		"workflow": resultEnv(workflow),
		"journey":  resultEnv(journey),
	}
	out, err := v.engine.Evaluate(ctx, v.source, env)
	if err != nil {
		return nil, err
	}
	ok, isBool := out.(bool)
	if !isBool {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"validator %q: rule must return a boolean, got %T", v.name, out)
	}
	if ok {
		return nil, nil
	}
	return []schema.ResultDiff{{
		Path:     "custom." + v.name,
		Kind:     schema.DiffValueMismatch,
		Severity: v.severity,
		Message:  fmt.Sprintf("custom rule %q failed", v.name),
	}}, nil
}

func resultEnv(r *schema.ExecutionResult) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	return map[string]any{
		"status":        r.Status,
		"outputs":       r.Outputs,
		"variables":     r.Variables,
		"duration_ms":   int64(r.Duration),
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
	}
}
