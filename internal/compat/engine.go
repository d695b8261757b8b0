package compat

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/tandemlab/tandem/internal/streaming"
	"github.com/tandemlab/tandem/pkg/schema"
)

const (
	DefaultMaxDepth          = 10
	DefaultDurationTolerance = schema.Millis(1000)
)

// Config tunes one comparison run.
type Config struct {
	// MaxDepth bounds the structural recursion; zero means DefaultMaxDepth.
	MaxDepth int
	// CompareDuration enables the timing check. Duration differences only
	// ever produce a warning-level performance_variation diff.
	CompareDuration bool
	// DurationTolerance is the allowed absolute delta; zero means
	// DefaultDurationTolerance.
	DurationTolerance schema.Millis
	// BlockStepMap maps workflow node ids to journey state ids. Blocks
	// without an entry match steps positionally.
	BlockStepMap map[string]string
	// Transformers and Validators name registered extensions to apply.
	// Unknown names fail the comparison before any work happens.
	Transformers []string
	Validators   []string
}

func DefaultConfig() Config {
	return Config{
		MaxDepth:          DefaultMaxDepth,
		CompareDuration:   true,
		DurationTolerance: DefaultDurationTolerance,
	}
}

// Engine compares workflow execution results against journey execution
// results and reduces the differences to a similarity score.
type Engine struct {
	registry *Registry
	hub      streaming.EventHub
	logger   *slog.Logger
}

// NewEngine creates a comparison engine. registry nil installs the built-in
// registry, logger nil falls back to slog.Default().
func NewEngine(registry *Registry, hub streaming.EventHub, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, hub: hub, logger: logger}
}

// Registry exposes the engine's extension registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Compare normalizes both results, diffs them section by section, runs the
// configured custom validators, and reduces everything to a scored
// ResultComparison. Malformed inputs and unknown extension names return an
// error instead of a comparison.
func (e *Engine) Compare(ctx context.Context, workflow, journey *schema.ExecutionResult, cfg Config) (*schema.ResultComparison, error) {
	if workflow == nil || journey == nil {
		return nil, schema.NewError(schema.ErrCodeComparison, "both execution results are required")
	}

	transformers, err := e.resolveTransformers(cfg.Transformers)
	if err != nil {
		return nil, err
	}
	validators, err := e.resolveValidators(cfg.Validators)
	if err != nil {
		return nil, err
	}

	wf := NormalizeResult(workflow)
	jn := NormalizeResult(journey)
	for _, t := range transformers {
		wf = t.Transform(wf)
		jn = t.Transform(jn)
	}

	d := newDiffer(cfg.MaxDepth)
	compareStatus(d, wf, jn)
	d.compare("outputs", wf.Outputs, jn.Outputs, 0)
	compareVariables(d, wf.Variables, jn.Variables)
	compareDuration(d, wf, jn, cfg)
	compareUnits(d, wf, jn, cfg.BlockStepMap)
	compareIssues(d, "errors", schema.SeverityError, wf.Errors, jn.Errors)
	compareIssues(d, "warnings", schema.SeverityWarning, wf.Warnings, jn.Warnings)

	for _, v := range validators {
		diffs, err := v.Validate(ctx, wf, jn)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeComparison, "validator %q failed", v.Name()).WithCause(err)
		}
		d.diffs = append(d.diffs, diffs...)
	}

	comparison := &schema.ResultComparison{
		WorkflowExecutionID: workflow.ExecutionID,
		JourneyExecutionID:  journey.ExecutionID,
		Diffs:               d.diffs,
		ComparedAt:          time.Now().UTC(),
	}
	comparison.Summarize()

	e.logger.Info("results compared",
		slog.String("workflow_execution_id", workflow.ExecutionID),
		slog.String("journey_execution_id", journey.ExecutionID),
		slog.Float64("score", comparison.Score),
		slog.Int("diffs", comparison.Summary.Total),
		slog.Bool("compatible", comparison.Compatible),
	)
	streaming.Publish(ctx, e.hub, streaming.StreamEvent{
		EventType:   schema.EventComparisonCompleted,
		ExecutionID: workflow.ExecutionID,
		Payload: map[string]any{
			"score":      comparison.Score,
			"compatible": comparison.Compatible,
			"diffs":      comparison.Summary.Total,
		},
	})
	return comparison, nil
}

// Format renders a comparison through a registered formatter.
func (e *Engine) Format(name string, c *schema.ResultComparison) ([]byte, error) {
	f, err := e.registry.Formatter(name)
	if err != nil {
		return nil, err
	}
	return f.Format(c)
}

func (e *Engine) resolveTransformers(names []string) ([]Transformer, error) {
	out := make([]Transformer, 0, len(names))
	for _, name := range names {
		t, err := e.registry.Transformer(name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (e *Engine) resolveValidators(names []string) ([]Validator, error) {
	out := make([]Validator, 0, len(names))
	for _, name := range names {
		v, err := e.registry.Validator(name)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// compareStatus treats a status divergence as critical: two executions that
// finish in different lifecycle states are incompatible whatever else matches.
func compareStatus(d *differ, wf, jn *schema.ExecutionResult) {
	if wf.Status != jn.Status {
		d.addWith("status", schema.DiffValueMismatch, schema.SeverityCritical,
			wf.Status, jn.Status, "executions finished in different statuses")
	}
}

// compareVariables checks the symmetric key-set difference plus per-key deep
// equality. Variables diff as whole values, never recursively.
func compareVariables(d *differ, expected, actual map[string]any) {
	keys := make([]string, 0, len(expected)+len(actual))
	for k := range expected {
		keys = append(keys, k)
	}
	for k := range actual {
		if _, ok := expected[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := "variables." + k
		ev, inExpected := expected[k]
		av, inActual := actual[k]
		switch {
		case !inActual:
			d.add(path, schema.DiffMissingKey, ev, nil, "variable present in workflow result only")
		case !inExpected:
			d.add(path, schema.DiffExtraKey, nil, av, "variable present in journey result only")
		case !reflect.DeepEqual(ev, av):
			d.add(path, schema.DiffValueMismatch, ev, av, "variable values differ")
		}
	}
}

func compareDuration(d *differ, wf, jn *schema.ExecutionResult, cfg Config) {
	if !cfg.CompareDuration || wf.Duration <= 0 || jn.Duration <= 0 {
		return
	}
	tolerance := cfg.DurationTolerance
	if tolerance <= 0 {
		tolerance = DefaultDurationTolerance
	}
	delta := wf.Duration - jn.Duration
	if delta < 0 {
		delta = -delta
	}
	if delta > tolerance {
		d.addWith("duration", schema.DiffPerformance, schema.SeverityWarning,
			int64(wf.Duration), int64(jn.Duration),
			fmt.Sprintf("durations differ by %dms (tolerance %dms)", int64(delta), int64(tolerance)))
	}
}

// unitResult is the comparable view of one per-node execution record: a
// workflow block or a journey step.
type unitResult struct {
	ID     string
	Status string
	Error  string
	Output map[string]any
}

func unitsOf(r *schema.ExecutionResult) []unitResult {
	if len(r.Steps) > 0 {
		units := make([]unitResult, len(r.Steps))
		for i, s := range r.Steps {
			units[i] = unitResult{ID: s.StateID, Status: s.Status, Error: s.Error, Output: s.Output}
		}
		return units
	}
	units := make([]unitResult, len(r.Blocks))
	for i, b := range r.Blocks {
		units[i] = unitResult{ID: b.NodeID, Status: b.Status, Error: b.Error, Output: b.Output}
	}
	return units
}

// compareUnits maps workflow blocks to journey steps, by the node-to-state
// mapping when one is configured and positionally otherwise, then recurses
// into each pair. Unit ids themselves never diff: conversion renames them
// by design.
func compareUnits(d *differ, wf, jn *schema.ExecutionResult, mapping map[string]string) {
	expected := unitsOf(wf)
	actual := unitsOf(jn)
	if len(expected) == 0 && len(actual) == 0 {
		return
	}

	actualByID := make(map[string]int, len(actual))
	for i := range actual {
		actualByID[actual[i].ID] = i
	}

	matched := make(map[int]struct{}, len(actual))
	for i := range expected {
		unit := &expected[i]
		path := "blocks." + unit.ID

		pair := -1
		if id, ok := mapping[unit.ID]; ok {
			if j, found := actualByID[id]; found {
				pair = j
			}
		} else if i < len(actual) {
			pair = i
		}
		if pair < 0 {
			d.add(path, schema.DiffMissingKey, unit.ID, nil, "no journey step matches this block")
			continue
		}
		matched[pair] = struct{}{}
		step := &actual[pair]

		if unit.Status != step.Status {
			d.add(path+".status", schema.DiffValueMismatch, unit.Status, step.Status,
				"block and step finished in different statuses")
		}
		if unit.Error != step.Error {
			d.add(path+".error", schema.DiffValueMismatch, unit.Error, step.Error,
				"block and step errors differ")
		}
		d.compare(path+".output", unit.Output, step.Output, 0)
	}

	// Conversion legitimately expands containers into extra states, so
	// surplus journey steps are advisory only.
	for i := range actual {
		if _, ok := matched[i]; !ok {
			d.addWith("steps."+actual[i].ID, schema.DiffExtraKey, schema.SeverityInfo,
				nil, actual[i].ID, "journey step has no workflow block counterpart")
		}
	}
}

// compareIssues checks the normalized (sorted) error or warning lists.
// Divergence severity follows the list being compared.
func compareIssues(d *differ, path string, severity schema.Severity, expected, actual []schema.ExecutionIssue) {
	if len(expected) != len(actual) {
		d.addWith(path, schema.DiffCountMismatch, severity, len(expected), len(actual),
			fmt.Sprintf("workflow reported %d %s, journey reported %d", len(expected), path, len(actual)))
	}
	for i := 0; i < len(expected) && i < len(actual); i++ {
		if expected[i].Code != actual[i].Code || expected[i].Message != actual[i].Message {
			d.addWith(fmt.Sprintf("%s[%d]", path, i), schema.DiffValueMismatch, severity,
				expected[i], actual[i], "reported issues differ")
		}
	}
}
