package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tandemlab/tandem/internal/store"
	"github.com/tandemlab/tandem/pkg/schema"
)

// execRunner drives an external execution engine through a subprocess.
// The command gets a JSON request on stdin and must print a single
// ExecutionResult JSON document on stdout. Arguments are split on
// whitespace; quoting is not supported.
type execRunner struct {
	command string
}

func (r execRunner) run(ctx context.Context, request map[string]any) (*schema.ExecutionResult, error) {
	parts := strings.Fields(r.command)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty engine command")
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal engine request: %w", err)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("engine command %q: %w: %s", parts[0], err, msg)
		}
		return nil, fmt.Errorf("engine command %q: %w", parts[0], err)
	}

	var result schema.ExecutionResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("decode engine result: %w", err)
	}
	return &result, nil
}

// workflowExecRunner runs workflows on the external workflow engine.
type workflowExecRunner struct {
	execRunner
}

func (r workflowExecRunner) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*schema.ExecutionResult, error) {
	return r.run(ctx, map[string]any{
		"mode":        string(schema.ModeWorkflow),
		"workflow_id": workflowID,
		"input":       input,
	})
}

// journeyExecRunner runs journeys on the external journey engine.
type journeyExecRunner struct {
	execRunner
}

func (r journeyExecRunner) ExecuteJourney(ctx context.Context, journey *schema.Journey, input map[string]any) (*schema.ExecutionResult, error) {
	return r.run(ctx, map[string]any{
		"mode":    string(schema.ModeJourney),
		"journey": journey,
		"input":   input,
	})
}

// storeWorkflows adapts the store to the orchestrator's workflow source.
type storeWorkflows struct {
	s store.Store
}

func (w storeWorkflows) Workflow(ctx context.Context, id string) (*schema.Workflow, error) {
	return w.s.GetWorkflow(ctx, id)
}

// storeJourneys adapts the store to the orchestrator's journey source.
type storeJourneys struct {
	s store.Store
}

func (j storeJourneys) Journey(ctx context.Context, id string) (*schema.Journey, error) {
	return j.s.GetJourney(ctx, id)
}
