// gen-diagrams renders a sample converted journey for README documentation.
// Run: go run ./cmd/gen-diagrams [-out docs/diagrams]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tandemlab/tandem/internal/convert"
	"github.com/tandemlab/tandem/internal/diagram"
	"github.com/tandemlab/tandem/pkg/schema"
)

func main() {
	out := flag.String("out", defaultOutDir(), "output directory for rendered diagrams")
	flag.Parse()

	engine := convert.NewEngine(nil, nil, nil, nil, convert.EngineConfig{Version: "gen-diagrams"})
	journey, report, err := engine.Convert(context.Background(), sampleGraph(), convert.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "convert error: %v\n", err)
		os.Exit(1)
	}
	if report != nil && !report.Valid() {
		fmt.Fprintf(os.Stderr, "conversion reported %d errors\n", len(report.Errors))
	}

	model, err := diagram.Build(journey, sampleSteps(journey))
	if err != nil {
		fmt.Fprintf(os.Stderr, "build error: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir %s: %v\n", *out, err)
		os.Exit(1)
	}

	mermaid := diagram.RenderMermaid(model)
	write(*out, "journey-mermaid.md", []byte("```mermaid\n"+mermaid+"\n```\n"))
	fmt.Println("=== Mermaid ===")
	fmt.Println(mermaid)

	renders := []struct {
		format diagram.Format
		file   string
	}{
		{diagram.FormatDOT, "journey.dot"},
		{diagram.FormatSVG, "journey.svg"},
		{diagram.FormatPNG, "journey.png"},
	}
	for _, r := range renders {
		data, err := diagram.RenderImage(model, r.format)
		if err != nil {
			fmt.Fprintf(os.Stderr, "render %s: %v\n", r.format, err)
			continue
		}
		write(*out, r.file, data)
	}
}

func defaultOutDir() string {
	if dir := os.Getenv("TANDEM_DIAGRAM_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("docs", "diagrams")
}

func write(dir, name string, data []byte) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		return
	}
	fmt.Printf("written: %s (%d bytes)\n", path, len(data))
}

// sampleGraph is a support-triage workflow: classify the request, escalate
// high priority, poll for resolution in a retry loop otherwise.
func sampleGraph() *schema.Workflow {
	return &schema.Workflow{
		ID:   "wf-triage-sample",
		Name: "Support Triage",
		Nodes: []schema.Node{
			{ID: "start", Type: schema.NodeTypeStarter, Name: "Start"},
			{ID: "classify", Type: schema.NodeTypeAgent, Name: "Classify Request",
				Data: schema.NodeData{"prompt": "Classify the support request priority."}},
			{ID: "priority", Type: schema.NodeTypeCondition, Name: "Priority?"},
			{ID: "escalate", Type: schema.NodeTypeAPI, Name: "Escalate",
				Data: schema.NodeData{"url": "https://support.example.com/escalate", "method": "POST"}},
			{ID: "retry", Type: schema.NodeTypeLoop, Name: "Poll Resolution",
				Data: schema.NodeData{"max_iterations": 5}},
			{ID: "poll", Type: schema.NodeTypeFunction, Name: "Check Status", ParentID: "retry"},
			{ID: "done", Type: schema.NodeTypeResponse, Name: "Done"},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "start", Target: "classify"},
			{ID: "e2", Source: "classify", Target: "priority"},
			{ID: "e3", Source: "priority", Target: "escalate", SourceHandle: "condition-high"},
			{ID: "e4", Source: "priority", Target: "retry", SourceHandle: "condition-normal"},
			{ID: "e5", Source: "escalate", Target: "done"},
			{ID: "e6", Source: "retry", Target: "done"},
		},
	}
}

// sampleSteps fakes one partial run so the rendered diagram shows the
// status overlay.
func sampleSteps(j *schema.Journey) []schema.StepResult {
	steps := make([]schema.StepResult, 0, len(j.States))
	for _, s := range j.States {
		step := schema.StepResult{StateID: s.ID, Type: string(s.Type), Status: "completed", DurationMs: 40}
		switch s.Type {
		case schema.StateTypeChat:
			step.Status = "running"
			step.DurationMs = 0
		case schema.StateTypeFinal:
			step.Status = "pending"
			step.DurationMs = 0
		}
		steps = append(steps, step)
	}
	return steps
}
