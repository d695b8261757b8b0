package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tandemlab/tandem/pkg/schema"
)

const (
	workflowSchemaURL = "https://tandemlab.io/schemas/workflow.json"
	journeySchemaURL  = "https://tandemlab.io/schemas/journey.json"
)

// workflowSchemaJSON is the JSON Schema for visual workflow graphs.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://tandemlab.io/schemas/workflow.json",
  "type": "object",
  "required": ["id", "nodes", "edges"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "nodes": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "variables": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["starter", "agent", "api", "function", "condition", "router",
                   "response", "loop", "parallel", "workflow", "webhook", "trigger"]
        },
        "name": { "type": "string" },
        "position": { "$ref": "#/$defs/position" },
        "data": { "type": "object" },
        "parent_id": { "type": "string" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "source_handle": { "type": "string" },
        "target_handle": { "type": "string" },
        "condition": { "type": "string" }
      },
      "additionalProperties": false
    },
    "position": {
      "type": "object",
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      },
      "additionalProperties": false
    }
  }
}`

// journeySchemaJSON is the JSON Schema for converted journeys.
const journeySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://tandemlab.io/schemas/journey.json",
  "type": "object",
  "required": ["id", "states", "transitions"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "workflow_id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "states": {
      "type": "array",
      "items": { "$ref": "#/$defs/state" }
    },
    "transitions": {
      "type": "array",
      "items": { "$ref": "#/$defs/transition" }
    },
    "variables": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "state": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["initial", "chat", "tool", "condition", "loop_start",
                   "loop_end", "parallel_start", "parallel_end", "final"]
        },
        "name": { "type": "string" },
        "description": { "type": "string" },
        "position": { "$ref": "#/$defs/position" },
        "config": { "type": "object" },
        "variables": { "type": "object" },
        "preservation": { "type": "object" },
        "source_node_id": { "type": "string" }
      },
      "additionalProperties": false
    },
    "transition": {
      "type": "object",
      "required": ["id", "from", "to"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "from": { "type": "string", "minLength": 1 },
        "to": { "type": "string", "minLength": 1 },
        "condition": { "type": "string" },
        "event": { "type": "string" },
        "priority": { "type": "integer" }
      },
      "additionalProperties": false
    },
    "position": {
      "type": "object",
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks documents against the embedded JSON Schemas
// (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
	journeySchema  *jsonschema.Schema

	// mu guards the cache of dynamically compiled input schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator pre-compiles the workflow and journey schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	wf, err := compileResource(c, workflowSchemaURL, workflowSchemaJSON)
	if err != nil {
		return nil, err
	}
	jn, err := compileResource(c, journeySchemaURL, journeySchemaJSON)
	if err != nil {
		return nil, err
	}

	return &JSONSchemaValidator{
		workflowSchema: wf,
		journeySchema:  jn,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// WorkflowViolations returns schema violations for a workflow document.
// A non-nil error means the document could not be checked at all.
func (v *JSONSchemaValidator) WorkflowViolations(w *schema.Workflow) ([]string, error) {
	return violationsFor(v.workflowSchema, w)
}

// JourneyViolations returns schema violations for a journey document.
func (v *JSONSchemaValidator) JourneyViolations(j *schema.Journey) ([]string, error) {
	return violationsFor(v.journeySchema, j)
}

// ValidateInput validates input data against a JSON Schema provided as raw
// bytes. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toTandemError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	// Each dynamic schema gets a unique URL and a fresh compiler to avoid
	// resource collisions.
	url := fmt.Sprintf("tandem://input-schema/%d", len(v.cache))
	compiled, err := compileResource(newCompiler(), url, key)
	if err != nil {
		return nil, err
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

func compileResource(c *jsonschema.Compiler, url, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return compiled, nil
}

func violationsFor(s *jsonschema.Schema, doc any) ([]string, error) {
	val, err := toJSONValue(doc)
	if err != nil {
		return nil, err
	}
	err = s.Validate(val)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}, nil
	}
	return collectViolations(verr), nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toTandemError converts a jsonschema.ValidationError into a TandemError
// carrying the individual violations in its details.
func toTandemError(err error) *schema.TandemError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
