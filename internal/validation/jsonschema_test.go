package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

func newSchemaValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

// --- Workflow and journey schemas ---

func TestWorkflowViolationsCleanDocument(t *testing.T) {
	v := newSchemaValidator(t)

	violations, err := v.WorkflowViolations(linearGraph())

	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestWorkflowViolationsUnknownNodeType(t *testing.T) {
	v := newSchemaValidator(t)
	wf := &schema.Workflow{
		ID:    "wf",
		Nodes: []schema.Node{{ID: "n1", Type: "quantum"}},
		Edges: []schema.Edge{},
	}

	violations, err := v.WorkflowViolations(wf)

	require.NoError(t, err)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "/nodes/0")
}

func TestWorkflowViolationsMissingEdgeTarget(t *testing.T) {
	v := newSchemaValidator(t)
	wf := &schema.Workflow{
		ID:    "wf",
		Nodes: []schema.Node{{ID: "n1", Type: schema.NodeTypeStarter}},
		Edges: []schema.Edge{{ID: "e1", Source: "n1"}},
	}

	violations, err := v.WorkflowViolations(wf)

	require.NoError(t, err)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "/edges/0")
}

func TestJourneyViolationsCleanDocument(t *testing.T) {
	v := newSchemaValidator(t)

	violations, err := v.JourneyViolations(threeStateJourney())

	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestJourneyViolationsUnknownStateType(t *testing.T) {
	v := newSchemaValidator(t)
	j := &schema.Journey{
		ID:          "j",
		States:      []schema.JourneyState{{ID: "s1", Type: "zombie"}},
		Transitions: []schema.JourneyTransition{},
	}

	violations, err := v.JourneyViolations(j)

	require.NoError(t, err)
	require.NotEmpty(t, violations)
	assert.Contains(t, violations[0], "/states/0")
}

// --- Input validation ---

const personSchema = `{
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": { "type": "string" },
    "age": { "type": "integer", "minimum": 0 }
  }
}`

func TestValidateInputOK(t *testing.T) {
	v := newSchemaValidator(t)

	err := v.ValidateInput(map[string]any{"name": "ada", "age": 36}, []byte(personSchema))

	assert.NoError(t, err)
}

func TestValidateInputViolations(t *testing.T) {
	v := newSchemaValidator(t)

	err := v.ValidateInput(map[string]any{"age": -1}, []byte(personSchema))

	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	var terr *schema.TandemError
	require.True(t, errors.As(err, &terr))
	violations, ok := terr.Details["violations"].([]string)
	require.True(t, ok)
	assert.Len(t, violations, 2)
}

func TestValidateInputNilInput(t *testing.T) {
	v := newSchemaValidator(t)

	err := v.ValidateInput(nil, []byte(personSchema))

	assert.Error(t, err)
}

func TestValidateInputNoSchema(t *testing.T) {
	v := newSchemaValidator(t)

	assert.NoError(t, v.ValidateInput(map[string]any{"anything": true}, nil))
}

func TestValidateInputBadSchema(t *testing.T) {
	v := newSchemaValidator(t)

	err := v.ValidateInput(map[string]any{"x": 1}, []byte(`{"type": 42}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestValidateInputCachesCompiledSchemas(t *testing.T) {
	v := newSchemaValidator(t)
	input := map[string]any{"name": "grace"}

	require.NoError(t, v.ValidateInput(input, []byte(personSchema)))
	require.NoError(t, v.ValidateInput(input, []byte(personSchema)))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}
