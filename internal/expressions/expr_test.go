package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemlab/tandem/pkg/schema"
)

func TestExprEngine_EvaluateRule(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `expected.status == actual.status`, map[string]any{
		"expected": map[string]any{"status": "completed"},
		"actual":   map[string]any{"status": "completed"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_ArrayOperations(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `count(diffs, .severity == "error")`, map[string]any{
		"diffs": []any{
			map[string]any{"severity": "error"},
			map[string]any{"severity": "warning"},
			map[string]any{"severity": "error"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out)
}

func TestExprEngine_UndefinedVariablesAllowed(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExprEngine_CompileErrorIsStructured(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `1 +`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestExprEngine_Check(t *testing.T) {
	e := NewExprEngine()
	assert.NoError(t, e.Check(`score >= 90`))
	assert.Error(t, e.Check(`score >=`))
	assert.Error(t, e.Check(``))
}
