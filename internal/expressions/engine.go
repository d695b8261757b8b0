package expressions

import "context"

// Engine evaluates expressions against execution data.
// Three implementations: CEL (transition and edge conditions), GoJQ (result
// path extraction), Expr (custom compatibility rules).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Checker is implemented by engines that can syntax-check an expression
// without evaluating it. Validation passes use it to flag bad conditions.
type Checker interface {
	Check(expression string) error
}
