package evaluator

import "time"

// Evaluator is the common surface of ExpressionEvaluator and CodeEvaluator
// a consumer compiles once at LoadModel time and calls once per scenario.
type Evaluator interface {
	Eval(bindings map[string]float64) (float64, error)
}

// FunctionKind names the two accepted function forms, mirroring
// model.FunctionKind without importing pkg/model (which would create an
// import cycle back through pkg/model/validator).
type FunctionKind string

const (
	KindExpression FunctionKind = "expression"
	KindCode       FunctionKind = "code"
)

// Compile selects and compiles the evaluator for the given function kind,
// text, and result-variable name (used only by the code form), under
// timeout. This is the single entry point LoadModel needs; it never
// re-validates beyond what CompileExpression/CompileCode already do.
func Compile(kind FunctionKind, text string, resultName string, timeout time.Duration) (Evaluator, error) {
	switch kind {
	case KindExpression:
		return CompileExpression(text, timeout)
	case KindCode:
		if resultName == "" {
			resultName = "resultado"
		}
		return CompileCode(text, resultName, timeout)
	default:
		return nil, &ConfigError{Reason: "unsupported function kind: " + string(kind)}
	}
}

var (
	_ Evaluator = (*ExpressionEvaluator)(nil)
	_ Evaluator = (*CodeEvaluator)(nil)
)
