package evaluator

import (
	"fmt"
	"math"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

// constants is the closed constant set of §4.C.1.
var constants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
	"inf": math.Inf(1),
	"nan": math.NaN(),
}

// allowedCalls is the closed, pure, side-effect-free call set of §4.C.1.
// expr-lang resolves a bare identifier call against the environment map,
// so exposing exactly these names as Go functions in the eval environment
// is what makes the call set closed: anything else is an undefined
// identifier and is rejected by the patch visitor below before it would
// ever reach the runtime.
var allowedCalls = map[string]func(args ...float64) float64{
	"abs":   func(a ...float64) float64 { return math.Abs(a[0]) },
	"round": func(a ...float64) float64 { return math.Round(a[0]) },
	"min":   func(a ...float64) float64 { return math.Min(a[0], a[1]) },
	"max":   func(a ...float64) float64 { return math.Max(a[0], a[1]) },
	"sum": func(a ...float64) float64 {
		s := 0.0
		for _, v := range a {
			s += v
		}
		return s
	},
	"sqrt":    func(a ...float64) float64 { return math.Sqrt(a[0]) },
	"pow":     func(a ...float64) float64 { return math.Pow(a[0], a[1]) },
	"exp":     func(a ...float64) float64 { return math.Exp(a[0]) },
	"log":     func(a ...float64) float64 { return math.Log(a[0]) },
	"log10":   func(a ...float64) float64 { return math.Log10(a[0]) },
	"log2":    func(a ...float64) float64 { return math.Log2(a[0]) },
	"sin":     func(a ...float64) float64 { return math.Sin(a[0]) },
	"cos":     func(a ...float64) float64 { return math.Cos(a[0]) },
	"tan":     func(a ...float64) float64 { return math.Tan(a[0]) },
	"asin":    func(a ...float64) float64 { return math.Asin(a[0]) },
	"acos":    func(a ...float64) float64 { return math.Acos(a[0]) },
	"atan":    func(a ...float64) float64 { return math.Atan(a[0]) },
	"atan2":   func(a ...float64) float64 { return math.Atan2(a[0], a[1]) },
	"sinh":    func(a ...float64) float64 { return math.Sinh(a[0]) },
	"cosh":    func(a ...float64) float64 { return math.Cosh(a[0]) },
	"tanh":    func(a ...float64) float64 { return math.Tanh(a[0]) },
	"ceil":    func(a ...float64) float64 { return math.Ceil(a[0]) },
	"floor":   func(a ...float64) float64 { return math.Floor(a[0]) },
	"trunc":   func(a ...float64) float64 { return math.Trunc(a[0]) },
	"degrees": func(a ...float64) float64 { return a[0] * 180 / math.Pi },
	"radians": func(a ...float64) float64 { return a[0] * math.Pi / 180 },
}

var allowedBinaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true, "**": true,
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

var allowedUnaryOps = map[string]bool{"+": true, "-": true}

// safetyVisitor walks a compiled expression's AST and rejects any node
// outside the closed set of §4.C.1. It is installed via expr.Patch so the
// check runs during expr.Compile, before anything can execute.
type safetyVisitor struct {
	err error
}

func (v *safetyVisitor) reject(reason string) {
	if v.err == nil {
		v.err = &SecurityError{Reason: reason}
	}
}

func (v *safetyVisitor) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode, *ast.IntegerNode, *ast.FloatNode, *ast.ConditionalNode:
		// allowed: variable reference, numeric literal, ternary.
	case *ast.UnaryNode:
		if !allowedUnaryOps[n.Operator] {
			v.reject(fmt.Sprintf("unary operator %q is not permitted", n.Operator))
		}
	case *ast.BinaryNode:
		if !allowedBinaryOps[n.Operator] {
			v.reject(fmt.Sprintf("binary operator %q is not permitted", n.Operator))
		}
	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			v.reject("call target must be a bare function name")
			return
		}
		if _, ok := allowedCalls[id.Value]; !ok {
			v.reject(fmt.Sprintf("call to %q is not in the allowed function set", id.Value))
		}
	default:
		v.reject(fmt.Sprintf("construct %T is not permitted in a model expression", n))
	}
}

// ValidateExpression compiles text with no concrete variable bindings and
// reports a *SecurityError if it uses anything outside the closed
// construct/call set, without ever executing it.
func ValidateExpression(text string) error {
	return compileExpression(text)
}

// compileExpression runs expr.Compile purely to drive the safety visitor;
// the expression is recompiled per Eval call (expr.Compile is cheap
// relative to the work it protects), so no *vm.Program is cached here.
func compileExpression(text string) error {
	v := &safetyVisitor{}
	env := baseExpressionEnv(nil)
	_, err := expr.Compile(text, expr.Env(env), expr.AllowUndefinedVariables(), expr.Patch(v))
	if v.err != nil {
		return v.err
	}
	if err != nil {
		return &SecurityError{Reason: err.Error()}
	}
	return nil
}

// ExpressionEvaluator evaluates a validated expression-form function
// against variable bindings.
type ExpressionEvaluator struct {
	text    string
	timeout time.Duration
}

// CompileExpression validates and prepares an expression for repeated
// evaluation under the given per-call timeout.
func CompileExpression(text string, timeout time.Duration) (*ExpressionEvaluator, error) {
	if err := compileExpression(text); err != nil {
		return nil, err
	}
	return &ExpressionEvaluator{text: text, timeout: timeout}, nil
}

// Eval runs the expression against bindings, enforcing the compiled
// evaluator's timeout.
func (e *ExpressionEvaluator) Eval(bindings map[string]float64) (float64, error) {
	return runWithTimeout(e.timeout, nil, func() (float64, error) {
		env := baseExpressionEnv(bindings)
		out, err := expr.Eval(e.text, env)
		if err != nil {
			return 0, &EvaluationError{Cause: err}
		}
		return toFiniteFloat(out)
	})
}

func baseExpressionEnv(bindings map[string]float64) map[string]interface{} {
	env := make(map[string]interface{}, len(constants)+len(allowedCalls)+len(bindings))
	for k, v := range constants {
		env[k] = v
	}
	for name, fn := range allowedCalls {
		fn := fn
		env[name] = func(args ...float64) float64 { return fn(args...) }
	}
	for k, v := range bindings {
		env[k] = v
	}
	return env
}

func toFiniteFloat(v interface{}) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	default:
		return 0, &ResultTypeError{ResultName: "expression result", Got: fmt.Sprintf("%T", v)}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ResultTypeError{ResultName: "expression result", Got: fmt.Sprintf("%v", f)}
	}
	return f, nil
}
