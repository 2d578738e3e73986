package evaluator

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

// disallowedIdentifiers closes off everything a code-block function could
// use to escape the sandbox or observe ambient state: the VM already has
// no require/process/fs by construction, but goja still exposes a handful
// of dangerous globals and constructs the static scan below rejects
// regardless of where in the AST they appear.
var disallowedIdentifiers = map[string]bool{
	"eval":        true,
	"Function":    true,
	"require":     true,
	"import":      true,
	"process":     true,
	"globalThis":  true,
	"global":      true,
	"this":        true,
	"constructor": true,
	"__proto__":   true,
	"Proxy":       true,
	"Reflect":     true,
	"WeakMap":     true,
	"WeakSet":     true,
	"Promise":     true,
	"setTimeout":  true,
	"setInterval": true,
}

// forbiddenNodeKinds maps the goja AST struct type name (as reported by
// reflect) to the rejection reason. Matching by type name, rather than by
// a compile-time type switch against the ast package's exported types,
// keeps this scan decoupled from the exact struct set of any one parser
// version: a node kind the scan doesn't recognize simply isn't special
// cased, it still has its fields walked for nested disallowed constructs.
var forbiddenNodeKinds = map[string]string{
	"FunctionLiteral":      "function declarations are not permitted in a model code block",
	"FunctionDeclaration":  "function declarations are not permitted in a model code block",
	"ArrowFunctionLiteral": "function declarations are not permitted in a model code block",
	"ClassLiteral":         "class declarations are not permitted in a model code block",
	"ClassDeclaration":     "class declarations are not permitted in a model code block",
	"TryStatement":         "try/catch is not permitted in a model code block",
	"ForInStatement":       "for-in loops are not permitted in a model code block",
	"ForOfStatement":       "for-of loops are not permitted in a model code block",
	"WithStatement":        "with statements are not permitted in a model code block",
	"ThrowStatement":       "throw is not permitted in a model code block",
	"NewExpression":        "the new operator is not permitted in a model code block",
}

// codeMathFuncs is the closed call set for code blocks: the expression
// evaluator's allowedCalls (§4.C.1) except `degrees` and `radians`, plus
// the array-reduction and distribution-shaping helpers §4.C.2's curated
// top-level binding adds beyond that (`sum, mean, median, std, var, power,
// square, sign, clip`). Exposed both as a `math` namespace object and as
// bare identifiers, matching idiomatic JS; `var` is a reserved word in JS,
// so that helper is callable only as `math.var(...)`.
var codeMathFuncs = map[string]func(args ...float64) float64{
	"abs":   func(a ...float64) float64 { return math.Abs(a[0]) },
	"sqrt":  func(a ...float64) float64 { return math.Sqrt(a[0]) },
	"pow":   func(a ...float64) float64 { return math.Pow(a[0], a[1]) },
	"power": func(a ...float64) float64 { return math.Pow(a[0], a[1]) },
	"exp":   func(a ...float64) float64 { return math.Exp(a[0]) },
	"log":   func(a ...float64) float64 { return math.Log(a[0]) },
	"log10": func(a ...float64) float64 { return math.Log10(a[0]) },
	"log2":  func(a ...float64) float64 { return math.Log2(a[0]) },
	"sin":   func(a ...float64) float64 { return math.Sin(a[0]) },
	"cos":   func(a ...float64) float64 { return math.Cos(a[0]) },
	"tan":   func(a ...float64) float64 { return math.Tan(a[0]) },
	"asin":  func(a ...float64) float64 { return math.Asin(a[0]) },
	"acos":  func(a ...float64) float64 { return math.Acos(a[0]) },
	"atan":  func(a ...float64) float64 { return math.Atan(a[0]) },
	"atan2": func(a ...float64) float64 { return math.Atan2(a[0], a[1]) },
	"sinh":  func(a ...float64) float64 { return math.Sinh(a[0]) },
	"cosh":  func(a ...float64) float64 { return math.Cosh(a[0]) },
	"tanh":  func(a ...float64) float64 { return math.Tanh(a[0]) },
	"ceil":  func(a ...float64) float64 { return math.Ceil(a[0]) },
	"floor": func(a ...float64) float64 { return math.Floor(a[0]) },
	"trunc": func(a ...float64) float64 { return math.Trunc(a[0]) },
	"round": func(a ...float64) float64 { return math.Round(a[0]) },
	"min":   func(a ...float64) float64 { return math.Min(a[0], a[1]) },
	"max":   func(a ...float64) float64 { return math.Max(a[0], a[1]) },
	"square": func(a ...float64) float64 { return a[0] * a[0] },
	"sign": func(a ...float64) float64 {
		switch {
		case a[0] > 0:
			return 1
		case a[0] < 0:
			return -1
		default:
			return 0
		}
	},
	"clip": func(a ...float64) float64 { return math.Min(math.Max(a[0], a[1]), a[2]) },
	"sum": func(a ...float64) float64 {
		s := 0.0
		for _, v := range a {
			s += v
		}
		return s
	},
	"mean": func(a ...float64) float64 { return meanOf(a) },
	"median": func(a ...float64) float64 {
		sorted := append([]float64(nil), a...)
		sort.Float64s(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2]
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2
	},
	"var": func(a ...float64) float64 { return varianceOf(a) },
	"std": func(a ...float64) float64 { return math.Sqrt(varianceOf(a)) },
}

func meanOf(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range a {
		s += v
	}
	return s / float64(len(a))
}

// varianceOf is the population variance (divide by n, not n-1): numpy's
// np.var/np.std default ddof=0, which the np-shaped code-block binding
// mirrors.
func varianceOf(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	m := meanOf(a)
	s := 0.0
	for _, v := range a {
		d := v - m
		s += d * d
	}
	return s / float64(len(a))
}

// codeFuncArity is the minimum argument count each codeMathFuncs entry
// needs before it is safe to index. A call short of this count is
// rejected as a JS-visible TypeError rather than panicking the host Go
// slice index inside the wrapped closure.
var codeFuncArity = map[string]int{
	"abs": 1, "sqrt": 1, "pow": 2, "power": 2, "exp": 1, "log": 1,
	"log10": 1, "log2": 1, "sin": 1, "cos": 1, "tan": 1, "asin": 1,
	"acos": 1, "atan": 1, "atan2": 2, "sinh": 1, "cosh": 1, "tanh": 1,
	"ceil": 1, "floor": 1, "trunc": 1, "round": 1, "min": 2, "max": 2,
	"square": 1, "sign": 1, "clip": 3,
	"sum": 1, "mean": 1, "median": 1, "var": 1, "std": 1,
}

var leadingUnderscoreRe = regexp.MustCompile(`^_`)

// ValidateCode parses text as a standalone program and rejects it if it
// references any disallowed identifier, declares a function/class, uses
// try/catch, a for-in/for-of/with statement, or never appears to assign
// resultName — all checked statically, before any execution.
func ValidateCode(text string, resultName string) error {
	_, err := compileCode(text, resultName)
	return err
}

type codeProgram struct {
	source     string
	resultName string
}

func compileCode(text string, resultName string) (*codeProgram, error) {
	prog, err := parser.ParseFile(nil, "model-function.js", text, 0)
	if err != nil {
		return nil, &SecurityError{Reason: fmt.Sprintf("parse error: %s", err)}
	}

	s := &scanState{resultName: resultName}
	walk(reflect.ValueOf(prog), s, 0)
	if s.err != nil {
		return nil, s.err
	}
	if !s.assignsResult {
		return nil, &SecurityError{Reason: fmt.Sprintf("code block never assigns %q", resultName)}
	}
	return &codeProgram{source: text, resultName: resultName}, nil
}

type scanState struct {
	resultName    string
	assignsResult bool
	err           error
}

func (s *scanState) reject(reason string) {
	if s.err == nil {
		s.err = &SecurityError{Reason: reason}
	}
}

const maxWalkDepth = 10000

// walk recursively inspects a parsed goja AST by reflection rather than a
// compile-time type switch against ast package types: every struct node's
// type name is checked against forbiddenNodeKinds and, for identifiers and
// assignment targets, by name — then every field, slice element, and map
// value is walked in turn.
func walk(v reflect.Value, s *scanState, depth int) {
	if s.err != nil || depth > maxWalkDepth || !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		walk(v.Elem(), s, depth+1)
	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		inspect(v, s)
		if s.err != nil {
			return
		}
		walk(v.Elem(), s, depth+1)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			walk(v.Field(i), s, depth+1)
			if s.err != nil {
				return
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), s, depth+1)
			if s.err != nil {
				return
			}
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			walk(v.MapIndex(k), s, depth+1)
			if s.err != nil {
				return
			}
		}
	}
}

// inspect runs the node-kind and identifier checks for the struct pointed
// to by v (v.Kind() == reflect.Ptr).
func inspect(v reflect.Value, s *scanState) {
	elem := v.Elem()
	if elem.Kind() != reflect.Struct {
		return
	}
	typeName := elem.Type().Name()

	if reason, ok := forbiddenNodeKinds[typeName]; ok {
		s.reject(reason)
		return
	}

	switch typeName {
	case "Identifier":
		name, ok := identifierName(v)
		if !ok {
			return
		}
		if disallowedIdentifiers[name] {
			s.reject(fmt.Sprintf("identifier %q is not permitted in a model code block", name))
			return
		}
		if leadingUnderscoreRe.MatchString(name) {
			s.reject(fmt.Sprintf("identifier %q: leading-underscore identifiers are not permitted", name))
			return
		}
	case "AssignExpression":
		left := elem.FieldByName("Left")
		if name, ok := identifierName(left); ok && name == s.resultName {
			s.assignsResult = true
		}
	case "Binding":
		target := elem.FieldByName("Target")
		init := elem.FieldByName("Initializer")
		if name, ok := identifierName(target); ok && name == s.resultName && hasInitializer(init) {
			s.assignsResult = true
		}
	}
}

// identifierName follows pointers/interfaces down to an *Identifier node
// and returns its Name field as a string, whatever concrete string-like
// type that field holds.
func identifierName(v reflect.Value) (string, bool) {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr) {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.Type().Name() != "Identifier" {
		return "", false
	}
	nameField := v.FieldByName("Name")
	if !nameField.IsValid() {
		return "", false
	}
	if nameField.Kind() == reflect.String {
		return nameField.String(), true
	}
	if m := nameField.MethodByName("String"); m.IsValid() && m.Type().NumIn() == 0 {
		out := m.Call(nil)
		if len(out) == 1 {
			if str, ok := out[0].Interface().(string); ok {
				return str, true
			}
		}
	}
	return "", false
}

func hasInitializer(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		return !v.IsNil()
	}
	return !v.IsZero()
}

// CodeEvaluator evaluates a validated code-block function against
// variable bindings in a fresh goja VM per call.
type CodeEvaluator struct {
	prog    *codeProgram
	timeout time.Duration
}

// CompileCode validates text and prepares it for repeated evaluation
// under the given per-call timeout.
func CompileCode(text string, resultName string, timeout time.Duration) (*CodeEvaluator, error) {
	prog, err := compileCode(text, resultName)
	if err != nil {
		return nil, err
	}
	return &CodeEvaluator{prog: prog, timeout: timeout}, nil
}

// Eval runs the code block against bindings in a fresh VM, enforcing the
// compiled evaluator's timeout via goja's cooperative interrupt.
func (c *CodeEvaluator) Eval(bindings map[string]float64) (float64, error) {
	vm := goja.New()

	return runWithTimeout(c.timeout, func() { vm.Interrupt(&TimeoutError{TimeoutSec: c.timeout.Seconds()}) }, func() (float64, error) {
		seedMathNamespace(vm)
		for name, value := range bindings {
			if err := vm.Set(name, value); err != nil {
				return 0, &EvaluationError{Cause: err}
			}
		}

		_, err := vm.RunString(c.prog.source)
		if err != nil {
			if ie, ok := err.(*goja.InterruptedError); ok {
				if te, ok := ie.Value().(*TimeoutError); ok {
					return 0, te
				}
			}
			return 0, &EvaluationError{Cause: err}
		}

		resultVal := vm.Get(c.prog.resultName)
		if resultVal == nil || goja.IsUndefined(resultVal) {
			return 0, &ResultMissingError{ResultName: c.prog.resultName}
		}
		f := resultVal.ToFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, &ResultTypeError{ResultName: c.prog.resultName, Got: resultVal.String()}
		}
		return f, nil
	})
}

// seedMathNamespace installs the closed math call set both as bare
// identifiers and as properties of a `math` object, and removes the
// globals that disallowedIdentifiers names so a body that somehow slips
// past the static check still has nothing to call.
func seedMathNamespace(vm *goja.Runtime) {
	mathObj := vm.NewObject()
	for name, fn := range codeMathFuncs {
		name, fn := name, fn
		need := codeFuncArity[name]
		wrapped := func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) < need {
				panic(vm.NewTypeError("%s: expected at least %d argument(s), got %d", name, need, len(call.Arguments)))
			}
			args := make([]float64, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.ToFloat()
			}
			return vm.ToValue(fn(args...))
		}
		_ = mathObj.Set(name, wrapped)
		_ = vm.Set(name, wrapped)
	}
	_ = mathObj.Set("PI", math.Pi)
	_ = mathObj.Set("E", math.E)
	_ = vm.Set("math", mathObj)
	_ = vm.Set("Math", mathObj)

	for name := range disallowedIdentifiers {
		_ = vm.GlobalObject().Delete(name)
	}
}
