package evaluator

import (
	"testing"
	"time"
)

func TestValidateExpressionAcceptsClosedSet(t *testing.T) {
	cases := []string{
		"x + y * 2",
		"sqrt(pow(x, 2) + pow(y, 2))",
		"x > 0 ? x : -x",
		"min(x, max(y, 0)) / 3",
	}
	for _, expr := range cases {
		if err := ValidateExpression(expr); err != nil {
			t.Errorf("ValidateExpression(%q) = %v, want nil", expr, err)
		}
	}
}

func TestValidateExpressionRejectsDisallowedConstructs(t *testing.T) {
	cases := []string{
		`"literal strings are not numeric"`,
		"x..y",
		"os.Getenv('HOME')",
		"import('fs')",
	}
	for _, expr := range cases {
		err := ValidateExpression(expr)
		if err == nil {
			t.Errorf("ValidateExpression(%q) = nil, want error", expr)
			continue
		}
		if _, ok := err.(*SecurityError); !ok {
			t.Errorf("ValidateExpression(%q) error = %T, want *SecurityError", expr, err)
		}
	}
}

func TestValidateExpressionRejectsUnknownCall(t *testing.T) {
	if err := ValidateExpression("system(x)"); err == nil {
		t.Fatal("expected rejection of call to an unlisted function")
	}
}

func TestExpressionEval(t *testing.T) {
	ev, err := CompileExpression("sqrt(a*a + b*b)", time.Second)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	got, err := ev.Eval(map[string]float64{"a": 3, "b": 4})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != 5 {
		t.Fatalf("got %v, want 5", got)
	}
}

func TestExpressionEvalTernary(t *testing.T) {
	ev, err := CompileExpression("x > 0 ? x : -x", time.Second)
	if err != nil {
		t.Fatalf("CompileExpression: %v", err)
	}
	got, err := ev.Eval(map[string]float64{"x": -7})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
}

func TestValidateCodeAcceptsSimpleAssignment(t *testing.T) {
	src := "var resultado = a + b;"
	if err := ValidateCode(src, "resultado"); err != nil {
		t.Fatalf("ValidateCode: %v", err)
	}
}

func TestValidateCodeAcceptsControlFlow(t *testing.T) {
	src := `
var resultado = 0;
if (a > b) {
  resultado = a - b;
} else {
  resultado = b - a;
}
`
	if err := ValidateCode(src, "resultado"); err != nil {
		t.Fatalf("ValidateCode: %v", err)
	}
}

func TestValidateCodeRejectsMissingResult(t *testing.T) {
	src := "var x = a + b;"
	if err := ValidateCode(src, "resultado"); err == nil {
		t.Fatal("expected rejection of code block that never assigns the result name")
	}
}

func TestValidateCodeRejectsFunctionDeclaration(t *testing.T) {
	src := `
function helper(x) { return x * 2; }
var resultado = helper(a);
`
	err := ValidateCode(src, "resultado")
	if err == nil {
		t.Fatal("expected rejection of a function declaration")
	}
	if _, ok := err.(*SecurityError); !ok {
		t.Fatalf("error = %T, want *SecurityError", err)
	}
}

func TestValidateCodeRejectsTryCatch(t *testing.T) {
	src := `
var resultado = 0;
try {
  resultado = a / b;
} catch (e) {
  resultado = 0;
}
`
	if err := ValidateCode(src, "resultado"); err == nil {
		t.Fatal("expected rejection of try/catch")
	}
}

func TestValidateCodeRejectsDisallowedIdentifier(t *testing.T) {
	src := `
var resultado = eval("a+b");
`
	if err := ValidateCode(src, "resultado"); err == nil {
		t.Fatal("expected rejection of eval")
	}
}

func TestCodeEval(t *testing.T) {
	ev, err := CompileCode("var resultado = a * b + 1;", "resultado", time.Second)
	if err != nil {
		t.Fatalf("CompileCode: %v", err)
	}
	got, err := ev.Eval(map[string]float64{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %v, want 7", got)
	}
}

func TestCodeEvalUsesMathNamespace(t *testing.T) {
	ev, err := CompileCode("var resultado = math.sqrt(a);", "resultado", time.Second)
	if err != nil {
		t.Fatalf("CompileCode: %v", err)
	}
	got, err := ev.Eval(map[string]float64{"a": 16})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if got != 4 {
		t.Fatalf("got %v, want 4", got)
	}
}

func TestCodeEvalTimeout(t *testing.T) {
	ev, err := CompileCode("var resultado = 0; while (true) { resultado = resultado + 1; }", "resultado", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("CompileCode: %v", err)
	}
	_, err = ev.Eval(nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("error = %T, want *TimeoutError", err)
	}
}

func TestCodeEvalArrayReductionHelpers(t *testing.T) {
	cases := []struct {
		src  string
		want float64
	}{
		{"var resultado = sum(1, 2, 3, 4);", 10},
		{"var resultado = mean(1, 2, 3, 4);", 2.5},
		{"var resultado = median(1, 2, 3, 4);", 2.5},
		{"var resultado = median(1, 2, 3);", 2},
		{"var resultado = math.var(2, 4, 4, 4, 5, 5, 7, 9);", 4},
		{"var resultado = std(2, 4, 4, 4, 5, 5, 7, 9);", 2},
		{"var resultado = power(2, 5);", 32},
		{"var resultado = square(6);", 36},
		{"var resultado = sign(-3);", -1},
		{"var resultado = clip(15, 0, 10);", 10},
	}
	for _, c := range cases {
		ev, err := CompileCode(c.src, "resultado", time.Second)
		if err != nil {
			t.Fatalf("CompileCode(%q): %v", c.src, err)
		}
		got, err := ev.Eval(nil)
		if err != nil {
			t.Fatalf("Eval(%q): %v", c.src, err)
		}
		if got != c.want {
			t.Fatalf("Eval(%q) = %v, want %v", c.src, got, c.want)
		}
	}
}

func TestCodeEvalArityMismatchDegradesToEvaluationError(t *testing.T) {
	ev, err := CompileCode("var resultado = pow(2);", "resultado", time.Second)
	if err != nil {
		t.Fatalf("CompileCode: %v", err)
	}
	_, err = ev.Eval(nil)
	if err == nil {
		t.Fatal("expected an error for a call short of its required argument count")
	}
	if _, ok := err.(*EvaluationError); !ok {
		t.Fatalf("error = %T, want *EvaluationError (arity mismatch must not panic the process)", err)
	}
}

func TestRunWithTimeoutRecoversPanic(t *testing.T) {
	_, err := runWithTimeout(time.Second, nil, func() (float64, error) {
		var a []float64
		return a[0], nil
	})
	if err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
	if _, ok := err.(*EvaluationError); !ok {
		t.Fatalf("error = %T, want *EvaluationError", err)
	}
}

func TestRunWithTimeoutReturnsPromptlyOnExpiry(t *testing.T) {
	start := time.Now()
	_, err := runWithTimeout(20*time.Millisecond, nil, func() (float64, error) {
		time.Sleep(2 * time.Second)
		return 0, nil
	})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("runWithTimeout took %v, want well under the sleeping goroutine's duration", elapsed)
	}
}
