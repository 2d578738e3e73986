// Package evaluator implements the Safe Evaluator of SPEC_FULL.md §4.C: a
// closed-construct expression compiler (github.com/expr-lang/expr) and a
// sandboxed restricted-ECMAScript code-block runtime
// (github.com/dop251/goja), both bounded by a per-call timeout and
// producing a single finite scalar.
package evaluator

import "fmt"

// ConfigError reports a malformed evaluator configuration (e.g. a missing
// result variable name). Distinct from distribution.ConfigError.
type ConfigError struct{ Reason string }

func (e *ConfigError) Error() string { return fmt.Sprintf("evaluator config: %s", e.Reason) }

// SecurityError reports a function body that was rejected at compile time
// because it used a construct, call target, import, or identifier outside
// the closed sets of §4.C.1/§4.C.2. A SecurityError is always raised
// before anything is executed.
type SecurityError struct{ Reason string }

func (e *SecurityError) Error() string { return fmt.Sprintf("security: %s", e.Reason) }

// TimeoutError reports that an evaluation exceeded its per-call timeout.
type TimeoutError struct{ TimeoutSec float64 }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("evaluation exceeded timeout of %.3fs", e.TimeoutSec)
}

// EvaluationError reports a runtime failure inside an otherwise-valid
// function body (arithmetic overflow, a thrown exception, a dereference
// against an absent key, etc.) — the TransientEvaluationError of §7.
type EvaluationError struct{ Cause error }

func (e *EvaluationError) Error() string { return fmt.Sprintf("evaluation error: %s", e.Cause) }
func (e *EvaluationError) Unwrap() error { return e.Cause }

// ResultMissingError reports that the function ran to completion without
// ever binding the result name.
type ResultMissingError struct{ ResultName string }

func (e *ResultMissingError) Error() string {
	return fmt.Sprintf("result variable %q was never assigned", e.ResultName)
}

// ResultTypeError reports that the result name was bound to a non-finite
// or non-numeric value.
type ResultTypeError struct {
	ResultName string
	Got        string
}

func (e *ResultTypeError) Error() string {
	return fmt.Sprintf("result variable %q is not a finite number (got %s)", e.ResultName, e.Got)
}
