// Package validator checks a parsed model for the structural and
// semantic rules of SPEC_FULL.md §4.B: unique variable names, supported
// distributions with valid parameters, and a function body that passes
// the Safe Evaluator's compile-time checks. The validator never evaluates
// the function — only pkg/evaluator's Eval does that, at Consumer runtime.
package validator

import (
	"fmt"
	"strings"

	"github.com/jihwankim/montecarlo-mesh/pkg/distribution"
	"github.com/jihwankim/montecarlo-mesh/pkg/evaluator"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

// Validator accumulates errors (fatal) and warnings (advisory) across one
// Validate call, mirroring the teacher's scenario validator shape.
type Validator struct {
	Errors   []string
	Warnings []string
}

// New creates a Validator.
func New() *Validator {
	return &Validator{}
}

// Validate checks m and returns an error summarizing the failure count if
// any check failed. Errors and Warnings are reset on every call.
func (v *Validator) Validate(m *model.Model) error {
	v.Errors = nil
	v.Warnings = nil

	v.validateMetadata(m)
	v.validateVariables(m)
	v.validateFunction(m)
	v.validateSimulation(m)

	if len(v.Errors) > 0 {
		return fmt.Errorf("model validation failed with %d error(s)", len(v.Errors))
	}
	return nil
}

func (v *Validator) fail(section string, format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf("[%s] %s", section, fmt.Sprintf(format, args...)))
}

func (v *Validator) warn(section string, format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf("[%s] %s", section, fmt.Sprintf(format, args...)))
}

func (v *Validator) validateMetadata(m *model.Model) {
	if m.Metadata.Name == "" {
		v.fail("METADATA", "name is required")
	}
	if m.Version == "" {
		v.warn("METADATA", "version is empty")
	}
}

var supportedDistributions = map[distribution.Kind][]string{
	distribution.Normal:      {"media", "std"},
	distribution.Uniform:     {"min", "max"},
	distribution.Exponential: {"lambda"},
	distribution.Lognormal:   {"mu", "sigma"},
	distribution.Triangular:  {"left", "mode", "right"},
	distribution.Binomial:    {"n", "p"},
}

func (v *Validator) validateVariables(m *model.Model) {
	if len(m.Variables) == 0 {
		v.fail("VARIABLES", "at least one variable is required")
		return
	}

	seen := make(map[string]bool, len(m.Variables))
	for _, variable := range m.Variables {
		if seen[variable.Name] {
			v.fail("VARIABLES", "duplicate variable name %q", variable.Name)
		}
		seen[variable.Name] = true

		if variable.Kind != model.KindInt && variable.Kind != model.KindFloat {
			v.fail("VARIABLES", "%s: kind must be int or float, got %q", variable.Name, variable.Kind)
		}

		required, ok := supportedDistributions[variable.Distribution]
		if !ok {
			v.fail("VARIABLES", "%s: unsupported distribution %q", variable.Name, variable.Distribution)
			continue
		}
		for _, key := range required {
			if _, ok := variable.Params[key]; !ok {
				v.fail("VARIABLES", "%s: distribution %s requires parameter %q", variable.Name, variable.Distribution, key)
			}
		}

		// Parameter constraints from SPEC_FULL.md §4.A, checked eagerly so a
		// bad model fails at validate time rather than at first draw.
		g := distribution.New(1)
		if _, err := g.Draw(variable.Distribution, variable.Params); err != nil {
			if _, isConfigErr := err.(*distribution.ConfigError); isConfigErr {
				v.fail("VARIABLES", "%s: %s", variable.Name, err.Error())
			}
		}
	}
}

func (v *Validator) validateFunction(m *model.Model) {
	resultName := m.Function.ResultVariable
	if resultName == "" {
		resultName = "resultado"
	}

	switch m.Function.Kind {
	case model.FunctionExpression:
		if strings.TrimSpace(m.Function.Text) == "" {
			v.fail("FUNCION", "expression text is empty")
			return
		}
		if err := evaluator.ValidateExpression(m.Function.Text); err != nil {
			v.fail("FUNCION", "expression: %s", err.Error())
		}
	case model.FunctionCode:
		if strings.TrimSpace(m.Function.Text) == "" {
			v.fail("FUNCION", "code block is empty")
			return
		}
		if err := evaluator.ValidateCode(m.Function.Text, resultName); err != nil {
			v.fail("FUNCION", "code: %s", err.Error())
		}
	default:
		v.fail("FUNCION", "tipo must be expression or code, got %q", m.Function.Kind)
	}
}

func (v *Validator) validateSimulation(m *model.Model) {
	if m.Simulation.NumScenarios == 0 {
		v.fail("SIMULACION", "numero_escenarios must be greater than zero")
	}
}

// HasErrors reports whether the last Validate call recorded any error.
func (v *Validator) HasErrors() bool { return len(v.Errors) > 0 }

// HasWarnings reports whether the last Validate call recorded any warning.
func (v *Validator) HasWarnings() bool { return len(v.Warnings) > 0 }

// GetReport formats accumulated errors and warnings for human consumption.
func (v *Validator) GetReport() string {
	var sb strings.Builder
	if len(v.Errors) > 0 {
		sb.WriteString("ERRORS:\n")
		for _, e := range v.Errors {
			sb.WriteString("  - " + e + "\n")
		}
	}
	if len(v.Warnings) > 0 {
		sb.WriteString("WARNINGS:\n")
		for _, w := range v.Warnings {
			sb.WriteString("  - " + w + "\n")
		}
	}
	return sb.String()
}
