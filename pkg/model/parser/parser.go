// Package parser parses the declarative model file format of
// SPEC_FULL.md §6: four labeled sections (metadata, variables, function,
// simulation), key=value lines, commas separating variable fields, `#`/`;`
// comments. The parser never evaluates the function — see pkg/evaluator
// for that.
package parser

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jihwankim/montecarlo-mesh/pkg/distribution"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

var varSubstRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Parser parses model files, substituting `$VAR`/`${VAR}` references
// against an explicit variable set and then the process environment before
// parsing begins.
type Parser struct {
	Variables map[string]string
}

// New creates a Parser with the given substitution variables (nil is
// treated as empty).
func New(variables map[string]string) *Parser {
	if variables == nil {
		variables = make(map[string]string)
	}
	return &Parser{Variables: variables}
}

// SetVariable sets one substitution variable.
func (p *Parser) SetVariable(key, value string) { p.Variables[key] = value }

// SetVariables merges vars into the substitution set.
func (p *Parser) SetVariables(vars map[string]string) {
	for k, v := range vars {
		p.Variables[k] = v
	}
}

func (p *Parser) substituteVariables(content string) string {
	return varSubstRe.ReplaceAllStringFunc(content, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if v, ok := p.Variables[name]; ok {
			return v
		}
		if v := os.Getenv(name); v != "" {
			return v
		}
		return match
	})
}

// ParseFile reads path and parses it as a model file.
func (p *Parser) ParseFile(path string) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return p.Parse(data)
}

type section int

const (
	sectionNone section = iota
	sectionMetadata
	sectionVariables
	sectionFuncion
	sectionSimulacion
)

var sectionNames = map[section]string{
	sectionNone:       "NONE",
	sectionMetadata:   "METADATA",
	sectionVariables:  "VARIABLES",
	sectionFuncion:    "FUNCION",
	sectionSimulacion: "SIMULACION",
}

var headerRe = regexp.MustCompile(`^\[([A-Za-z_]+)\]\s*$`)

// Parse parses a model file's raw bytes into a *model.Model. The returned
// Model has no ModelID or PublishedAtUnixSec — those are assigned by the
// Producer at publish time.
func (p *Parser) Parse(data []byte) (*model.Model, error) {
	content := p.substituteVariables(string(data))

	m := &model.Model{}
	cur := sectionNone
	var codeLines []string
	inCodeBlock := false
	sawTipo := false

	flushCode := func() {
		if inCodeBlock {
			m.Function.Text = dedent(codeLines)
			inCodeBlock = false
			codeLines = nil
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		trimmed := strings.TrimSpace(raw)

		if trimmed == "" {
			if inCodeBlock {
				codeLines = append(codeLines, "")
			}
			continue
		}
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}

		if hm := headerRe.FindStringSubmatch(trimmed); hm != nil {
			flushCode()
			switch strings.ToUpper(hm[1]) {
			case "METADATA":
				cur = sectionMetadata
			case "VARIABLES":
				cur = sectionVariables
			case "FUNCION":
				cur = sectionFuncion
				sawTipo = false
			case "SIMULACION":
				cur = sectionSimulacion
			default:
				return nil, &model.ParseError{Section: "NONE", Line: lineNo, Reason: fmt.Sprintf("unknown section [%s]", hm[1])}
			}
			continue
		}

		if inCodeBlock {
			if strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t") {
				codeLines = append(codeLines, raw)
				continue
			}
			flushCode()
			// fall through: this line belongs to the current (non-code) section
		}

		switch cur {
		case sectionMetadata:
			if err := parseMetadataLine(m, trimmed, lineNo); err != nil {
				return nil, err
			}
		case sectionVariables:
			v, err := parseVariableLine(trimmed, lineNo)
			if err != nil {
				return nil, err
			}
			m.Variables = append(m.Variables, *v)
		case sectionFuncion:
			key, val, err := splitKV(trimmed, "FUNCION", lineNo)
			if err != nil {
				return nil, err
			}
			switch key {
			case "tipo":
				sawTipo = true
				switch val {
				case string(model.FunctionExpression):
					m.Function.Kind = model.FunctionExpression
				case string(model.FunctionCode):
					m.Function.Kind = model.FunctionCode
				default:
					return nil, &model.ParseError{Section: "FUNCION", Line: lineNo, Reason: fmt.Sprintf("tipo must be expression or code, got %q", val)}
				}
			case "expression":
				m.Function.Text = val
			case "codigo":
				inCodeBlock = true
				codeLines = nil
				if val != "" {
					codeLines = append(codeLines, val)
				}
			default:
				return nil, &model.ParseError{Section: "FUNCION", Line: lineNo, Reason: fmt.Sprintf("unknown key %q", key)}
			}
		case sectionSimulacion:
			key, val, err := splitKV(trimmed, "SIMULACION", lineNo)
			if err != nil {
				return nil, err
			}
			switch key {
			case "numero_escenarios":
				n, err := strconv.ParseUint(val, 10, 64)
				if err != nil {
					return nil, &model.ParseError{Section: "SIMULACION", Line: lineNo, Reason: "numero_escenarios must be a non-negative integer"}
				}
				m.Simulation.NumScenarios = uint(n)
			case "semilla_aleatoria":
				n, err := strconv.ParseUint(val, 10, 64)
				if err != nil {
					return nil, &model.ParseError{Section: "SIMULACION", Line: lineNo, Reason: "semilla_aleatoria must be a non-negative integer"}
				}
				seed := uint(n)
				m.Simulation.Seed = &seed
			default:
				return nil, &model.ParseError{Section: "SIMULACION", Line: lineNo, Reason: fmt.Sprintf("unknown key %q", key)}
			}
		default:
			return nil, &model.ParseError{Section: "NONE", Line: lineNo, Reason: "content before any section header"}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan model file: %w", err)
	}
	flushCode()

	if !sawTipo {
		return nil, &model.ParseError{Section: "FUNCION", Line: lineNo, Reason: "missing required key tipo"}
	}
	if m.Metadata.Name == "" {
		return nil, &model.ParseError{Section: "METADATA", Line: lineNo, Reason: "missing required key name"}
	}
	if len(m.Variables) == 0 {
		return nil, &model.ParseError{Section: "VARIABLES", Line: lineNo, Reason: "model must declare at least one variable"}
	}

	return m, nil
}

func parseMetadataLine(m *model.Model, line string, lineNo int) error {
	key, val, err := splitKV(line, "METADATA", lineNo)
	if err != nil {
		return err
	}
	switch key {
	case "name":
		m.Metadata.Name = val
	case "version":
		m.Version = val
	case "description":
		m.Metadata.Description = val
	case "author":
		m.Metadata.Author = val
	case "creationDate":
		m.Metadata.CreationDate = val
	default:
		return &model.ParseError{Section: "METADATA", Line: lineNo, Reason: fmt.Sprintf("unknown key %q", key)}
	}
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func parseVariableLine(line string, lineNo int) (*model.Variable, error) {
	fields := splitTrim(line, ",")
	if len(fields) < 3 {
		return nil, &model.ParseError{Section: "VARIABLES", Line: lineNo, Reason: "expected name, kind, distribution[, k=v, ...]"}
	}
	name, kind, dist := fields[0], fields[1], fields[2]
	if !identRe.MatchString(name) {
		return nil, &model.ParseError{Section: "VARIABLES", Line: lineNo, Reason: fmt.Sprintf("invalid variable name %q", name)}
	}

	v := &model.Variable{
		Name:         name,
		Kind:         model.VariableKind(kind),
		Distribution: distribution.Kind(dist),
		Params:       distribution.Params{},
	}
	if v.Kind != model.KindInt && v.Kind != model.KindFloat {
		return nil, &model.ParseError{Section: "VARIABLES", Line: lineNo, Reason: fmt.Sprintf("kind must be int or float, got %q", kind)}
	}

	for _, kv := range fields[3:] {
		k, val, err := splitKV(kv, "VARIABLES", lineNo)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, &model.ParseError{Section: "VARIABLES", Line: lineNo, Reason: fmt.Sprintf("parameter %q=%q is not numeric", k, val)}
		}
		v.Params[k] = f
	}
	return v, nil
}

func splitKV(line, section string, lineNo int) (key, val string, err error) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", &model.ParseError{Section: section, Line: lineNo, Reason: fmt.Sprintf("expected key = value, got %q", line)}
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), nil
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// dedent strips the leading whitespace common to every non-blank line.
func dedent(lines []string) string {
	min := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		if min == -1 || indent < min {
			min = indent
		}
	}
	if min <= 0 {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) >= min {
			out[i] = l[min:]
		} else {
			out[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(out, "\n")
}
