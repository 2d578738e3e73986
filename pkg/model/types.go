// Package model defines the wire and in-memory shapes shared by the
// producer, consumer, and aggregator: the declarative simulation Model,
// the per-draw Scenario, the per-evaluation Result, and the two processes'
// telemetry snapshots.
package model

import (
	"encoding/json"

	"github.com/jihwankim/montecarlo-mesh/pkg/distribution"
)

// VariableKind is the declared numeric kind of a model variable. It does
// not change how the distribution draws (always float64 internally); it
// only documents intent and is carried through to the wire payload.
type VariableKind string

const (
	KindInt   VariableKind = "int"
	KindFloat VariableKind = "float"
)

// Variable is one entry of a Model's ordered variable list.
type Variable struct {
	Name         string              `json:"name" yaml:"name"`
	Kind         VariableKind        `json:"kind" yaml:"kind"`
	Distribution distribution.Kind   `json:"distribution" yaml:"distribution"`
	Params       distribution.Params `json:"params" yaml:"params"`
}

// FunctionKind distinguishes the two accepted function forms.
type FunctionKind string

const (
	FunctionExpression FunctionKind = "expression"
	FunctionCode       FunctionKind = "code"
)

// Function is the tagged-union scalar function a Model evaluates per
// scenario. Internally it is held as a single Text field regardless of
// Kind, since the evaluator package only ever needs "the source text for
// this kind"; MarshalJSON/UnmarshalJSON below translate that to and from
// the wire shape's two mutually exclusive keys, `expression` and `codigo`.
type Function struct {
	Kind           FunctionKind
	Text           string
	ResultVariable string
}

type functionWire struct {
	Kind           FunctionKind `json:"tipo"`
	Expression     string       `json:"expression,omitempty"`
	Codigo         string       `json:"codigo,omitempty"`
	ResultVariable string       `json:"resultVariable,omitempty"`
}

// MarshalJSON writes Text into `expression` or `codigo` depending on Kind,
// never both.
func (f Function) MarshalJSON() ([]byte, error) {
	w := functionWire{Kind: f.Kind, ResultVariable: f.ResultVariable}
	if f.Kind == FunctionCode {
		w.Codigo = f.Text
	} else {
		w.Expression = f.Text
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads whichever of `expression`/`codigo` is present into
// Text, selected by `tipo`.
func (f *Function) UnmarshalJSON(data []byte) error {
	var w functionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.Kind = w.Kind
	f.ResultVariable = w.ResultVariable
	if w.Kind == FunctionCode {
		f.Text = w.Codigo
	} else {
		f.Text = w.Expression
	}
	return nil
}

// Metadata carries the Model's descriptive fields. Version is a sibling
// of Metadata on Model, not one of its own fields — it identifies the
// model-definition schema/content version, distinct from the publish
// timestamp that disambiguates successive ModelIDs.
type Metadata struct {
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description" yaml:"description"`
	Author       string `json:"author" yaml:"author"`
	CreationDate string `json:"creationDate" yaml:"creationDate"`
}

// SimulationSpec holds the run-size parameters.
type SimulationSpec struct {
	NumScenarios uint  `json:"numero_escenarios" yaml:"numero_escenarios"`
	Seed         *uint `json:"semilla_aleatoria,omitempty" yaml:"semilla_aleatoria,omitempty"`
}

// Model is immutable once parsed; ModelID is assigned at publish time by
// the Producer, never by the parser.
type Model struct {
	ModelID            string         `json:"modelID"`
	Version            string         `json:"version"`
	PublishedAtUnixSec float64        `json:"publishedAtUnixSec"`
	Metadata           Metadata       `json:"metadata"`
	Variables          []Variable     `json:"variables"`
	Function           Function       `json:"funcion"`
	Simulation         SimulationSpec `json:"simulacion"`
}

// Scenario is one independent draw of every model variable, immutable
// after publish.
type Scenario struct {
	ScenarioID         uint               `json:"scenarioID"`
	PublishedAtUnixSec float64            `json:"publishedAtUnixSec"`
	Values             map[string]float64 `json:"valores"`
}

// Result is the scalar output of evaluating a Model's function against one
// Scenario. The aggregator, not the consumer, stamps a receipt time.
type Result struct {
	ScenarioID      uint    `json:"scenarioID"`
	ConsumerID      string  `json:"consumerID"`
	Value           float64 `json:"resultado"`
	ExecDurationSec float64 `json:"tiempo_ejecucion"`
}

// ProducerState names the two lifecycle states a Producer reports.
type ProducerState string

const (
	ProducerActive    ProducerState = "active"
	ProducerCompleted ProducerState = "completed"
)

// ProducerStats is the periodic telemetry snapshot published by the
// Producer.
type ProducerStats struct {
	Generated uint          `json:"generated"`
	Total     uint          `json:"total"`
	Progress  float64       `json:"progress"`
	Rate      float64       `json:"rate"`
	Elapsed   float64       `json:"elapsed"`
	ETA       float64       `json:"eta"`
	State     ProducerState `json:"state"`
	AtUnixSec float64       `json:"atUnixSec"`
}

// ConsumerState names the three lifecycle states a Consumer reports.
type ConsumerState string

const (
	ConsumerActive  ConsumerState = "active"
	ConsumerIdle    ConsumerState = "idle"
	ConsumerStopped ConsumerState = "stopped"
)

// ConsumerStats is the periodic telemetry snapshot published by a Consumer
// worker.
type ConsumerStats struct {
	ConsumerID   string         `json:"consumerID"`
	Processed    uint           `json:"processed"`
	LastExecSec  float64        `json:"lastExecSec"`
	AvgExecSec   float64        `json:"avgExecSec"`
	Rate         float64        `json:"rate"`
	State        ConsumerState  `json:"state"`
	ErrorsTotal  uint           `json:"errorsTotal"`
	RetriesTotal uint           `json:"retriesTotal"`
	DLQTotal     uint           `json:"dlqTotal"`
	ErrorsByKind map[string]uint `json:"errorsByKind"`
	AtUnixSec    float64        `json:"atUnixSec"`
}
