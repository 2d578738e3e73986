package producer

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/distribution"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

func sampleModel() *model.Model {
	return &model.Model{
		Metadata: model.Metadata{Name: "sum_normal"},
		Variables: []model.Variable{
			{Name: "a", Kind: model.KindFloat, Distribution: distribution.Normal, Params: distribution.Params{"media": 0, "std": 1}},
			{Name: "b", Kind: model.KindFloat, Distribution: distribution.Uniform, Params: distribution.Params{"min": 0, "max": 1}},
		},
		Function:   model.Function{Kind: model.FunctionExpression, Text: "a + b"},
		Simulation: model.SimulationSpec{NumScenarios: 10},
	}
}

func TestRunPublishesModelThenScenarios(t *testing.T) {
	fb := broker.NewFakeBroker()
	p := New(fb, Config{StatsInterval: time.Hour}, nil)

	m := sampleModel()
	if err := p.Run(context.Background(), m, 10, 7); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if m.ModelID == "" {
		t.Fatal("Run did not assign a ModelID")
	}

	modelCount, err := fb.QueueSize(broker.ModelQueue)
	if err != nil {
		t.Fatalf("QueueSize(model): %v", err)
	}
	if modelCount != 1 {
		t.Fatalf("modelQueue has %d messages, want 1", modelCount)
	}

	scenarioCount, err := fb.QueueSize(broker.ScenariosQueue)
	if err != nil {
		t.Fatalf("QueueSize(scenarios): %v", err)
	}
	if scenarioCount != 10 {
		t.Fatalf("scenariosQueue has %d messages, want 10", scenarioCount)
	}
}

func TestRunReplacementPurgesPriorModel(t *testing.T) {
	fb := broker.NewFakeBroker()
	p := New(fb, Config{StatsInterval: time.Hour}, nil)

	m1 := sampleModel()
	if err := p.Run(context.Background(), m1, 1, 1); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstID := m1.ModelID

	m2 := sampleModel()
	m2.Metadata.Name = "distance_code"
	if err := p.Run(context.Background(), m2, 1, 1); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	n, err := fb.QueueSize(broker.ModelQueue)
	if err != nil {
		t.Fatalf("QueueSize: %v", err)
	}
	if n != 1 {
		t.Fatalf("modelQueue has %d messages after replacement, want 1", n)
	}

	d, ok, err := fb.Get(broker.ModelQueue, true)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	var got model.Model
	if err := json.Unmarshal(d.Body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ModelID == firstID {
		t.Fatalf("modelQueue still holds the first model %q after replacement", firstID)
	}
	if got.Metadata.Name != "distance_code" {
		t.Fatalf("modelQueue holds %q, want distance_code", got.Metadata.Name)
	}
}

func TestRunScenarioIDsAreSequential(t *testing.T) {
	fb := broker.NewFakeBroker()
	p := New(fb, Config{StatsInterval: time.Hour}, nil)

	m := sampleModel()
	if err := p.Run(context.Background(), m, 5, 42); err != nil {
		t.Fatalf("Run: %v", err)
	}

	seen := make(map[uint]bool)
	for i := 0; i < 5; i++ {
		d, ok, err := fb.Get(broker.ScenariosQueue, true)
		if err != nil || !ok {
			t.Fatalf("Get(%d): ok=%v err=%v", i, ok, err)
		}
		var s model.Scenario
		if err := json.Unmarshal(d.Body, &s); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		seen[s.ScenarioID] = true
	}
	for i := uint(0); i < 5; i++ {
		if !seen[i] {
			t.Fatalf("scenarioID %d missing from published set", i)
		}
	}
}

func TestPublishErrorNamesScenarioID(t *testing.T) {
	err := &PublishError{ScenarioID: 17, Cause: context.Canceled}
	if !strings.Contains(err.Error(), "17") {
		t.Fatalf("Error() = %q, want it to name scenario 17", err.Error())
	}
	if err.Unwrap() != context.Canceled {
		t.Fatal("Unwrap did not return the underlying cause")
	}
}
