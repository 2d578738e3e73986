package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/distribution"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

// noopAcknowledger discards Ack/Nack/Reject, for deliveries built directly
// by tests rather than returned from a FakeBroker.
type noopAcknowledger struct{}

func (noopAcknowledger) Ack(tag uint64, multiple bool) error           { return nil }
func (noopAcknowledger) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (noopAcknowledger) Reject(tag uint64, requeue bool) error         { return nil }

func newTestDelivery(body []byte, headers map[string]interface{}) amqp.Delivery {
	var h amqp.Table
	if headers != nil {
		h = amqp.Table(headers)
	}
	return amqp.Delivery{
		Acknowledger: noopAcknowledger{},
		Headers:      h,
		Body:         body,
	}
}

func publishModel(t *testing.T, fb *broker.FakeBroker, m *model.Model) {
	t.Helper()
	m.ModelID = "test_1"
	payload, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal model: %v", err)
	}
	if err := fb.Publish(context.Background(), broker.ModelQueue, payload, true, nil); err != nil {
		t.Fatalf("publish model: %v", err)
	}
}

func expressionModel() *model.Model {
	return &model.Model{
		Metadata: model.Metadata{Name: "sum_normal"},
		Variables: []model.Variable{
			{Name: "x", Kind: model.KindFloat, Distribution: distribution.Normal, Params: distribution.Params{"media": 0, "std": 1}},
			{Name: "y", Kind: model.KindFloat, Distribution: distribution.Normal, Params: distribution.Params{"media": 0, "std": 1}},
		},
		Function: model.Function{Kind: model.FunctionExpression, Text: "x + y"},
	}
}

func TestLoadModelCompilesAndRepublishes(t *testing.T) {
	fb := broker.NewFakeBroker()
	publishModel(t, fb, expressionModel())

	w := New(fb, Config{ConsumerID: "c1"}, nil)
	m, err := w.LoadModel(context.Background())
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if m.ModelID != "test_1" {
		t.Fatalf("ModelID = %q, want test_1", m.ModelID)
	}
	if w.eval == nil {
		t.Fatal("LoadModel did not set an evaluator")
	}

	n, err := fb.QueueSize(broker.ModelQueue)
	if err != nil {
		t.Fatalf("QueueSize: %v", err)
	}
	if n != 1 {
		t.Fatalf("modelQueue has %d messages after LoadModel, want 1 (re-published)", n)
	}
}

func TestLoadModelUnavailableWhenQueueEmpty(t *testing.T) {
	fb := broker.NewFakeBroker()
	w := New(fb, Config{ConsumerID: "c1", LoadModelGrace: 20 * time.Millisecond, LoadModelAttempts: 2}, nil)

	_, err := w.LoadModel(context.Background())
	if err == nil {
		t.Fatal("LoadModel succeeded against an empty model queue")
	}
	if _, ok := err.(*broker.ModelUnavailableError); !ok {
		t.Fatalf("LoadModel error = %T, want *broker.ModelUnavailableError", err)
	}
}

func TestHandleDeliverySuccessPublishesResult(t *testing.T) {
	fb := broker.NewFakeBroker()
	publishModel(t, fb, expressionModel())
	w := New(fb, Config{ConsumerID: "c1"}, nil)
	if _, err := w.LoadModel(context.Background()); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	scenario := model.Scenario{ScenarioID: 3, Values: map[string]float64{"x": 1, "y": 2}}
	body, _ := json.Marshal(scenario)
	d := makeDelivery(body, nil)

	w.handleDelivery(context.Background(), d)

	if w.counters.processed.Load() != 1 {
		t.Fatalf("processed = %d, want 1", w.counters.processed.Load())
	}
	rd, ok, err := fb.Get(broker.ResultsQueue, true)
	if err != nil || !ok {
		t.Fatalf("Get(results): ok=%v err=%v", ok, err)
	}
	var result model.Result
	if err := json.Unmarshal(rd.Body, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ScenarioID != 3 || result.ConsumerID != "c1" {
		t.Fatalf("result = %+v, want scenarioID=3 consumerID=c1", result)
	}
	if result.Value != 3 {
		t.Fatalf("result.Value = %v, want 3", result.Value)
	}
}

func TestHandleDeliveryRetriesThenDeadLetters(t *testing.T) {
	fb := broker.NewFakeBroker()
	m := &model.Model{
		Metadata:  model.Metadata{Name: "transient_error"},
		Variables: []model.Variable{{Name: "a", Kind: model.KindFloat, Distribution: distribution.Normal, Params: distribution.Params{"media": 0, "std": 1}}},
		Function:  model.Function{Kind: model.FunctionCode, Text: "resultado = a + doesNotExist;"},
	}
	publishModel(t, fb, m)
	w := New(fb, Config{ConsumerID: "c1", MaxRetries: 1}, nil)
	if _, err := w.LoadModel(context.Background()); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	scenario := model.Scenario{ScenarioID: 5, Values: map[string]float64{"a": 1}}
	body, _ := json.Marshal(scenario)

	// First attempt: retryCount starts at 0, below MaxRetries=1, so it is
	// republished to scenariosQueue with x-retry-count=1.
	d0 := makeDelivery(body, nil)
	w.handleDelivery(context.Background(), d0)
	if w.counters.retriesTotal.Load() != 1 {
		t.Fatalf("retriesTotal = %d, want 1 after first failure", w.counters.retriesTotal.Load())
	}
	n, _ := fb.QueueSize(broker.ScenariosQueue)
	if n != 1 {
		t.Fatalf("scenariosQueue has %d messages after retry, want 1", n)
	}
	retried, ok, err := fb.Get(broker.ScenariosQueue, true)
	if err != nil || !ok {
		t.Fatalf("Get(scenarios): ok=%v err=%v", ok, err)
	}
	if broker.RetryCount(retried.Headers) != 1 {
		t.Fatalf("republished x-retry-count = %d, want 1", broker.RetryCount(retried.Headers))
	}

	// Second attempt: retryCount is now 1, which is not < MaxRetries=1, so
	// it is dead-lettered.
	w.handleDelivery(context.Background(), retried)
	if w.counters.dlqTotal.Load() != 1 {
		t.Fatalf("dlqTotal = %d, want 1 after second failure", w.counters.dlqTotal.Load())
	}
	dlqCount, _ := fb.QueueSize(broker.ScenariosDLQ)
	if dlqCount != 1 {
		t.Fatalf("scenariosDLQ has %d messages, want 1", dlqCount)
	}
	scenariosLeft, _ := fb.QueueSize(broker.ScenariosQueue)
	if scenariosLeft != 0 {
		t.Fatalf("scenariosQueue has %d messages after dead-letter, want 0", scenariosLeft)
	}
}

func TestHandleDeliveryTimeoutDeadLetters(t *testing.T) {
	fb := broker.NewFakeBroker()
	m := &model.Model{
		Metadata:  model.Metadata{Name: "infinite_loop"},
		Variables: []model.Variable{{Name: "a", Kind: model.KindFloat, Distribution: distribution.Normal, Params: distribution.Params{"media": 0, "std": 1}}},
		Function:  model.Function{Kind: model.FunctionCode, Text: "resultado = 0; while (true) { resultado = resultado + 1; }"},
	}
	publishModel(t, fb, m)
	w := New(fb, Config{ConsumerID: "c1", EvalTimeout: 30 * time.Millisecond}, nil)
	if _, err := w.LoadModel(context.Background()); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	scenario := model.Scenario{ScenarioID: 9, Values: map[string]float64{"a": 1}}
	body, _ := json.Marshal(scenario)
	w.handleDelivery(context.Background(), makeDelivery(body, nil))

	if w.counters.dlqTotal.Load() != 1 {
		t.Fatalf("dlqTotal = %d, want 1", w.counters.dlqTotal.Load())
	}
	if n, _ := fb.QueueSize(broker.ResultsQueue); n != 0 {
		t.Fatalf("resultsQueue has %d messages, want 0", n)
	}
}

func TestHandleDeliveryMalformedPayloadDeadLetters(t *testing.T) {
	fb := broker.NewFakeBroker()
	publishModel(t, fb, expressionModel())
	w := New(fb, Config{ConsumerID: "c1"}, nil)
	if _, err := w.LoadModel(context.Background()); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}

	w.handleDelivery(context.Background(), makeDelivery([]byte("not json"), nil))
	if n, _ := fb.QueueSize(broker.ScenariosDLQ); n != 1 {
		t.Fatalf("scenariosDLQ has %d messages, want 1", n)
	}
}

// makeDelivery builds a standalone amqp.Delivery backed by its own
// in-memory acknowledger, so handleDelivery's Ack/Nack calls are inert
// rather than requiring the delivery to have come from fb.Get/Subscribe.
func makeDelivery(body []byte, headers map[string]interface{}) amqp.Delivery {
	return newTestDelivery(body, headers)
}
