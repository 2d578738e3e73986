// Package consumer implements the Consumer Worker of SPEC_FULL.md §4.F: a
// long-running process that loads one Model, subscribes to the scenarios
// queue with fair dispatch (prefetchCount=1), evaluates each scenario, and
// applies the error-taxonomy-driven retry/DLQ policy of §7.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/evaluator"
	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

// State names the lifecycle states of the worker's internal state machine:
// Start -> LoadModel -> (Ready <-> Evaluating) -> Draining -> Stopped.
type State string

const (
	StateStart      State = "start"
	StateLoadModel  State = "loadModel"
	StateReady      State = "ready"
	StateEvaluating State = "evaluating"
	StateDraining   State = "draining"
	StateStopped    State = "stopped"
)

// Config controls worker dispatch, retries, and telemetry cadence.
type Config struct {
	ConsumerID        string
	Prefetch          int
	MaxRetries        uint
	StatsInterval     time.Duration
	EvalTimeout       time.Duration
	LoadModelGrace    time.Duration
	LoadModelAttempts int
}

func (c *Config) applyDefaults() {
	if c.Prefetch <= 0 {
		c.Prefetch = 1
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 5 * time.Second
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = 30 * time.Second
	}
	if c.LoadModelGrace <= 0 {
		c.LoadModelGrace = 3 * time.Second
	}
	if c.LoadModelAttempts <= 0 {
		c.LoadModelAttempts = 3
	}
}

// counters accumulates the per-worker telemetry fields of §4.F/§7.
// Processed/ErrorsTotal/RetriesTotal/DLQTotal are atomics, so the
// independent telemetry timer reads them without taking a lock; the
// per-kind error map and the execution-time fields are guarded by mu,
// which both scenario handling and the telemetry snapshot take briefly.
type counters struct {
	processed    atomic.Uint64
	errorsTotal  atomic.Uint64
	retriesTotal atomic.Uint64
	dlqTotal     atomic.Uint64

	mu           sync.Mutex
	errorsByKind map[string]uint
	lastExecSec  float64
	execSum      float64
	execCount    uint64
}

func newCounters() *counters {
	return &counters{errorsByKind: make(map[string]uint)}
}

func (c *counters) recordError(kind string) {
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.errorsByKind[kind]++
	c.mu.Unlock()
}

func (c *counters) recordExec(sec float64) {
	c.mu.Lock()
	c.lastExecSec = sec
	c.execSum += sec
	c.execCount++
	c.mu.Unlock()
}

func (c *counters) snapshot() (lastExec, avgExec float64, errorsByKind map[string]uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lastExec = c.lastExecSec
	if c.execCount > 0 {
		avgExec = c.execSum / float64(c.execCount)
	}
	errorsByKind = make(map[string]uint, len(c.errorsByKind))
	for k, v := range c.errorsByKind {
		errorsByKind[k] = v
	}
	return
}

// Worker is one Consumer process.
type Worker struct {
	conn   broker.Conn
	cfg    Config
	logger *logging.Logger

	counters *counters

	mu    sync.Mutex
	state State

	eval       evaluator.Evaluator
	resultName string
}

// New creates a Worker bound to conn. Call LoadModel then Run.
func New(conn broker.Conn, cfg Config, logger *logging.Logger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		counters: newCounters(),
		state:    StateStart,
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LoadModel implements the LoadModel transition of §4.F: read one message
// from modelQueue with manual ack, compile its function, ack, and
// re-publish the same bytes so sibling workers can also load it. If the
// queue stays empty beyond LoadModelGrace, or the model fails to compile,
// LoadModel returns a *broker.ModelUnavailableError or the evaluator's
// *evaluator.SecurityError respectively; both are fatal to the caller.
func (w *Worker) LoadModel(ctx context.Context) (*model.Model, error) {
	w.setState(StateLoadModel)

	var d amqp.Delivery
	var ok bool
	var err error
	deadline := time.Now().Add(w.cfg.LoadModelGrace)
	for attempt := 0; attempt < w.cfg.LoadModelAttempts; attempt++ {
		d, ok, err = w.conn.Get(broker.ModelQueue, false)
		if err != nil {
			return nil, fmt.Errorf("get model: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.cfg.LoadModelGrace / time.Duration(w.cfg.LoadModelAttempts)):
		}
	}
	if !ok {
		return nil, &broker.ModelUnavailableError{GraceSec: w.cfg.LoadModelGrace.Seconds()}
	}

	var m model.Model
	if err := json.Unmarshal(d.Body, &m); err != nil {
		_ = w.conn.Nack(d, false)
		return nil, &broker.ModelUnavailableError{GraceSec: w.cfg.LoadModelGrace.Seconds()}
	}

	resultName := m.Function.ResultVariable
	if resultName == "" {
		resultName = "resultado"
	}
	ev, err := evaluator.Compile(evaluator.FunctionKind(m.Function.Kind), m.Function.Text, resultName, w.cfg.EvalTimeout)
	if err != nil {
		_ = w.conn.Nack(d, false)
		return nil, err
	}

	if err := w.conn.Ack(d); err != nil {
		return nil, fmt.Errorf("ack model: %w", err)
	}
	// Re-publish the same bytes so siblings that load after this worker
	// can also observe the model, per §4.F's LoadModel transition.
	if err := w.conn.Publish(ctx, broker.ModelQueue, d.Body, true, nil); err != nil {
		if w.logger != nil {
			w.logger.Warn("re-publish model for siblings failed", "error", err.Error())
		}
	}

	w.eval = ev
	w.resultName = resultName
	if w.logger != nil {
		w.logger.Info("model loaded", "modelID", m.ModelID, "consumerID", w.cfg.ConsumerID)
	}
	return &m, nil
}

// Run subscribes to scenariosQueue and evaluates deliveries until ctx is
// cancelled or stopCh is closed, then drains: it finishes any in-flight
// evaluation and releases the subscription. LoadModel must have succeeded
// first.
func (w *Worker) Run(ctx context.Context, stopCh <-chan struct{}) error {
	if w.eval == nil {
		return &ConfigError{Reason: "Run called before a successful LoadModel"}
	}

	w.setState(StateReady)

	telemetryDone := make(chan struct{})
	go w.runTelemetry(ctx, telemetryDone)
	defer close(telemetryDone)

	deliveries := make(chan amqp.Delivery)
	subErr := w.conn.Subscribe(broker.ScenariosQueue, w.cfg.Prefetch, func(d amqp.Delivery) {
		select {
		case deliveries <- d:
		case <-ctx.Done():
		case <-stopCh:
		}
	})
	if subErr != nil {
		w.setState(StateStopped)
		return fmt.Errorf("subscribe scenarios: %w", subErr)
	}

	for {
		select {
		case d := <-deliveries:
			w.setState(StateEvaluating)
			w.handleDelivery(ctx, d)
			w.setState(StateReady)
		case <-stopCh:
			w.drain()
			return nil
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		}
	}
}

func (w *Worker) drain() {
	w.setState(StateDraining)
	if w.logger != nil {
		lastExec, avgExec, errorsByKind := w.counters.snapshot()
		w.logger.Info("draining",
			"consumerID", w.cfg.ConsumerID,
			"processed", w.counters.processed.Load(),
			"errorsTotal", w.counters.errorsTotal.Load(),
			"retriesTotal", w.counters.retriesTotal.Load(),
			"dlqTotal", w.counters.dlqTotal.Load(),
			"lastExecSec", lastExec,
			"avgExecSec", avgExec,
			"errorsByKind", fmt.Sprintf("%v", errorsByKind),
		)
	}
	w.setState(StateStopped)
}

// handleDelivery implements the Evaluating transition and the §7 error
// taxonomy. It never returns an error: every outcome is handled by
// acking, nacking, or republishing the delivery itself.
func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var s model.Scenario
	if err := json.Unmarshal(d.Body, &s); err != nil {
		// Malformed payload: not in the §7 taxonomy, treated like a
		// SecurityError (non-recoverable, dead-letter, ack original).
		w.deadLetter(ctx, d, err.Error())
		w.counters.recordError("MalformedScenario")
		return
	}

	start := time.Now()
	value, err := w.eval.Eval(s.Values)
	execSec := time.Since(start).Seconds()

	if err == nil {
		w.counters.recordExec(execSec)
		result := model.Result{
			ScenarioID:      s.ScenarioID,
			ConsumerID:      w.cfg.ConsumerID,
			Value:           value,
			ExecDurationSec: execSec,
		}
		payload, merr := json.Marshal(result)
		if merr != nil {
			w.nackRequeue(d)
			return
		}
		if perr := w.conn.Publish(ctx, broker.ResultsQueue, payload, true, nil); perr != nil {
			// BrokerPublishError on result: recoverable, nack+requeue.
			w.nackRequeue(d)
			return
		}
		if aerr := w.conn.Ack(d); aerr != nil && w.logger != nil {
			w.logger.Warn("ack scenario failed", "error", aerr.Error())
		}
		w.counters.processed.Add(1)
		return
	}

	w.applyErrorPolicy(ctx, d, err)
}

// applyErrorPolicy dispatches an evaluation failure per the §7 table.
func (w *Worker) applyErrorPolicy(ctx context.Context, d amqp.Delivery, err error) {
	switch e := err.(type) {
	case *evaluator.EvaluationError:
		// TransientEvaluationError: bounded retry, then dead-letter.
		w.counters.recordError("TransientEvaluationError")
		retryCount := broker.RetryCount(d.Headers)
		if retryCount < w.cfg.MaxRetries {
			w.retry(ctx, d, retryCount, e.Error())
			return
		}
		w.deadLetter(ctx, d, e.Error())

	case *evaluator.TimeoutError:
		w.counters.recordError("TimeoutError")
		w.deadLetter(ctx, d, e.Error())

	case *evaluator.SecurityError:
		w.counters.recordError("SecurityError")
		w.deadLetter(ctx, d, e.Error())

	case *evaluator.ResultMissingError:
		w.counters.recordError("ResultMissingError")
		w.deadLetter(ctx, d, e.Error())

	case *evaluator.ResultTypeError:
		w.counters.recordError("ResultTypeError")
		w.deadLetter(ctx, d, e.Error())

	default:
		// Unclassified evaluator failure: treat conservatively as
		// non-recoverable rather than retry indefinitely.
		w.counters.recordError("UnclassifiedEvaluationError")
		w.deadLetter(ctx, d, err.Error())
	}
}

// retry increments x-retry-count and republishes the same payload bytes to
// scenariosQueue, then acks the original delivery.
func (w *Worker) retry(ctx context.Context, d amqp.Delivery, retryCount uint, lastErr string) {
	headers := broker.WithRetry(d.Headers, retryCount+1, lastErr)
	if err := w.conn.Publish(ctx, broker.ScenariosQueue, d.Body, true, headers); err != nil {
		w.nackRequeue(d)
		return
	}
	if err := w.conn.Ack(d); err != nil && w.logger != nil {
		w.logger.Warn("ack scenario before retry failed", "error", err.Error())
	}
	w.counters.retriesTotal.Add(1)
}

// deadLetter republishes the payload to the scenarios DLQ with x-last-error
// set, then acks the original delivery.
func (w *Worker) deadLetter(ctx context.Context, d amqp.Delivery, lastErr string) {
	headers := broker.WithRetry(d.Headers, broker.RetryCount(d.Headers), lastErr)
	if err := w.conn.Publish(ctx, broker.ScenariosDLQ, d.Body, true, headers); err != nil {
		if w.logger != nil {
			w.logger.Warn("dead-letter publish failed", "error", err.Error())
		}
	}
	if err := w.conn.Ack(d); err != nil && w.logger != nil {
		w.logger.Warn("ack scenario before dead-letter failed", "error", err.Error())
	}
	w.counters.dlqTotal.Add(1)
}

// nackRequeue handles PoolExhaustedError/BrokerPublishError: the broker
// layer retries the connection, so the safest action is to nack the
// delivery with requeue so another attempt (this or a sibling worker) can
// pick it up.
func (w *Worker) nackRequeue(d amqp.Delivery) {
	if err := w.conn.Nack(d, true); err != nil && w.logger != nil {
		w.logger.Warn("nack+requeue failed", "error", err.Error())
	}
}

func (w *Worker) runTelemetry(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.publishStats(ctx)
		case <-done:
			w.publishStats(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) publishStats(ctx context.Context) {
	lastExec, avgExec, errorsByKind := w.counters.snapshot()
	processed := w.counters.processed.Load()

	rate := 0.0
	if avgExec > 0 {
		rate = 1.0 / avgExec
	}

	stats := model.ConsumerStats{
		ConsumerID:   w.cfg.ConsumerID,
		Processed:    uint(processed),
		LastExecSec:  lastExec,
		AvgExecSec:   avgExec,
		Rate:         rate,
		State:        consumerState(w.State()),
		ErrorsTotal:  uint(w.counters.errorsTotal.Load()),
		RetriesTotal: uint(w.counters.retriesTotal.Load()),
		DLQTotal:     uint(w.counters.dlqTotal.Load()),
		ErrorsByKind: errorsByKind,
		AtUnixSec:    float64(time.Now().UnixNano()) / 1e9,
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn("marshal consumer stats failed", "error", err.Error())
		}
		return
	}
	if err := w.conn.Publish(ctx, broker.ConsumerStatsQueue, payload, false, nil); err != nil {
		if w.logger != nil {
			w.logger.Warn("publish consumer stats failed", "error", err.Error())
		}
	}
}

func consumerState(s State) model.ConsumerState {
	switch s {
	case StateEvaluating:
		return model.ConsumerActive
	case StateStopped, StateDraining:
		return model.ConsumerStopped
	default:
		return model.ConsumerIdle
	}
}

// ConfigError reports a Worker misused out of order (Run before LoadModel).
type ConfigError struct{ Reason string }

func (e *ConfigError) Error() string { return "consumer config: " + e.Reason }
