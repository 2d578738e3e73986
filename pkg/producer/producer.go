// Package producer implements the single-shot Producer of SPEC_FULL.md
// §4.E: publishes a Model under replacement semantics, generates and
// publishes N scenarios drawn from the seeded distribution generator, and
// emits periodic telemetry.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/distribution"
	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

// PublishError reports that publishing the scenario with the given ID
// failed; the caller is not expected to retry beyond the broker client's
// own connection retry.
type PublishError struct {
	ScenarioID uint
	Cause      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish scenario %d: %s", e.ScenarioID, e.Cause)
}
func (e *PublishError) Unwrap() error { return e.Cause }

// Config controls the Producer's telemetry cadence; all other behavior
// follows directly from the Model.
type Config struct {
	StatsInterval time.Duration
}

// Producer publishes one Model and its generated scenarios to a broker
// connection.
type Producer struct {
	conn   broker.Conn
	cfg    Config
	logger *logging.Logger
}

// New creates a Producer bound to conn.
func New(conn broker.Conn, cfg Config, logger *logging.Logger) *Producer {
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 5 * time.Second
	}
	return &Producer{conn: conn, cfg: cfg, logger: logger}
}

// Run publishes m under replacement semantics, then generates and
// publishes numScenarios scenarios drawn from a generator seeded with
// seed, so equal seeds yield equal scenario values. Run blocks until
// generation completes.
func (p *Producer) Run(ctx context.Context, m *model.Model, numScenarios uint, seed int64) error {
	if err := p.publishModel(ctx, m); err != nil {
		return fmt.Errorf("publish model: %w", err)
	}

	gen := distribution.New(seed)

	var generated atomic.Uint64
	start := time.Now()
	telemetryDone := make(chan struct{})
	go p.runTelemetry(ctx, &generated, numScenarios, start, telemetryDone)
	defer func() {
		close(telemetryDone)
		p.publishFinalStats(ctx, &generated, numScenarios, start)
	}()

	for i := uint(0); i < numScenarios; i++ {
		scenario, err := buildScenario(gen, m.Variables, i)
		if err != nil {
			return &PublishError{ScenarioID: i, Cause: err}
		}
		payload, err := json.Marshal(scenario)
		if err != nil {
			return &PublishError{ScenarioID: i, Cause: err}
		}
		if err := p.conn.Publish(ctx, broker.ScenariosQueue, payload, true, nil); err != nil {
			return &PublishError{ScenarioID: i, Cause: err}
		}
		generated.Add(1)
	}

	if p.logger != nil {
		p.logger.Info("scenario generation complete", "total", numScenarios)
	}
	return nil
}

// publishModel implements the replacement semantics of §4.E step 1: purge
// modelQueue, assign modelID and publish timestamp, then publish
// persistently.
func (p *Producer) publishModel(ctx context.Context, m *model.Model) error {
	if _, err := p.conn.Purge(broker.ModelQueue); err != nil {
		return fmt.Errorf("purge model queue: %w", err)
	}

	publishedAt := time.Now()
	m.ModelID = fmt.Sprintf("%s_%d", m.Metadata.Name, publishedAt.Unix())
	m.PublishedAtUnixSec = float64(publishedAt.UnixNano()) / 1e9

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}
	if err := p.conn.Publish(ctx, broker.ModelQueue, payload, true, nil); err != nil {
		return err
	}
	if p.logger != nil {
		p.logger.Info("model published", "modelID", m.ModelID)
	}
	return nil
}

func buildScenario(gen *distribution.Generator, vars []model.Variable, id uint) (*model.Scenario, error) {
	values := make(map[string]float64, len(vars))
	for _, v := range vars {
		draw, err := gen.Draw(v.Distribution, v.Params)
		if err != nil {
			return nil, fmt.Errorf("draw %s: %w", v.Name, err)
		}
		values[v.Name] = draw
	}
	return &model.Scenario{
		ScenarioID:         id,
		PublishedAtUnixSec: float64(time.Now().UnixNano()) / 1e9,
		Values:             values,
	}, nil
}

// runTelemetry publishes a ProducerStats snapshot every StatsInterval
// until done is closed. Telemetry is non-persistent per §4.E step 3.
func (p *Producer) runTelemetry(ctx context.Context, generated *atomic.Uint64, total uint, start time.Time, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publishStats(ctx, generated, total, start, model.ProducerActive)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Producer) publishFinalStats(ctx context.Context, generated *atomic.Uint64, total uint, start time.Time) {
	p.publishStats(ctx, generated, total, start, model.ProducerCompleted)
}

func (p *Producer) publishStats(ctx context.Context, generated *atomic.Uint64, total uint, start time.Time, state model.ProducerState) {
	n := generated.Load()
	elapsed := time.Since(start).Seconds()
	progress := 1.0
	if total > 0 {
		progress = float64(n) / float64(total)
	}
	if state == model.ProducerCompleted {
		progress = 1.0
	}
	rate := 0.0
	if elapsed > 0 {
		rate = float64(n) / elapsed
	}
	eta := 0.0
	if rate > 0 && uint64(total) > n {
		eta = float64(uint64(total)-n) / rate
	}

	stats := model.ProducerStats{
		Generated: uint(n),
		Total:     total,
		Progress:  progress,
		Rate:      rate,
		Elapsed:   elapsed,
		ETA:       eta,
		State:     state,
		AtUnixSec: float64(time.Now().UnixNano()) / 1e9,
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("marshal producer stats failed", "error", err.Error())
		}
		return
	}
	if err := p.conn.Publish(ctx, broker.ProducerStatsQueue, payload, false, nil); err != nil {
		if p.logger != nil {
			p.logger.Warn("publish producer stats failed", "error", err.Error())
		}
	}
}
