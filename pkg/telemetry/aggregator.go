// Package telemetry implements the Telemetry Aggregator of SPEC_FULL.md
// §4.G: a single-writer, mutex-guarded view over producer/consumer
// telemetry and evaluation results, with bounded ring-buffer history and
// the four export formats cmd/aggregator serves.
package telemetry

import (
	"sync"
	"time"

	"github.com/jihwankim/montecarlo-mesh/pkg/model"
)

// ConvergencePoint is one sample of the running mean/variance as results
// accumulate, taken every Config.ConvergenceSampleStride results.
type ConvergencePoint struct {
	N               uint64  `json:"n"`
	RunningMean     float64 `json:"runningMean"`
	RunningVariance float64 `json:"runningVariance"`
	AtUnixSec       float64 `json:"atUnixSec"`
}

// Config sizes the aggregator's bounded state.
type Config struct {
	ResultsCapacity         int           // R_max, default 50_000
	DetailedCapacity        int           // D_max, default 1_000
	ConvergenceCapacity     int           // default 1_000
	ConvergenceSampleStride uint64        // default 100
	QueueSizePollInterval   time.Duration // default 2s
}

func (c *Config) applyDefaults() {
	if c.ResultsCapacity <= 0 {
		c.ResultsCapacity = 50_000
	}
	if c.DetailedCapacity <= 0 {
		c.DetailedCapacity = 1_000
	}
	if c.ConvergenceCapacity <= 0 {
		c.ConvergenceCapacity = 1_000
	}
	if c.ConvergenceSampleStride == 0 {
		c.ConvergenceSampleStride = 100
	}
	if c.QueueSizePollInterval <= 0 {
		c.QueueSizePollInterval = 2 * time.Second
	}
}

// Aggregator is the mutex-guarded live view. All mutation methods
// (ApplyModel, ApplyProducerStats, ApplyConsumerStats, ApplyResult,
// SetQueueSizes) and the read method (Snapshot) take the same single
// mutex, matching spec.md §5's "aggregator's state is guarded by one
// mutex" contract.
type Aggregator struct {
	mu sync.Mutex

	cfg Config

	modelInfo         *model.Model
	producerStats     *model.ProducerStats
	consumerStatsByID map[string]model.ConsumerStats

	results     *Ring[float64]
	resultsRaw  *Ring[model.Result]
	queueSizes  map[string]int
	convergence *Ring[ConvergencePoint]

	resultCount uint64
	runningMean float64
	runningM2   float64 // Welford's sum of squared deviations, over ALL results ever seen
}

// New creates an Aggregator with cfg, defaults applied for any zero field.
func New(cfg Config) *Aggregator {
	cfg.applyDefaults()
	return &Aggregator{
		cfg:               cfg,
		consumerStatsByID: make(map[string]model.ConsumerStats),
		results:           NewRing[float64](cfg.ResultsCapacity),
		resultsRaw:        NewRing[model.Result](cfg.DetailedCapacity),
		queueSizes:        make(map[string]int),
		convergence:       NewRing[ConvergencePoint](cfg.ConvergenceCapacity),
	}
}

// ApplyModel records the last observed model.
func (a *Aggregator) ApplyModel(m *model.Model) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modelInfo = m
}

// ApplyProducerStats overwrites the latest ProducerStats snapshot; it is
// never accumulated, per spec.md §4.G.
func (a *Aggregator) ApplyProducerStats(s model.ProducerStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.producerStats = &s
}

// ApplyConsumerStats overwrites the latest ConsumerStats for s.ConsumerID.
func (a *Aggregator) ApplyConsumerStats(s model.ConsumerStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consumerStatsByID[s.ConsumerID] = s
}

// ApplyResult records a Result: appends to both ring buffers, updates the
// running mean/variance (Welford's online algorithm, over every result
// ever seen rather than just the bounded window), and samples a
// convergence point every ConvergenceSampleStride results.
func (a *Aggregator) ApplyResult(r model.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results.Add(r.Value)
	a.resultsRaw.Add(r)

	a.resultCount++
	delta := r.Value - a.runningMean
	a.runningMean += delta / float64(a.resultCount)
	delta2 := r.Value - a.runningMean
	a.runningM2 += delta * delta2

	if a.resultCount%a.cfg.ConvergenceSampleStride == 0 {
		variance := 0.0
		if a.resultCount > 1 {
			variance = a.runningM2 / float64(a.resultCount-1)
		}
		a.convergence.Add(ConvergencePoint{
			N:               a.resultCount,
			RunningMean:     a.runningMean,
			RunningVariance: variance,
			AtUnixSec:       float64(time.Now().UnixNano()) / 1e9,
		})
	}
}

// SetQueueSizes overwrites the last-polled queue depth snapshot. Called by
// the periodic poller in cmd/aggregator at QueueSizePollInterval.
func (a *Aggregator) SetQueueSizes(sizes map[string]int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queueSizes = make(map[string]int, len(sizes))
	for k, v := range sizes {
		a.queueSizes[k] = v
	}
}

// Snapshot is a consistent, independently-usable copy of the aggregator's
// state, taken in one pass under the mutex. Exports compute statistics and
// serialize from a Snapshot so that the lock is held only long enough to
// copy, per spec.md §4.G's "exports acquire the mutex only long enough to
// copy snapshots" rule.
type Snapshot struct {
	ModelInfo         *model.Model
	ProducerStats     *model.ProducerStats
	ConsumerStatsByID map[string]model.ConsumerStats
	Results           []float64
	ResultsRaw        []model.Result
	QueueSizes        map[string]int
	Convergence       []ConvergencePoint
}

// Snapshot copies the aggregator's current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	consumerStats := make(map[string]model.ConsumerStats, len(a.consumerStatsByID))
	for k, v := range a.consumerStatsByID {
		consumerStats[k] = v
	}
	queueSizes := make(map[string]int, len(a.queueSizes))
	for k, v := range a.queueSizes {
		queueSizes[k] = v
	}

	return Snapshot{
		ModelInfo:         a.modelInfo,
		ProducerStats:     a.producerStats,
		ConsumerStatsByID: consumerStats,
		Results:           a.results.Snapshot(),
		ResultsRaw:        a.resultsRaw.Snapshot(),
		QueueSizes:        queueSizes,
		Convergence:       a.convergence.Snapshot(),
	}
}
