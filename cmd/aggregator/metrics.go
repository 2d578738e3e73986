package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jihwankim/montecarlo-mesh/pkg/telemetry"
)

// aggregatorMetrics is the Prometheus exposition surface for the live
// telemetry view — the mirror image of the teacher's pkg/monitoring/prometheus
// client, which queries Prometheus; this component is queried BY it.
type aggregatorMetrics struct {
	queueDepth         *prometheus.GaugeVec
	resultsCount       prometheus.Gauge
	detailedCount      prometheus.Gauge
	convergenceSamples prometheus.Gauge
	consumersReporting prometheus.Gauge
}

func newAggregatorMetrics(reg *prometheus.Registry) *aggregatorMetrics {
	m := &aggregatorMetrics{
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "montecarlo_mesh",
			Name:      "queue_depth",
			Help:      "Current message count of a broker queue, as last polled.",
		}, []string{"queue"}),
		resultsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "montecarlo_mesh",
			Name:      "results_in_window",
			Help:      "Number of results currently held in the bounded results ring.",
		}),
		detailedCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "montecarlo_mesh",
			Name:      "results_detailed_in_window",
			Help:      "Number of detailed result records currently held in the bounded ring.",
		}),
		convergenceSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "montecarlo_mesh",
			Name:      "convergence_samples",
			Help:      "Number of convergence history points currently held.",
		}),
		consumersReporting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "montecarlo_mesh",
			Name:      "consumers_reporting",
			Help:      "Number of distinct consumer IDs that have reported a stats snapshot.",
		}),
	}

	reg.MustRegister(m.queueDepth, m.resultsCount, m.detailedCount, m.convergenceSamples, m.consumersReporting)
	return m
}

func (m *aggregatorMetrics) refresh(snap telemetry.Snapshot) {
	for queue, size := range snap.QueueSizes {
		m.queueDepth.WithLabelValues(queue).Set(float64(size))
	}
	m.resultsCount.Set(float64(len(snap.Results)))
	m.detailedCount.Set(float64(len(snap.ResultsRaw)))
	m.convergenceSamples.Set(float64(len(snap.Convergence)))
	m.consumersReporting.Set(float64(len(snap.ConsumerStatsByID)))
}

// runMetricsLoop refreshes m from agg's snapshot every interval until ctx
// is done.
func runMetricsLoop(ctx context.Context, agg *telemetry.Aggregator, m *aggregatorMetrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(agg.Snapshot())
		}
	}
}
