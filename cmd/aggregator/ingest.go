package main

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jihwankim/montecarlo-mesh/pkg/broker"
	"github.com/jihwankim/montecarlo-mesh/pkg/logging"
	"github.com/jihwankim/montecarlo-mesh/pkg/model"
	"github.com/jihwankim/montecarlo-mesh/pkg/telemetry"
)

// subscribeAll wires the aggregator's three continuous subscriptions —
// producerStatsQueue, consumerStatsQueue, resultsQueue — per
// SPEC_FULL.md §4.G. Every delivery is acked regardless of decode outcome:
// a malformed telemetry message is logged and dropped, never retried or
// dead-lettered (telemetry is advisory, unlike scenario/result traffic).
func subscribeAll(conn broker.Conn, agg *telemetry.Aggregator, logger *logging.Logger) error {
	if err := conn.Subscribe(broker.ProducerStatsQueue, 0, func(d amqp.Delivery) {
		var s model.ProducerStats
		if err := json.Unmarshal(d.Body, &s); err != nil {
			logger.Warn("malformed producer stats message", "error", err)
			_ = d.Ack(false)
			return
		}
		agg.ApplyProducerStats(s)
		_ = d.Ack(false)
	}); err != nil {
		return err
	}

	if err := conn.Subscribe(broker.ConsumerStatsQueue, 0, func(d amqp.Delivery) {
		var s model.ConsumerStats
		if err := json.Unmarshal(d.Body, &s); err != nil {
			logger.Warn("malformed consumer stats message", "error", err)
			_ = d.Ack(false)
			return
		}
		agg.ApplyConsumerStats(s)
		_ = d.Ack(false)
	}); err != nil {
		return err
	}

	if err := conn.Subscribe(broker.ResultsQueue, 0, func(d amqp.Delivery) {
		var r model.Result
		if err := json.Unmarshal(d.Body, &r); err != nil {
			logger.Warn("malformed result message", "error", err)
			_ = d.Ack(false)
			return
		}
		agg.ApplyResult(r)
		_ = d.Ack(false)
	}); err != nil {
		return err
	}

	return nil
}

// pollQueueSizes refreshes agg's queueSizes every interval until ctx is
// done, per spec.md §4.G's "queueSizes: refreshed periodically" state.
func pollQueueSizes(ctx context.Context, conn broker.Conn, agg *telemetry.Aggregator, interval time.Duration, logger *logging.Logger) {
	queues := []string{
		broker.ModelQueue,
		broker.ScenariosQueue,
		broker.ResultsQueue,
		broker.ScenariosDLQ,
		broker.ResultsDLQ,
		broker.ProducerStatsQueue,
		broker.ConsumerStatsQueue,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sizes := make(map[string]int, len(queues))
			for _, q := range queues {
				n, err := conn.QueueSize(q)
				if err != nil {
					logger.Warn("queue size poll failed", "queue", q, "error", err)
					continue
				}
				sizes[q] = n
			}
			agg.SetQueueSizes(sizes)
		}
	}
}
