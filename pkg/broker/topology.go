package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names, stable identifiers per SPEC_FULL.md §4.D/§6.
const (
	ModelQueue         = "cola_modelo"
	ScenariosQueue     = "cola_escenarios"
	ResultsQueue       = "cola_resultados"
	ScenariosDLQ       = "cola_dlq_escenarios"
	ResultsDLQ         = "cola_dlq_resultados"
	ProducerStatsQueue = "cola_stats_productor"
	ConsumerStatsQueue = "cola_stats_consumidores"
)

const dlqExchange = "" // default exchange; DLQ routing key equals the target queue name

// queueSpec describes one of the seven logical queues' declaration
// arguments.
type queueSpec struct {
	name          string
	durable       bool
	dlq           string // bound dead-letter queue name, or "" for none
	ttlMillis     int64  // 0 means no TTL
	maxLength     int64  // 0 means unbounded (no x-max-length argument)
}

var topology = []queueSpec{
	{name: ModelQueue, durable: true, maxLength: 1},
	{name: ScenariosQueue, durable: true, dlq: ScenariosDLQ, maxLength: 100000},
	{name: ResultsQueue, durable: true, dlq: ResultsDLQ},
	{name: ScenariosDLQ, durable: true},
	{name: ResultsDLQ, durable: true},
	{name: ProducerStatsQueue, durable: false, ttlMillis: 60000, maxLength: 100},
	{name: ConsumerStatsQueue, durable: false, ttlMillis: 60000, maxLength: 1000},
}

func (q queueSpec) args() amqp.Table {
	args := amqp.Table{}
	if q.dlq != "" {
		args["x-dead-letter-exchange"] = dlqExchange
		args["x-dead-letter-routing-key"] = q.dlq
	}
	if q.ttlMillis > 0 {
		args["x-message-ttl"] = q.ttlMillis
	}
	if q.maxLength > 0 {
		args["x-max-length"] = q.maxLength
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// DeclareTopology declares all seven logical queues on ch, idempotently.
func DeclareTopology(ch *amqp.Channel) error {
	for _, q := range topology {
		_, err := ch.QueueDeclare(q.name, q.durable, false /* autoDelete */, false /* exclusive */, false /* noWait */, q.args())
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}
