package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn is the client-layer surface of SPEC_FULL.md §4.D that the
// Producer and Consumer depend on, satisfied by both *Client (a live
// amqp091-go channel) and *FakeBroker (an in-memory test double), so
// fleet logic can be exercised without a running broker.
type Conn interface {
	Publish(ctx context.Context, queue string, payload []byte, persistent bool, headers amqp.Table) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Subscribe(queue string, prefetch int, handler func(amqp.Delivery)) error
	Ack(d amqp.Delivery) error
	Nack(d amqp.Delivery, requeue bool) error
	Purge(queue string) (int, error)
	QueueSize(queue string) (int, error)
	Close() error
}

var (
	_ Conn = (*Client)(nil)
	_ Conn = (*FakeBroker)(nil)
)
