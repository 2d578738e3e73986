package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client exposes the client-layer operations of SPEC_FULL.md §4.D —
// declareTopology, publish, get, subscribe, ack, nack, purge, queueSize —
// over a single channel on a connection checked out from a Pool.
type Client struct {
	pool *Pool
	pc   *PooledConn
	ch   *amqp.Channel
}

// Connect checks out a pooled connection, opens a channel on it, and
// declares the full queue topology.
func Connect(ctx context.Context, pool *Pool) (*Client, error) {
	pc, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := pc.Conn.Channel()
	if err != nil {
		pool.Checkin(pc)
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := DeclareTopology(ch); err != nil {
		_ = ch.Close()
		pool.Checkin(pc)
		return nil, err
	}
	return &Client{pool: pool, pc: pc, ch: ch}, nil
}

// Close closes the channel and returns the underlying connection to the
// pool.
func (c *Client) Close() error {
	err := c.ch.Close()
	c.pool.Checkin(c.pc)
	return err
}

// Publish sends payload to queue via the default exchange, with the
// given delivery mode and headers.
func (c *Client) Publish(ctx context.Context, queue string, payload []byte, persistent bool, headers amqp.Table) error {
	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	err := c.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: mode,
		Headers:      headers,
		Body:         payload,
	})
	if err != nil {
		return &BrokerPublishError{Cause: err}
	}
	return nil
}

// Get fetches a single message from queue without subscribing. ok is
// false if the queue was empty.
func (c *Client) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	d, ok, err := c.ch.Get(queue, autoAck)
	if err != nil {
		return amqp.Delivery{}, false, fmt.Errorf("get from %s: %w", queue, err)
	}
	return d, ok, nil
}

// Subscribe sets the channel's prefetch count and starts handler on a
// background goroutine for every delivery on queue until the channel or
// connection closes. handler is responsible for Ack/Nack.
func (c *Client) Subscribe(queue string, prefetch int, handler func(amqp.Delivery)) error {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	go func() {
		for d := range deliveries {
			handler(d)
		}
	}()
	return nil
}

// Ack acknowledges a single delivery.
func (c *Client) Ack(d amqp.Delivery) error { return d.Ack(false) }

// Nack negatively acknowledges a single delivery, optionally requeueing
// it.
func (c *Client) Nack(d amqp.Delivery, requeue bool) error { return d.Nack(false, requeue) }

// Purge removes all messages from queue and returns the count removed.
func (c *Client) Purge(queue string) (int, error) {
	n, err := c.ch.QueuePurge(queue, false)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", queue, err)
	}
	return n, nil
}

// QueueSize returns the current message count of queue.
func (c *Client) QueueSize(queue string) (int, error) {
	q, err := c.ch.QueueInspect(queue)
	if err != nil {
		return 0, fmt.Errorf("inspect %s: %w", queue, err)
	}
	return q.Messages, nil
}
