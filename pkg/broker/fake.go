package broker

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FakeBroker is an in-memory, in-process stand-in for Client implementing
// the same Conn surface, so Producer/Consumer/Aggregator logic can be
// exercised in tests without a running broker (see SPEC_FULL.md §8's
// note on an in-memory fake for retry/DLQ tests).
type FakeBroker struct {
	mu      sync.Mutex
	queues  map[string][]amqp.Delivery
	subs    map[string]subscription
	nextTag uint64
	closed  bool
}

type subscription struct {
	handler func(amqp.Delivery)
}

// NewFakeBroker creates an empty FakeBroker. All seven logical queues
// exist implicitly; Publish/Get/Subscribe/Purge/QueueSize work against
// any queue name without a prior declare step.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{
		queues: make(map[string][]amqp.Delivery),
		subs:   make(map[string]subscription),
	}
}

// Publish appends a delivery to queue. If a subscriber is registered on
// queue, the delivery is dispatched to it on its own goroutine instead of
// sitting in the queue, mirroring a live broker's push-to-consumer
// behavior.
func (f *FakeBroker) Publish(_ context.Context, queue string, payload []byte, persistent bool, headers amqp.Table) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return &BrokerPublishError{Cause: ErrPoolClosed}
	}
	f.nextTag++
	mode := uint8(amqp.Transient)
	if persistent {
		mode = amqp.Persistent
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	d := amqp.Delivery{
		DeliveryTag:  f.nextTag,
		DeliveryMode: mode,
		Headers:      headers,
		Body:         body,
	}
	d.Acknowledger = &fakeAcknowledger{broker: f, queue: queue, delivery: d}

	sub, subscribed := f.subs[queue]
	if !subscribed {
		f.queues[queue] = append(f.queues[queue], d)
	}
	f.mu.Unlock()

	if subscribed {
		go sub.handler(d)
	}
	return nil
}

// Get pops the oldest message from queue, if any.
func (f *FakeBroker) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := f.queues[queue]
	if len(msgs) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := msgs[0]
	f.queues[queue] = msgs[1:]
	_ = autoAck
	return d, true, nil
}

// Subscribe registers handler for queue and immediately flushes any
// backlog already sitting in the queue to it, in FIFO order.
func (f *FakeBroker) Subscribe(queue string, _ int, handler func(amqp.Delivery)) error {
	f.mu.Lock()
	f.subs[queue] = subscription{handler: handler}
	backlog := f.queues[queue]
	f.queues[queue] = nil
	f.mu.Unlock()

	for _, d := range backlog {
		go handler(d)
	}
	return nil
}

// Ack is a no-op on the fake broker beyond what the delivery's
// Acknowledger already recorded.
func (f *FakeBroker) Ack(d amqp.Delivery) error { return d.Ack(false) }

// Nack requeues d to the front of its originating queue when requeue is
// true; otherwise the message is dropped (the caller is responsible for
// any dead-letter republish, exactly as with a live broker's DLQ binding
// driven by application-level republish in this design).
func (f *FakeBroker) Nack(d amqp.Delivery, requeue bool) error { return d.Nack(false, requeue) }

// Purge removes and discards all messages from queue.
func (f *FakeBroker) Purge(queue string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.queues[queue])
	f.queues[queue] = nil
	return n, nil
}

// QueueSize returns the number of messages currently buffered in queue
// (messages already dispatched to a live subscriber are not counted).
func (f *FakeBroker) QueueSize(queue string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[queue]), nil
}

// Close marks the broker closed; further Publish calls fail.
func (f *FakeBroker) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeAcknowledger implements amqp.Acknowledger against a FakeBroker so
// Delivery.Ack/Nack/Reject work on fake deliveries exactly as on real
// ones.
type fakeAcknowledger struct {
	broker   *FakeBroker
	queue    string
	delivery amqp.Delivery
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error { return nil }

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	if !requeue {
		return nil
	}
	a.broker.mu.Lock()
	defer a.broker.mu.Unlock()
	if a.broker.closed {
		return nil
	}
	a.broker.queues[a.queue] = append([]amqp.Delivery{a.delivery}, a.broker.queues[a.queue]...)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
