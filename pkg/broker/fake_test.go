package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestFakeBrokerPublishGet(t *testing.T) {
	b := NewFakeBroker()
	if err := b.Publish(context.Background(), "q", []byte("hello"), true, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, ok, err := b.Get("q", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}
	if string(d.Body) != "hello" {
		t.Fatalf("body = %q, want %q", d.Body, "hello")
	}
	if err := b.Ack(d); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestFakeBrokerGetEmptyQueue(t *testing.T) {
	b := NewFakeBroker()
	_, ok, err := b.Get("empty", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get on empty queue returned ok=true")
	}
}

func TestFakeBrokerSubscribeDispatchesPublishedMessages(t *testing.T) {
	b := NewFakeBroker()
	var mu sync.Mutex
	var received []string

	if err := b.Subscribe("q", 1, func(d amqp.Delivery) {
		mu.Lock()
		received = append(received, string(d.Body))
		mu.Unlock()
		_ = b.Ack(d)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for _, msg := range []string{"a", "b", "c"} {
		if err := b.Publish(context.Background(), "q", []byte(msg), true, nil); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("received %d messages, want 3: %v", len(received), received)
	}
}

func TestFakeBrokerNackRequeue(t *testing.T) {
	b := NewFakeBroker()
	if err := b.Publish(context.Background(), "q", []byte("retry-me"), true, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, ok, err := b.Get("q", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if err := b.Nack(d, true); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	size, err := b.QueueSize("q")
	if err != nil {
		t.Fatalf("QueueSize: %v", err)
	}
	if size != 1 {
		t.Fatalf("QueueSize after requeue = %d, want 1", size)
	}
}

func TestFakeBrokerNackNoRequeueDrops(t *testing.T) {
	b := NewFakeBroker()
	if err := b.Publish(context.Background(), "q", []byte("drop-me"), true, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	d, ok, err := b.Get("q", false)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if err := b.Nack(d, false); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	size, err := b.QueueSize("q")
	if err != nil {
		t.Fatalf("QueueSize: %v", err)
	}
	if size != 0 {
		t.Fatalf("QueueSize after non-requeue nack = %d, want 0", size)
	}
}

func TestFakeBrokerPurge(t *testing.T) {
	b := NewFakeBroker()
	for i := 0; i < 5; i++ {
		_ = b.Publish(context.Background(), "q", []byte("x"), true, nil)
	}
	n, err := b.Purge("q")
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 5 {
		t.Fatalf("Purge removed %d, want 5", n)
	}
	size, _ := b.QueueSize("q")
	if size != 0 {
		t.Fatalf("QueueSize after purge = %d, want 0", size)
	}
}
