// Package broker implements the durable AMQP broker client, connection
// pool, and queue topology of SPEC_FULL.md §4.D on top of
// github.com/rabbitmq/amqp091-go.
package broker

import "fmt"

// PoolExhaustedError reports that no pooled connection became available
// within the pool's checkout timeout.
type PoolExhaustedError struct{ TimeoutSec float64 }

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("broker pool exhausted: no connection within %.1fs", e.TimeoutSec)
}

// BrokerPublishError wraps a transport-level publish failure.
type BrokerPublishError struct{ Cause error }

func (e *BrokerPublishError) Error() string { return fmt.Sprintf("broker publish failed: %s", e.Cause) }
func (e *BrokerPublishError) Unwrap() error  { return e.Cause }

// ModelUnavailableError reports that the model queue stayed empty past
// the Consumer's load grace period.
type ModelUnavailableError struct{ GraceSec float64 }

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model queue empty after %.1fs grace period", e.GraceSec)
}
