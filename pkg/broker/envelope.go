package broker

import amqp "github.com/rabbitmq/amqp091-go"

// Envelope header keys, per SPEC_FULL.md §4.D/§6.
const (
	HeaderRetryCount         = "x-retry-count"
	HeaderLastError          = "x-last-error"
	HeaderConsumerID         = "x-consumer-id"
	HeaderDeadLetterExchange = "x-dead-letter-exchange"
	HeaderDeadLetterRouting  = "x-dead-letter-routing-key"
)

// RetryCount reads x-retry-count from a delivery's headers, defaulting to
// 0 when absent or of an unexpected type.
func RetryCount(headers amqp.Table) uint {
	if headers == nil {
		return 0
	}
	switch v := headers[HeaderRetryCount].(type) {
	case int32:
		return uint(v)
	case int64:
		return uint(v)
	case int:
		return uint(v)
	default:
		return 0
	}
}

// WithRetry returns a copy of headers with x-retry-count and x-last-error
// set, leaving the original map untouched.
func WithRetry(headers amqp.Table, retryCount uint, lastErr string) amqp.Table {
	out := amqp.Table{}
	for k, v := range headers {
		out[k] = v
	}
	out[HeaderRetryCount] = int32(retryCount)
	out[HeaderLastError] = lastErr
	return out
}

// WithConsumerID returns a copy of headers with x-consumer-id set.
func WithConsumerID(headers amqp.Table, consumerID string) amqp.Table {
	out := amqp.Table{}
	for k, v := range headers {
		out[k] = v
	}
	out[HeaderConsumerID] = consumerID
	return out
}
