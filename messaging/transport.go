package messaging

import (
	"context"
)

// PublishOptions carries the transport-level metadata that rides alongside a
// published body.
type PublishOptions struct {
	// ReplyTo names the route the consumer should publish the reply to.
	// Empty means fire-and-forget: no reply is expected or produced.
	ReplyTo string

	// CorrelationID links the message to its eventual reply. It is also
	// embedded in the envelope body; transports that have a native
	// correlation property (AMQP) mirror it there.
	CorrelationID string
}

// Delivery is one message handed to a consumer by the transport. The
// dispatcher acknowledges it once the message reaches a terminal state.
type Delivery interface {
	// Body returns the raw message bytes.
	Body() []byte

	// ReplyTo returns the reply route carried on the message, or empty.
	ReplyTo() string

	// Ack marks the message as handled.
	Ack() error

	// Nack returns the message to the broker, optionally requeueing it.
	Nack(requeue bool) error
}

// BrokerTransport is the narrow interface the core needs from a broker.
// Connection management, credentials, and retry policy live behind it.
type BrokerTransport interface {
	// Publish sends a body to a route.
	Publish(ctx context.Context, route string, body []byte, opts PublishOptions) error

	// Consume yields an unbounded sequence of deliveries from a route.
	// The channel closes when ctx is cancelled or the transport shuts
	// down.
	Consume(ctx context.Context, route string) (<-chan Delivery, error)

	// Close releases transport resources.
	Close() error
}
