// Package rabbitmq holds the low-level AMQP plumbing behind the RabbitMQ
// transport: connection management with automatic reconnection, channel
// pooling, and a confirm-mode publisher with retry. The transport package
// composes these; nothing here knows about envelopes or routes.
package rabbitmq
