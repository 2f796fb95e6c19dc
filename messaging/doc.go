// Package messaging implements the command-dispatch and queue-routing core of
// queuerate.
//
// The moving parts:
//   - NamingMode: the route resolver, mapping operation names to queues in
//     either legacy (one shared queue, content-based routing) or prefixed
//     (one queue per operation) mode
//   - EnvelopeCodec: JSON wire encoding of command and reply envelopes
//   - HandlerRegistry: init-phase, at-most-once binding of operation names to
//     handlers
//   - Dispatcher: the server-side consume loop, with failure isolation around
//     handler code and optional middleware
//   - Correlator: the client side, correlating issued commands with their
//     replies
//   - BrokerTransport: the narrow interface to the broker, implemented by the
//     transports subpackages
//
// A dispatcher processes each consumption point sequentially; one failing or
// malformed command is converted to data (an error reply) or dropped, and
// never stops the loop.
package messaging
