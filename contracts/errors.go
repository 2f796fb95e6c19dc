package contracts

import (
	"fmt"
	"time"
)

// InvalidNameError reports an operation name that cannot produce a valid
// route. It is a configuration-time failure and fatal to the registration
// call that triggered it.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid operation name %q: %s", e.Name, e.Reason)
}

// DuplicateOperationError reports an attempt to bind an operation name that
// is already registered. The first registration stays intact.
type DuplicateOperationError struct {
	Name string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("operation %q is already registered", e.Name)
}

// NotFoundError reports a lookup of an operation name with no registered
// handler.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for operation %q", e.Name)
}

// MalformedEnvelopeError reports a message body that could not be decoded
// into a valid envelope. The message is dropped; the consume loop continues.
type MalformedEnvelopeError struct {
	Reason string
	Err    error
}

func (e *MalformedEnvelopeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed envelope: %s", e.Reason)
}

func (e *MalformedEnvelopeError) Unwrap() error {
	return e.Err
}

// HandlerError wraps any failure raised while a handler was executing,
// including recovered panics. It is converted into an error reply and never
// propagates into the dispatch loop.
type HandlerError struct {
	Operation string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for operation %q failed: %v", e.Operation, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that a client-side wait for a reply expired. It is a
// recoverable condition; the command may still be processed by the server.
type TimeoutError struct {
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no reply for correlation id %s after %v", e.CorrelationID, e.Timeout)
}

// TransportError reports a broker-level publish or consume failure. Retry
// policy is the transport's concern; callers see the final outcome.
type TransportError struct {
	Op    string
	Route string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on route %q failed: %v", e.Op, e.Route, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
