package rabbitmq

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConnectionClosed    = errors.New("rabbitmq: connection is closed")
	ErrConnectionNotReady  = errors.New("rabbitmq: connection not ready")
	ErrConnectionTimeout   = errors.New("rabbitmq: connection timeout")
	ErrPoolClosed          = errors.New("rabbitmq: channel pool is closed")
	ErrPoolExhausted       = errors.New("rabbitmq: channel pool exhausted")
	ErrPublishNotConfirmed = errors.New("rabbitmq: publish not confirmed")
)

// ConnectionError wraps a connection-level failure.
type ConnectionError struct {
	Op       string
	URL      string
	Err      error
	Attempts int
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError wraps a publish failure.
type PublishError struct {
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: routing key %q: %v", e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// SanitizeURL strips credentials from an AMQP URL before it is logged.
func SanitizeURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 || scheme+3 > at {
		return "***"
	}
	return url[:scheme+3] + "***" + url[at:]
}
