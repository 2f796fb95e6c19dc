package messaging

import (
	"errors"
	"strings"

	"github.com/queuerate/queuerate-go/contracts"
)

// DefaultPrefix is the queue prefix used by prefixed mode when none is
// configured.
const DefaultPrefix = "rabbitpy"

// routeSeparator joins the prefix and the operation name into a queue name.
const routeSeparator = "."

var (
	// ErrMissingQueue is returned when legacy mode is configured without a
	// queue name.
	ErrMissingQueue = errors.New("queuerate: legacy mode requires a queue name")

	// ErrModeNotConfigured is returned when a zero-value NamingMode is used.
	ErrModeNotConfigured = errors.New("queuerate: naming mode not configured")
)

type modeKind int

const (
	modeUnset modeKind = iota
	modeLegacy
	modePrefixed
)

// NamingMode selects how logical operation names map onto physical queues.
//
// Legacy mode routes every command through one configured queue and carries
// the operation name in the envelope's command field; routing happens after
// the message is read. Prefixed mode gives each operation its own queue named
// "<prefix>.<operation>" and lets the broker route before the message is
// read. A registry, dispatcher, or correlator is built for exactly one mode.
type NamingMode struct {
	kind   modeKind
	queue  string
	prefix string
}

// LegacyMode returns a legacy naming mode bound to the given shared queue.
// The queue name is required.
func LegacyMode(queue string) (NamingMode, error) {
	if queue == "" {
		return NamingMode{}, ErrMissingQueue
	}
	return NamingMode{kind: modeLegacy, queue: queue}, nil
}

// PrefixedMode returns a prefixed naming mode. An empty prefix selects
// DefaultPrefix.
func PrefixedMode(prefix string) NamingMode {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return NamingMode{kind: modePrefixed, prefix: prefix}
}

// IsLegacy reports whether the mode routes through a single shared queue.
func (m NamingMode) IsLegacy() bool {
	return m.kind == modeLegacy
}

// Queue returns the shared queue name in legacy mode, empty otherwise.
func (m NamingMode) Queue() string {
	return m.queue
}

// Prefix returns the queue prefix in prefixed mode, empty otherwise.
func (m NamingMode) Prefix() string {
	return m.prefix
}

// Resolve computes the physical route for an operation. Legacy mode always
// yields the configured queue regardless of the operation; prefixed mode
// yields "<prefix>.<operation>" and rejects names that would produce an
// ambiguous route. Resolve has no side effects.
func (m NamingMode) Resolve(operation string) (string, error) {
	switch m.kind {
	case modeLegacy:
		return m.queue, nil
	case modePrefixed:
		if err := m.ValidateName(operation); err != nil {
			return "", err
		}
		return m.prefix + routeSeparator + operation, nil
	default:
		return "", ErrModeNotConfigured
	}
}

// ValidateName checks that an operation name is acceptable for this mode.
// Empty names are never valid. In prefixed mode the separator character is
// also rejected, since "a.b" under prefix "p" would collide with operation
// "b" under prefix "p.a".
func (m NamingMode) ValidateName(operation string) error {
	if operation == "" {
		return &contracts.InvalidNameError{Name: operation, Reason: "name is empty"}
	}
	if m.kind == modePrefixed && strings.Contains(operation, routeSeparator) {
		return &contracts.InvalidNameError{
			Name:   operation,
			Reason: "name must not contain " + routeSeparator,
		}
	}
	return nil
}
