package messaging

import (
	"context"
	"sort"
	"sync"

	"github.com/queuerate/queuerate-go/contracts"
)

// Handler processes one command payload and returns its result. Payloads are
// open, schema-less maps; any validation beyond JSON well-formedness is the
// handler's own choice.
type Handler interface {
	Handle(ctx context.Context, payload map[string]interface{}) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, payload map[string]interface{}) (interface{}, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	return f(ctx, payload)
}

// HandlerRegistry maps operation names to handlers. Registration is a
// one-time, init-phase action: all Register calls are expected to finish
// before a Dispatcher starts consuming, after which the registry is
// effectively immutable and Lookup is safe from any goroutine.
type HandlerRegistry struct {
	mode     NamingMode
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates a registry bound to one naming mode.
func NewHandlerRegistry(mode NamingMode) *HandlerRegistry {
	return &HandlerRegistry{
		mode:     mode,
		handlers: make(map[string]Handler),
	}
}

// Mode returns the naming mode the registry was built for.
func (r *HandlerRegistry) Mode() NamingMode {
	return r.mode
}

// Register binds an operation name to a handler. It fails with
// InvalidNameError for names the naming mode rejects and with
// DuplicateOperationError when the name is already bound; in the latter case
// the first registration stays in effect.
func (r *HandlerRegistry) Register(name string, handler Handler) error {
	if handler == nil {
		return &contracts.InvalidNameError{Name: name, Reason: "handler is nil"}
	}
	if err := r.mode.ValidateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return &contracts.DuplicateOperationError{Name: name}
	}
	r.handlers[name] = handler
	return nil
}

// RegisterFunc binds a plain function as the handler for an operation.
func (r *HandlerRegistry) RegisterFunc(name string, fn HandlerFunc) error {
	return r.Register(name, fn)
}

// Lookup returns the handler bound to an operation name, or NotFoundError.
func (r *HandlerRegistry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, exists := r.handlers[name]
	if !exists {
		return nil, &contracts.NotFoundError{Name: name}
	}
	return handler, nil
}

// Operations returns the registered operation names in sorted order.
func (r *HandlerRegistry) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
