package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/queuerate/queuerate-go/contracts"
)

// MiddlewareFunc wraps handler invocation. Middleware runs inside the
// dispatcher's failure isolation: a panic in middleware is converted to an
// error reply exactly like a panic in the handler itself.
type MiddlewareFunc func(ctx context.Context, operation string, payload map[string]interface{}, next Handler) (interface{}, error)

// Dispatcher consumes command envelopes, routes them to registered handlers,
// and publishes replies. Each consumption point is processed sequentially:
// message N+1 is dispatched only after message N reached a terminal state.
// In prefixed mode there is one consumption point per operation; in legacy
// mode one shared queue serves every operation.
type Dispatcher struct {
	registry   *HandlerRegistry
	transport  BrokerTransport
	codec      *EnvelopeCodec
	logger     *slog.Logger
	stats      StatsCollector
	middleware []MiddlewareFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherStats sets the stats collector.
func WithDispatcherStats(stats StatsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.stats = stats
	}
}

// WithMiddleware appends middleware around handler invocation.
func WithMiddleware(middleware ...MiddlewareFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.middleware = append(d.middleware, middleware...)
	}
}

// NewDispatcher creates a dispatcher over a registry and a transport. The
// registry's naming mode decides both the queues consumed and the envelope
// format expected.
func NewDispatcher(registry *HandlerRegistry, transport BrokerTransport, options ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	d := &Dispatcher{
		registry:  registry,
		transport: transport,
		codec:     NewEnvelopeCodec(registry.Mode()),
		logger:    slog.Default(),
		stats:     NoOpStatsCollector{},
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Start begins consuming. In legacy mode it consumes the single configured
// queue; in prefixed mode it opens one consumption point per registered
// operation. Registration must be complete before Start is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher already running")
	}
	operations := d.registry.Operations()
	if len(operations) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	runCtx, cancel := context.WithCancel(ctx)

	mode := d.registry.Mode()
	if mode.IsLegacy() {
		deliveries, err := d.transport.Consume(runCtx, mode.Queue())
		if err != nil {
			cancel()
			return &contracts.TransportError{Op: "consume", Route: mode.Queue(), Err: err}
		}
		d.wg.Add(1)
		go d.consumeLoop(runCtx, mode.Queue(), "", deliveries)
	} else {
		for _, operation := range operations {
			route, err := mode.Resolve(operation)
			if err != nil {
				cancel()
				return err
			}
			deliveries, err := d.transport.Consume(runCtx, route)
			if err != nil {
				cancel()
				return &contracts.TransportError{Op: "consume", Route: route, Err: err}
			}
			d.wg.Add(1)
			go d.consumeLoop(runCtx, route, operation, deliveries)
		}
	}

	d.cancel = cancel
	d.running = true
	d.logger.Info("dispatcher started",
		"legacy", mode.IsLegacy(),
		"operations", len(operations),
	)
	return nil
}

// Stop cancels consumption and waits for in-flight messages to reach a
// terminal state.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher not running")
	}
	d.cancel()
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

// consumeLoop drains one consumption point sequentially. operation is the
// queue-implied operation name in prefixed mode and empty in legacy mode.
func (d *Dispatcher) consumeLoop(ctx context.Context, route, operation string, deliveries <-chan Delivery) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				d.logger.Warn("delivery channel closed", "route", route)
				return
			}
			d.dispatch(ctx, route, operation, delivery)
		}
	}
}

// dispatch walks one message through decode, route, invoke, and reply. Every
// exit path acknowledges the delivery: a command, however broken, must never
// stall the loop.
func (d *Dispatcher) dispatch(ctx context.Context, route, operation string, delivery Delivery) {
	start := time.Now()

	env, err := d.codec.DecodeCommand(delivery.Body())
	if err != nil {
		// No valid correlation id to reply to. Report and drop.
		d.logger.Error("dropping malformed message",
			"route", route,
			"error", err,
		)
		d.stats.RecordDrop(route, "malformed")
		d.ack(delivery, route)
		return
	}

	if operation == "" {
		operation = env.Command
	}

	handler, err := d.registry.Lookup(operation)
	if err != nil {
		d.logger.Warn("unknown operation",
			"route", route,
			"operation", operation,
		)
		d.stats.RecordDispatch(operation, time.Since(start), false)
		d.reply(ctx, route, delivery, env.CorrelationID, nil, &contracts.ReplyError{
			Message: err.Error(),
			Sent:    env.Data,
		})
		d.ack(delivery, route)
		return
	}

	result, invokeErr := d.invoke(ctx, operation, env.Data, handler)
	d.stats.RecordDispatch(operation, time.Since(start), invokeErr == nil)

	if invokeErr != nil {
		d.logger.Error("handler failed",
			"route", route,
			"operation", operation,
			"error", invokeErr,
		)
		d.reply(ctx, route, delivery, env.CorrelationID, nil, &contracts.ReplyError{
			Message: invokeErr.Error(),
		})
	} else {
		d.reply(ctx, route, delivery, env.CorrelationID, result, nil)
	}
	d.ack(delivery, route)
}

// invoke runs the middleware chain and the handler inside a recovery scope.
// Any failure, error return or panic, comes back as a HandlerError.
func (d *Dispatcher) invoke(ctx context.Context, operation string, payload map[string]interface{}, handler Handler) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &contracts.HandlerError{Operation: operation, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	chained := d.buildMiddlewareChain(operation, handler)
	result, err = chained.Handle(ctx, payload)
	if err != nil {
		return nil, &contracts.HandlerError{Operation: operation, Err: err}
	}
	return result, nil
}

// buildMiddlewareChain wraps the handler in registered middleware, outermost
// first.
func (d *Dispatcher) buildMiddlewareChain(operation string, handler Handler) Handler {
	chained := handler
	for i := len(d.middleware) - 1; i >= 0; i-- {
		mw := d.middleware[i]
		next := chained
		chained = HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
			return mw(ctx, operation, payload, next)
		})
	}
	return chained
}

// reply publishes the outcome back to the caller. A missing reply route
// means a fire-and-forget command: skipping the publish is the normal
// terminal state, not an error.
func (d *Dispatcher) reply(ctx context.Context, route string, delivery Delivery, correlationID string, result interface{}, replyErr *contracts.ReplyError) {
	replyTo := delivery.ReplyTo()
	if replyTo == "" {
		return
	}

	body, err := d.codec.EncodeReply(correlationID, result, replyErr)
	if err != nil {
		d.logger.Error("failed to encode reply",
			"route", route,
			"correlationId", correlationID,
			"error", err,
		)
		d.stats.RecordPublish(replyTo, false)
		return
	}

	err = d.transport.Publish(ctx, replyTo, body, PublishOptions{CorrelationID: correlationID})
	if err != nil {
		d.logger.Error("failed to publish reply",
			"route", route,
			"replyTo", replyTo,
			"correlationId", correlationID,
			"error", err,
		)
		d.stats.RecordPublish(replyTo, false)
		return
	}
	d.stats.RecordPublish(replyTo, true)
}

func (d *Dispatcher) ack(delivery Delivery, route string) {
	if err := delivery.Ack(); err != nil {
		d.logger.Error("failed to ack delivery", "route", route, "error", err)
	}
}
