// Package queuerate is a queue-mediated RPC layer. Callers publish JSON
// command envelopes to broker queues and receive correlated replies; servers
// register handlers per operation and dispatch incoming commands to them.
//
// Two naming modes govern how operations map to queues. Legacy mode shares
// one queue and routes on the envelope's command field; prefixed mode gives
// every operation its own queue named "<prefix>.<operation>".
package queuerate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/queuerate/queuerate-go/contracts"
	"github.com/queuerate/queuerate-go/messaging"
	"github.com/queuerate/queuerate-go/transports/rabbitmq"
)

// Client is the top-level entry point. It owns the naming mode, the handler
// registry, the server-side dispatcher, and a lazily started correlator for
// client-side calls.
type Client struct {
	mode          messaging.NamingMode
	transport     messaging.BrokerTransport
	ownsTransport bool
	registry      *messaging.HandlerRegistry
	dispatcher    *messaging.Dispatcher
	logger        *slog.Logger
	stats         messaging.StatsCollector

	replyQueue     string
	defaultTimeout time.Duration

	correlatorOnce sync.Once
	correlator     *messaging.Correlator
	correlatorErr  error

	mu      sync.Mutex
	started bool
	closed  bool
}

// ClientConfig holds client construction options.
type ClientConfig struct {
	LegacyQueue    string
	Prefix         string
	Logger         *slog.Logger
	Stats          messaging.StatsCollector
	ReplyQueue     string
	DefaultTimeout time.Duration
	Transport      messaging.BrokerTransport
	TransportOpts  []rabbitmq.TransportOption
	Middleware     []messaging.MiddlewareFunc
}

// ClientOption configures the client.
type ClientOption func(*ClientConfig)

// WithLegacyQueue selects legacy naming on the given shared queue.
func WithLegacyQueue(queue string) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.LegacyQueue = queue
	}
}

// WithPrefix selects prefixed naming with the given queue prefix. An empty
// prefix falls back to messaging.DefaultPrefix.
func WithPrefix(prefix string) ClientOption {
	return func(cfg *ClientConfig) {
		if prefix == "" {
			prefix = messaging.DefaultPrefix
		}
		cfg.Prefix = prefix
	}
}

// WithLogger sets the logger used by all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Logger = logger
	}
}

// WithStats sets the stats collector used by all components.
func WithStats(stats messaging.StatsCollector) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Stats = stats
	}
}

// WithReplyQueue overrides the generated private reply queue name.
func WithReplyQueue(queue string) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.ReplyQueue = queue
	}
}

// WithDefaultTimeout sets the default timeout for Call and Match.
func WithDefaultTimeout(timeout time.Duration) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.DefaultTimeout = timeout
	}
}

// WithTransport injects a pre-built transport. The connection string passed
// to NewClient is ignored and the transport is not closed by Client.Close.
func WithTransport(transport messaging.BrokerTransport) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Transport = transport
	}
}

// WithTransportOptions forwards options to the RabbitMQ transport built
// from the connection string.
func WithTransportOptions(opts ...rabbitmq.TransportOption) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.TransportOpts = append(cfg.TransportOpts, opts...)
	}
}

// WithDispatchMiddleware adds middleware around handler invocation.
func WithDispatchMiddleware(mw ...messaging.MiddlewareFunc) ClientOption {
	return func(cfg *ClientConfig) {
		cfg.Middleware = append(cfg.Middleware, mw...)
	}
}

// NewClient builds a client connected to the broker at connectionString.
// Exactly one naming mode applies: WithLegacyQueue or WithPrefix. With
// neither, prefixed mode with messaging.DefaultPrefix is used.
func NewClient(connectionString string, options ...ClientOption) (*Client, error) {
	cfg := &ClientConfig{
		Logger: slog.Default(),
		Stats:  messaging.NoOpStatsCollector{},
	}
	for _, opt := range options {
		opt(cfg)
	}

	if cfg.LegacyQueue != "" && cfg.Prefix != "" {
		return nil, fmt.Errorf("conflicting naming modes: WithLegacyQueue and WithPrefix are mutually exclusive")
	}

	var mode messaging.NamingMode
	var err error
	if cfg.LegacyQueue != "" {
		mode, err = messaging.LegacyMode(cfg.LegacyQueue)
		if err != nil {
			return nil, err
		}
	} else if cfg.Prefix != "" {
		mode = messaging.PrefixedMode(cfg.Prefix)
	} else {
		mode = messaging.PrefixedMode(messaging.DefaultPrefix)
	}

	transport := cfg.Transport
	ownsTransport := false
	if transport == nil {
		transport, err = rabbitmq.NewTransport(connectionString, cfg.TransportOpts...)
		if err != nil {
			return nil, err
		}
		ownsTransport = true
	}

	registry := messaging.NewHandlerRegistry(mode)

	dispatcherOpts := []messaging.DispatcherOption{
		messaging.WithDispatcherLogger(cfg.Logger),
		messaging.WithDispatcherStats(cfg.Stats),
	}
	if len(cfg.Middleware) > 0 {
		dispatcherOpts = append(dispatcherOpts, messaging.WithMiddleware(cfg.Middleware...))
	}
	dispatcher, err := messaging.NewDispatcher(registry, transport, dispatcherOpts...)
	if err != nil {
		if ownsTransport {
			transport.Close()
		}
		return nil, err
	}

	return &Client{
		mode:           mode,
		transport:      transport,
		ownsTransport:  ownsTransport,
		registry:       registry,
		dispatcher:     dispatcher,
		logger:         cfg.Logger,
		stats:          cfg.Stats,
		replyQueue:     cfg.ReplyQueue,
		defaultTimeout: cfg.DefaultTimeout,
	}, nil
}

// Mode returns the client's naming mode.
func (c *Client) Mode() messaging.NamingMode {
	return c.mode
}

// Register binds a handler to an operation name.
func (c *Client) Register(operation string, handler messaging.Handler) error {
	return c.registry.Register(operation, handler)
}

// RegisterFunc binds a handler function to an operation name.
func (c *Client) RegisterFunc(operation string, fn messaging.HandlerFunc) error {
	return c.registry.RegisterFunc(operation, fn)
}

// Operations lists the registered operation names.
func (c *Client) Operations() []string {
	return c.registry.Operations()
}

// Start begins consuming and dispatching commands for all registered
// operations. Registration must precede Start.
func (c *Client) Start(ctx context.Context) error {
	if err := c.dispatcher.Start(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Stop halts dispatching and waits for in-flight handlers to finish.
func (c *Client) Stop() error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()
	return c.dispatcher.Stop()
}

// Call sends a command and blocks for its reply. A zero timeout uses the
// client's default.
func (c *Client) Call(ctx context.Context, operation string, payload map[string]interface{}, timeout time.Duration) (*contracts.ReplyEnvelope, error) {
	corr, err := c.getCorrelator()
	if err != nil {
		return nil, err
	}
	return corr.Call(ctx, operation, payload, timeout)
}

// Cast sends a fire-and-forget command. No reply is ever produced.
func (c *Client) Cast(ctx context.Context, operation string, payload map[string]interface{}) error {
	corr, err := c.getCorrelator()
	if err != nil {
		return err
	}
	return corr.Cast(ctx, operation, payload)
}

// Issue sends a command without waiting and returns its correlation id for
// a later Match or Retrieve.
func (c *Client) Issue(ctx context.Context, operation string, payload map[string]interface{}) (string, error) {
	corr, err := c.getCorrelator()
	if err != nil {
		return "", err
	}
	return corr.Issue(ctx, operation, payload)
}

// Match blocks for the reply to a previously issued correlation id.
func (c *Client) Match(ctx context.Context, correlationID string, timeout time.Duration) (*contracts.ReplyEnvelope, error) {
	corr, err := c.getCorrelator()
	if err != nil {
		return nil, err
	}
	return corr.Match(ctx, correlationID, timeout)
}

// Retrieve streams replies that have arrived for any outstanding issue,
// in arrival order, until timeout elapses or ctx is cancelled.
func (c *Client) Retrieve(ctx context.Context, timeout time.Duration) (<-chan *contracts.ReplyEnvelope, error) {
	corr, err := c.getCorrelator()
	if err != nil {
		return nil, err
	}
	return corr.Retrieve(ctx, timeout), nil
}

// Close shuts down the dispatcher, the correlator, and any transport the
// client created itself.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.started = false
	c.mu.Unlock()

	var firstErr error
	if started {
		if err := c.dispatcher.Stop(); err != nil {
			firstErr = err
		}
	}
	if c.correlator != nil {
		if err := c.correlator.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.ownsTransport {
		if err := c.transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// getCorrelator builds the correlator on first use so server-only clients
// never consume a reply queue.
func (c *Client) getCorrelator() (*messaging.Correlator, error) {
	c.correlatorOnce.Do(func() {
		opts := []messaging.CorrelatorOption{
			messaging.WithCorrelatorLogger(c.logger),
			messaging.WithCorrelatorStats(c.stats),
		}
		if c.replyQueue != "" {
			opts = append(opts, messaging.WithReplyQueue(c.replyQueue))
		}
		if c.defaultTimeout > 0 {
			opts = append(opts, messaging.WithDefaultTimeout(c.defaultTimeout))
		}
		c.correlator, c.correlatorErr = messaging.NewCorrelator(c.transport, c.mode, opts...)
	})
	return c.correlator, c.correlatorErr
}
