package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/queuerate/queuerate-go/internal/rabbitmq"
	"github.com/queuerate/queuerate-go/messaging"
)

// Transport implements messaging.BrokerTransport over RabbitMQ. Routes map
// directly to queue names published via the default exchange; reply routes
// and correlation ids ride the AMQP reply-to and correlation-id properties.
type Transport struct {
	manager   *rabbitmq.ConnectionManager
	pool      *rabbitmq.ChannelPool
	publisher *rabbitmq.Publisher
	logger    *slog.Logger
	prefetch  int

	mu        sync.Mutex
	declared  map[string]bool
	consumers map[string]context.CancelFunc
	closed    bool
}

// TransportConfig holds transport construction options.
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
	PublisherOptions  []rabbitmq.PublisherOption
	Logger            *slog.Logger
	PrefetchCount     int
}

// TransportOption configures the transport.
type TransportOption func(*TransportConfig)

// WithConnectionOptions forwards options to the connection manager.
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// WithPublisherOptions forwards options to the publisher.
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PublisherOptions = append(cfg.PublisherOptions, opts...)
	}
}

// WithTransportLogger sets the logger.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// WithPrefetchCount sets the per-consumer prefetch count.
func WithPrefetchCount(count int) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PrefetchCount = count
	}
}

// NewTransport connects to the broker and returns a ready transport.
func NewTransport(connectionString string, options ...TransportOption) (*Transport, error) {
	cfg := &TransportConfig{
		Logger:        slog.Default(),
		PrefetchCount: 10,
	}
	for _, opt := range options {
		opt(cfg)
	}

	manager := rabbitmq.NewConnectionManager(connectionString, cfg.ConnectionOptions...)
	if err := manager.Connect(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pool, err := rabbitmq.NewChannelPool(manager)
	if err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to create channel pool: %w", err)
	}

	return &Transport{
		manager:   manager,
		pool:      pool,
		publisher: rabbitmq.NewPublisher(pool, cfg.PublisherOptions...),
		logger:    cfg.Logger,
		prefetch:  cfg.PrefetchCount,
		declared:  make(map[string]bool),
		consumers: make(map[string]context.CancelFunc),
	}, nil
}

// Publish implements messaging.BrokerTransport.
func (t *Transport) Publish(ctx context.Context, route string, body []byte, opts messaging.PublishOptions) error {
	if err := t.ensureQueue(ctx, route); err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		ReplyTo:       opts.ReplyTo,
		CorrelationId: opts.CorrelationID,
	}
	return t.publisher.Publish(ctx, route, msg)
}

// Consume implements messaging.BrokerTransport. It declares the queue, sets
// the prefetch count, and feeds deliveries until ctx is cancelled.
func (t *Transport) Consume(ctx context.Context, route string) (<-chan messaging.Delivery, error) {
	conn, err := t.manager.GetConnection()
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := declareQueue(channel, route); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", route, err)
	}
	if err := channel.Qos(t.prefetch, 0, false); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := channel.Consume(
		route,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to consume from %s: %w", route, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		channel.Close()
		return nil, fmt.Errorf("transport is closed")
	}
	t.consumers[route] = cancel
	t.mu.Unlock()

	out := make(chan messaging.Delivery)
	go func() {
		defer close(out)
		defer channel.Close()
		for {
			select {
			case <-consumeCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					t.logger.Warn("amqp deliveries closed", "route", route)
					return
				}
				select {
				case out <- &deliveryAdapter{delivery: d}:
				case <-consumeCtx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close stops all consumers and tears down the connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancels := make([]context.CancelFunc, 0, len(t.consumers))
	for _, cancel := range t.consumers {
		cancels = append(cancels, cancel)
	}
	t.consumers = map[string]context.CancelFunc{}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	t.publisher.Close()
	return t.manager.Close()
}

// IsConnected reports broker connectivity.
func (t *Transport) IsConnected() bool {
	return t.manager.IsConnected()
}

// ensureQueue declares the target queue once per route so publishes to the
// default exchange always have a destination.
func (t *Transport) ensureQueue(ctx context.Context, route string) error {
	t.mu.Lock()
	done := t.declared[route]
	t.mu.Unlock()
	if done {
		return nil
	}

	err := t.pool.Execute(ctx, func(ch *amqp.Channel) error {
		_, err := declareQueue(ch, route)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", route, err)
	}

	t.mu.Lock()
	t.declared[route] = true
	t.mu.Unlock()
	return nil
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		false, // durable: envelopes are transient RPC traffic
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
}

// deliveryAdapter adapts amqp.Delivery to messaging.Delivery.
type deliveryAdapter struct {
	delivery amqp.Delivery
}

func (d *deliveryAdapter) Body() []byte {
	return d.delivery.Body
}

func (d *deliveryAdapter) ReplyTo() string {
	return d.delivery.ReplyTo
}

func (d *deliveryAdapter) Ack() error {
	return d.delivery.Ack(false)
}

func (d *deliveryAdapter) Nack(requeue bool) error {
	return d.delivery.Nack(false, requeue)
}
