// Package redis provides a messaging.BrokerTransport backed by Redis
// Streams. Each route maps to a stream; consumption uses a consumer group
// per transport so deliveries are acknowledged with XACK.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/queuerate/queuerate-go/messaging"
)

const (
	defaultGroup      = "queuerate"
	defaultBlock      = 2 * time.Second
	defaultBatchCount = 16

	bodyField          = "body"
	replyToField       = "reply_to"
	correlationIDField = "correlation_id"
)

// Transport implements messaging.BrokerTransport over Redis Streams.
type Transport struct {
	client   *goredis.Client
	group    string
	consumer string
	block    time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	consumers map[string]context.CancelFunc
	closed    bool
}

// TransportOption configures the transport.
type TransportOption func(*Transport)

// WithGroup sets the consumer group name.
func WithGroup(group string) TransportOption {
	return func(t *Transport) {
		t.group = group
	}
}

// WithConsumerName sets the consumer name within the group.
func WithConsumerName(name string) TransportOption {
	return func(t *Transport) {
		t.consumer = name
	}
}

// WithBlockTimeout sets how long each XREADGROUP call blocks.
func WithBlockTimeout(d time.Duration) TransportOption {
	return func(t *Transport) {
		t.block = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport wraps an existing Redis client. The client is caller-owned
// and is not closed by Transport.Close.
func NewTransport(client *goredis.Client, options ...TransportOption) *Transport {
	host, _ := os.Hostname()
	t := &Transport{
		client:    client,
		group:     defaultGroup,
		consumer:  fmt.Sprintf("%s-%d", host, os.Getpid()),
		block:     defaultBlock,
		logger:    slog.Default(),
		consumers: make(map[string]context.CancelFunc),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Publish implements messaging.BrokerTransport.
func (t *Transport) Publish(ctx context.Context, route string, body []byte, opts messaging.PublishOptions) error {
	values := map[string]interface{}{
		bodyField: string(body),
	}
	if opts.ReplyTo != "" {
		values[replyToField] = opts.ReplyTo
	}
	if opts.CorrelationID != "" {
		values[correlationIDField] = opts.CorrelationID
	}

	err := t.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: route,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", route, err)
	}
	return nil
}

// Consume implements messaging.BrokerTransport. It creates the consumer
// group if needed and reads new entries until ctx is cancelled.
func (t *Transport) Consume(ctx context.Context, route string) (<-chan messaging.Delivery, error) {
	if err := t.ensureGroup(ctx, route); err != nil {
		return nil, err
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("transport is closed")
	}
	t.consumers[route] = cancel
	t.mu.Unlock()

	out := make(chan messaging.Delivery)
	go t.readLoop(consumeCtx, route, out)
	return out, nil
}

// Close stops all consumers. The underlying client stays open.
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
	return nil
}

func (t *Transport) ensureGroup(ctx context.Context, route string) error {
	err := t.client.XGroupCreateMkStream(ctx, route, t.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create group on stream %s: %w", route, err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context, route string, out chan<- messaging.Delivery) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := t.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    t.group,
			Consumer: t.consumer,
			Streams:  []string{route, ">"},
			Count:    defaultBatchCount,
			Block:    t.block,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("stream read failed", "route", route, "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				select {
				case out <- t.newDelivery(route, msg):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (t *Transport) newDelivery(route string, msg goredis.XMessage) *streamDelivery {
	d := &streamDelivery{
		transport: t,
		route:     route,
		id:        msg.ID,
	}
	if v, ok := msg.Values[bodyField].(string); ok {
		d.body = []byte(v)
	}
	if v, ok := msg.Values[replyToField].(string); ok {
		d.replyTo = v
	}
	return d
}

// streamDelivery adapts a stream entry to messaging.Delivery. Ack maps to
// XACK; a requeueing Nack acknowledges the entry and appends it again so it
// is redelivered as a fresh message.
type streamDelivery struct {
	transport *Transport
	route     string
	id        string
	body      []byte
	replyTo   string
}

func (d *streamDelivery) Body() []byte {
	return d.body
}

func (d *streamDelivery) ReplyTo() string {
	return d.replyTo
}

func (d *streamDelivery) Ack() error {
	return d.transport.client.XAck(context.Background(), d.route, d.transport.group, d.id).Err()
}

func (d *streamDelivery) Nack(requeue bool) error {
	ctx := context.Background()
	if err := d.transport.client.XAck(ctx, d.route, d.transport.group, d.id).Err(); err != nil {
		return err
	}
	if !requeue {
		return nil
	}
	values := map[string]interface{}{bodyField: string(d.body)}
	if d.replyTo != "" {
		values[replyToField] = d.replyTo
	}
	return d.transport.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: d.route,
		Values: values,
	}).Err()
}
