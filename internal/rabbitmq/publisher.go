package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/queuerate/queuerate-go/internal/reliability"
)

// Publisher publishes messages in confirm mode, retrying transient failures
// according to its retry policy.
type Publisher struct {
	pool           *ChannelPool
	confirmTimeout time.Duration
	publishTimeout time.Duration
	retryPolicy    reliability.RetryPolicy
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for a broker confirmation.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublishTimeout bounds the total publish attempt, retries included.
func WithPublishTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.publishTimeout = timeout
	}
}

// WithRetryPolicy sets the retry policy for failed publishes.
func WithRetryPolicy(policy reliability.RetryPolicy) PublisherOption {
	return func(p *Publisher) {
		p.retryPolicy = policy
	}
}

// NewPublisher creates a publisher over a channel pool.
func NewPublisher(pool *ChannelPool, options ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 5 * time.Second,
		publishTimeout: 10 * time.Second,
		retryPolicy:    reliability.NewExponentialBackoff(250*time.Millisecond, 2*time.Second, 2.0, 3),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Publish sends msg to the given routing key on the default exchange and
// waits for the broker's confirmation.
func (p *Publisher) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.publishTimeout)
		defer cancel()
	}

	err := reliability.Retry(ctx, p.retryPolicy, func() error {
		return p.publishWithConfirm(ctx, routingKey, msg)
	})
	if err != nil {
		return &PublishError{RoutingKey: routingKey, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Close releases the underlying channel pool.
func (p *Publisher) Close() error {
	return p.pool.Close()
}

func (p *Publisher) publishWithConfirm(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	ch, err := p.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer p.pool.Put(ch)

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable confirms: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	err = ch.PublishWithContext(ctx,
		"", // default exchange: routing key is the queue name
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return err
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return ErrPublishNotConfirmed
		}
		return nil
	case <-time.After(p.confirmTimeout):
		return ErrPublishNotConfirmed
	case <-ctx.Done():
		return ctx.Err()
	}
}
