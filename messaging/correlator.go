package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/queuerate/queuerate-go/contracts"
)

const defaultCallTimeout = 30 * time.Second

// Correlator issues commands and matches inbound replies back to the call
// that produced them. Each Correlator owns one reply queue, consumed from the
// moment it is constructed; replies are routed to pending call slots by
// correlation id. Replies that match no pending call are kept and surfaced
// through Retrieve rather than dropped, since the broker gives no ordering
// guarantees.
type Correlator struct {
	transport      BrokerTransport
	codec          *EnvelopeCodec
	mode           NamingMode
	replyQueue     string
	logger         *slog.Logger
	stats          StatsCollector
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan *contracts.ReplyEnvelope
	orphans []*contracts.ReplyEnvelope
	arrived chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// CorrelatorOption configures the Correlator.
type CorrelatorOption func(*Correlator)

// WithReplyQueue overrides the generated reply queue name.
func WithReplyQueue(queue string) CorrelatorOption {
	return func(c *Correlator) {
		c.replyQueue = queue
	}
}

// WithCorrelatorLogger sets the logger.
func WithCorrelatorLogger(logger *slog.Logger) CorrelatorOption {
	return func(c *Correlator) {
		c.logger = logger
	}
}

// WithCorrelatorStats sets the stats collector.
func WithCorrelatorStats(stats StatsCollector) CorrelatorOption {
	return func(c *Correlator) {
		c.stats = stats
	}
}

// WithDefaultTimeout sets the timeout used by Match and Call when the caller
// passes zero.
func WithDefaultTimeout(timeout time.Duration) CorrelatorOption {
	return func(c *Correlator) {
		c.defaultTimeout = timeout
	}
}

// NewCorrelator creates a correlator and starts consuming its reply queue.
// The queue defaults to "reply.<short-uuid>", giving every correlator
// instance a private reply destination.
func NewCorrelator(transport BrokerTransport, mode NamingMode, options ...CorrelatorOption) (*Correlator, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	c := &Correlator{
		transport:      transport,
		codec:          NewEnvelopeCodec(mode),
		mode:           mode,
		replyQueue:     fmt.Sprintf("reply.%s", uuid.New().String()[:8]),
		logger:         slog.Default(),
		stats:          NoOpStatsCollector{},
		defaultTimeout: defaultCallTimeout,
		pending:        make(map[string]chan *contracts.ReplyEnvelope),
		arrived:        make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	deliveries, err := c.transport.Consume(ctx, c.replyQueue)
	if err != nil {
		cancel()
		return nil, &contracts.TransportError{Op: "consume", Route: c.replyQueue, Err: err}
	}
	c.cancel = cancel

	go c.replyLoop(ctx, deliveries)

	return c, nil
}

// ReplyQueue returns the route replies are consumed from.
func (c *Correlator) ReplyQueue() string {
	return c.replyQueue
}

// Issue publishes a command and returns the correlation id assigned to it.
// A pending call slot is reserved for the reply; the caller collects it with
// Match or Retrieve.
func (c *Correlator) Issue(ctx context.Context, operation string, payload map[string]interface{}) (string, error) {
	route, err := c.mode.Resolve(operation)
	if err != nil {
		return "", err
	}

	correlationID := uuid.New().String()
	body, err := c.codec.EncodeCommand(operation, payload, correlationID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.pending[correlationID] = make(chan *contracts.ReplyEnvelope, 1)
	c.mu.Unlock()

	err = c.transport.Publish(ctx, route, body, PublishOptions{
		ReplyTo:       c.replyQueue,
		CorrelationID: correlationID,
	})
	if err != nil {
		c.release(correlationID)
		c.stats.RecordPublish(route, false)
		return "", &contracts.TransportError{Op: "publish", Route: route, Err: err}
	}
	c.stats.RecordPublish(route, true)

	c.logger.Debug("issued command",
		"operation", operation,
		"route", route,
		"correlationId", correlationID,
	)
	return correlationID, nil
}

// Cast publishes a fire-and-forget command: no reply destination is attached,
// no pending call slot is reserved, and no reply will ever arrive.
func (c *Correlator) Cast(ctx context.Context, operation string, payload map[string]interface{}) error {
	route, err := c.mode.Resolve(operation)
	if err != nil {
		return err
	}
	body, err := c.codec.EncodeCommand(operation, payload, "")
	if err != nil {
		return err
	}
	if err := c.transport.Publish(ctx, route, body, PublishOptions{}); err != nil {
		c.stats.RecordPublish(route, false)
		return &contracts.TransportError{Op: "publish", Route: route, Err: err}
	}
	c.stats.RecordPublish(route, true)
	return nil
}

// Match blocks until the reply for the given correlation id arrives, the
// timeout elapses, or ctx is cancelled. A zero timeout selects the
// correlator's default. Whatever the outcome, the pending call slot is
// released.
func (c *Correlator) Match(ctx context.Context, correlationID string, timeout time.Duration) (*contracts.ReplyEnvelope, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	c.mu.Lock()
	slot, ok := c.pending[correlationID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending call for correlation id %s", correlationID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-slot:
		c.release(correlationID)
		return reply, nil
	case <-timer.C:
		c.release(correlationID)
		return nil, &contracts.TimeoutError{CorrelationID: correlationID, Timeout: timeout}
	case <-ctx.Done():
		c.release(correlationID)
		return nil, ctx.Err()
	}
}

// Call issues a command and waits for its reply.
func (c *Correlator) Call(ctx context.Context, operation string, payload map[string]interface{}, timeout time.Duration) (*contracts.ReplyEnvelope, error) {
	correlationID, err := c.Issue(ctx, operation, payload)
	if err != nil {
		return nil, err
	}
	return c.Match(ctx, correlationID, timeout)
}

// Retrieve returns a lazy sequence of replies: everything already waiting in
// pending call slots or the orphan buffer, then replies as they keep
// arriving. The channel closes when the timeout elapses, ctx is cancelled, or
// the correlator shuts down; a zero timeout means the sequence is unbounded
// until ctx ends. Each reply is delivered exactly once across Retrieve and
// Match.
func (c *Correlator) Retrieve(ctx context.Context, timeout time.Duration) <-chan *contracts.ReplyEnvelope {
	out := make(chan *contracts.ReplyEnvelope)

	var deadline <-chan time.Time
	var timer *time.Timer
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		deadline = timer.C
	}

	go func() {
		defer close(out)
		if timer != nil {
			defer timer.Stop()
		}

		for {
			for _, reply := range c.collect() {
				select {
				case out <- reply:
				case <-deadline:
					return
				case <-ctx.Done():
					return
				case <-c.done:
					return
				}
			}

			select {
			case <-c.arrived:
			case <-deadline:
				return
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}
	}()

	return out
}

// Close stops the reply consumer. Outstanding Match calls run into their
// timeouts; Retrieve channels close.
func (c *Correlator) Close() error {
	c.cancel()
	close(c.done)
	return nil
}

// replyLoop consumes the reply queue and routes each reply to its pending
// call slot, or to the orphan buffer when nothing is waiting for it.
func (c *Correlator) replyLoop(ctx context.Context, deliveries <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("reply channel closed", "queue", c.replyQueue)
				return
			}
			c.handleReply(delivery)
		}
	}
}

func (c *Correlator) handleReply(delivery Delivery) {
	reply, err := c.codec.DecodeReply(delivery.Body())
	if err != nil {
		c.logger.Error("dropping malformed reply",
			"queue", c.replyQueue,
			"error", err,
		)
		c.stats.RecordDrop(c.replyQueue, "malformed")
		c.ackReply(delivery)
		return
	}

	c.mu.Lock()
	if slot, ok := c.pending[reply.CorrelationID]; ok {
		select {
		case slot <- reply:
		default:
			// At most one reply per command; a second one is a duplicate.
			c.logger.Warn("duplicate reply", "correlationId", reply.CorrelationID)
		}
	} else {
		c.logger.Debug("orphan reply", "correlationId", reply.CorrelationID)
		c.orphans = append(c.orphans, reply)
	}
	c.mu.Unlock()

	select {
	case c.arrived <- struct{}{}:
	default:
	}
	c.ackReply(delivery)
}

// collect drains the orphan buffer and every delivered pending slot.
func (c *Correlator) collect() []*contracts.ReplyEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	replies := c.orphans
	c.orphans = nil

	for correlationID, slot := range c.pending {
		select {
		case reply := <-slot:
			delete(c.pending, correlationID)
			replies = append(replies, reply)
		default:
		}
	}
	return replies
}

func (c *Correlator) release(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

func (c *Correlator) ackReply(delivery Delivery) {
	if err := delivery.Ack(); err != nil {
		c.logger.Error("failed to ack reply", "queue", c.replyQueue, "error", err)
	}
}
