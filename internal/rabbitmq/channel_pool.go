package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool hands out AMQP channels so publishers do not open one per
// message.
type ChannelPool struct {
	manager  *ConnectionManager
	channels chan *amqp.Channel
	maxSize  int

	mu     sync.Mutex
	active int
	closed bool
}

// ChannelPoolOption configures the pool.
type ChannelPoolOption func(*ChannelPool)

// WithMaxChannels sets the maximum number of pooled channels.
func WithMaxChannels(size int) ChannelPoolOption {
	return func(cp *ChannelPool) {
		cp.maxSize = size
	}
}

// NewChannelPool creates a pool over an established connection manager.
func NewChannelPool(manager *ConnectionManager, options ...ChannelPoolOption) (*ChannelPool, error) {
	if manager == nil {
		return nil, fmt.Errorf("connection manager cannot be nil")
	}

	cp := &ChannelPool{
		manager: manager,
		maxSize: 10,
	}
	for _, opt := range options {
		opt(cp)
	}
	if cp.maxSize < 1 {
		return nil, fmt.Errorf("pool size must be at least 1")
	}
	cp.channels = make(chan *amqp.Channel, cp.maxSize)
	return cp, nil
}

// Get returns a channel, creating one when the pool has capacity. It blocks
// until a channel frees up, the context ends, or a short exhaustion timeout
// fires.
func (cp *ChannelPool) Get(ctx context.Context) (*amqp.Channel, error) {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil, ErrPoolClosed
	}
	cp.mu.Unlock()

	select {
	case ch := <-cp.channels:
		if ch.IsClosed() {
			cp.retire()
			return cp.create()
		}
		return ch, nil
	default:
	}

	cp.mu.Lock()
	if cp.active < cp.maxSize {
		cp.mu.Unlock()
		return cp.create()
	}
	cp.mu.Unlock()

	select {
	case ch := <-cp.channels:
		if ch.IsClosed() {
			cp.retire()
			return cp.create()
		}
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, ErrPoolExhausted
	}
}

// Put returns a channel to the pool. Dead or surplus channels are dropped.
func (cp *ChannelPool) Put(ch *amqp.Channel) {
	if ch == nil {
		return
	}

	cp.mu.Lock()
	closed := cp.closed
	cp.mu.Unlock()

	if closed || ch.IsClosed() {
		cp.retire()
		if !ch.IsClosed() {
			ch.Close()
		}
		return
	}

	select {
	case cp.channels <- ch:
	default:
		ch.Close()
		cp.retire()
	}
}

// Execute runs fn with a pooled channel and returns it afterwards.
func (cp *ChannelPool) Execute(ctx context.Context, fn func(*amqp.Channel) error) error {
	ch, err := cp.Get(ctx)
	if err != nil {
		return err
	}
	defer cp.Put(ch)
	return fn(ch)
}

// Close drains and closes every pooled channel.
func (cp *ChannelPool) Close() error {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return nil
	}
	cp.closed = true
	cp.mu.Unlock()

	close(cp.channels)
	for ch := range cp.channels {
		if !ch.IsClosed() {
			ch.Close()
		}
	}
	return nil
}

func (cp *ChannelPool) create() (*amqp.Channel, error) {
	conn, err := cp.manager.GetConnection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	cp.mu.Lock()
	cp.active++
	cp.mu.Unlock()
	return ch, nil
}

func (cp *ChannelPool) retire() {
	cp.mu.Lock()
	if cp.active > 0 {
		cp.active--
	}
	cp.mu.Unlock()
}
