package messaging

import (
	"context"
	"sync"
)

// memTransport is an in-process BrokerTransport used by dispatcher and
// correlator tests. Every route is a buffered channel; publishes append a
// delivery, Consume hands out the channel directly.
type memTransport struct {
	mu         sync.Mutex
	queues     map[string]chan Delivery
	published  map[string][]publishRecord
	publishErr error
	consumeErr error
}

type publishRecord struct {
	body []byte
	opts PublishOptions
}

func newMemTransport() *memTransport {
	return &memTransport{
		queues:    make(map[string]chan Delivery),
		published: make(map[string][]publishRecord),
	}
}

func (t *memTransport) queue(route string) chan Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[route]
	if !ok {
		q = make(chan Delivery, 64)
		t.queues[route] = q
	}
	return q
}

func (t *memTransport) Publish(ctx context.Context, route string, body []byte, opts PublishOptions) error {
	t.mu.Lock()
	err := t.publishErr
	if err == nil {
		t.published[route] = append(t.published[route], publishRecord{body: body, opts: opts})
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	t.queue(route) <- &memDelivery{body: body, replyTo: opts.ReplyTo}
	return nil
}

func (t *memTransport) Consume(ctx context.Context, route string) (<-chan Delivery, error) {
	t.mu.Lock()
	err := t.consumeErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return t.queue(route), nil
}

func (t *memTransport) Close() error {
	return nil
}

// deliver injects a raw message as if it arrived from the broker.
func (t *memTransport) deliver(route string, body []byte, replyTo string) *memDelivery {
	d := &memDelivery{body: body, replyTo: replyTo}
	t.queue(route) <- d
	return d
}

// records returns a copy of the publishes recorded for a route.
func (t *memTransport) records(route string) []publishRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]publishRecord, len(t.published[route]))
	copy(out, t.published[route])
	return out
}

type memDelivery struct {
	body    []byte
	replyTo string

	mu      sync.Mutex
	acked   bool
	nacked  bool
	requeue bool
}

func (d *memDelivery) Body() []byte {
	return d.body
}

func (d *memDelivery) ReplyTo() string {
	return d.replyTo
}

func (d *memDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *memDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
	d.requeue = requeue
	return nil
}

func (d *memDelivery) isAcked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}
