package messaging

import (
	"sync"
	"time"
)

// StatsCollector receives dispatch and publish events. Implementations must
// be safe for concurrent use.
type StatsCollector interface {
	// RecordDispatch records one handled command and its outcome.
	RecordDispatch(operation string, duration time.Duration, success bool)

	// RecordDrop records a message discarded without a reply.
	RecordDrop(route string, reason string)

	// RecordPublish records one publish attempt.
	RecordPublish(route string, success bool)
}

// NoOpStatsCollector discards all events.
type NoOpStatsCollector struct{}

func (NoOpStatsCollector) RecordDispatch(operation string, duration time.Duration, success bool) {}
func (NoOpStatsCollector) RecordDrop(route string, reason string)                                {}
func (NoOpStatsCollector) RecordPublish(route string, success bool)                              {}

// OperationStats aggregates timing for one operation.
type OperationStats struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// Stats is a point-in-time snapshot of collected counters.
type Stats struct {
	Dispatched int64
	Failed     int64
	Dropped    int64
	Published  int64
	Operations map[string]OperationStats
	Drops      map[string]int64
}

// InMemoryStatsCollector keeps counters in process memory. It can back an
// exporter later; the consume path only pays for a mutex and a few adds.
type InMemoryStatsCollector struct {
	mu         sync.Mutex
	dispatched int64
	failed     int64
	dropped    int64
	published  int64
	operations map[string]*OperationStats
	drops      map[string]int64
}

// NewInMemoryStatsCollector creates an empty collector.
func NewInMemoryStatsCollector() *InMemoryStatsCollector {
	return &InMemoryStatsCollector{
		operations: make(map[string]*OperationStats),
		drops:      make(map[string]int64),
	}
}

// RecordDispatch implements StatsCollector.
func (c *InMemoryStatsCollector) RecordDispatch(operation string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dispatched++
	if !success {
		c.failed++
	}

	stats, ok := c.operations[operation]
	if !ok {
		stats = &OperationStats{MinTime: duration, MaxTime: duration}
		c.operations[operation] = stats
	}
	stats.Count++
	if !success {
		stats.Failures++
	}
	stats.TotalTime += duration
	if duration < stats.MinTime {
		stats.MinTime = duration
	}
	if duration > stats.MaxTime {
		stats.MaxTime = duration
	}
}

// RecordDrop implements StatsCollector.
func (c *InMemoryStatsCollector) RecordDrop(route string, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
	c.drops[reason]++
}

// RecordPublish implements StatsCollector.
func (c *InMemoryStatsCollector) RecordPublish(route string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published++
}

// Snapshot returns a copy of the current counters.
func (c *InMemoryStatsCollector) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Stats{
		Dispatched: c.dispatched,
		Failed:     c.failed,
		Dropped:    c.dropped,
		Published:  c.published,
		Operations: make(map[string]OperationStats, len(c.operations)),
		Drops:      make(map[string]int64, len(c.drops)),
	}
	for op, stats := range c.operations {
		snap.Operations[op] = *stats
	}
	for reason, n := range c.drops {
		snap.Drops[reason] = n
	}
	return snap
}
