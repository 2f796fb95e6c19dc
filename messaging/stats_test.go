package messaging

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryStatsCollector(t *testing.T) {
	t.Run("RecordDispatch aggregates per operation", func(t *testing.T) {
		collector := NewInMemoryStatsCollector()

		collector.RecordDispatch("add", 10*time.Millisecond, true)
		collector.RecordDispatch("add", 30*time.Millisecond, false)
		collector.RecordDispatch("greet", 5*time.Millisecond, true)

		snap := collector.Snapshot()
		assert.Equal(t, int64(3), snap.Dispatched)
		assert.Equal(t, int64(1), snap.Failed)

		add := snap.Operations["add"]
		assert.Equal(t, int64(2), add.Count)
		assert.Equal(t, int64(1), add.Failures)
		assert.Equal(t, 40*time.Millisecond, add.TotalTime)
		assert.Equal(t, 10*time.Millisecond, add.MinTime)
		assert.Equal(t, 30*time.Millisecond, add.MaxTime)
	})

	t.Run("RecordDrop counts by reason", func(t *testing.T) {
		collector := NewInMemoryStatsCollector()

		collector.RecordDrop("api.jobs", "malformed")
		collector.RecordDrop("api.jobs", "malformed")
		collector.RecordDrop("reply.abc", "malformed")

		snap := collector.Snapshot()
		assert.Equal(t, int64(3), snap.Dropped)
		assert.Equal(t, int64(3), snap.Drops["malformed"])
	})

	t.Run("Snapshot is a copy", func(t *testing.T) {
		collector := NewInMemoryStatsCollector()
		collector.RecordDispatch("add", time.Millisecond, true)

		snap := collector.Snapshot()
		snap.Operations["add"] = OperationStats{Count: 99}

		assert.Equal(t, int64(1), collector.Snapshot().Operations["add"].Count)
	})

	t.Run("concurrent recording is safe", func(t *testing.T) {
		collector := NewInMemoryStatsCollector()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					collector.RecordDispatch("add", time.Millisecond, true)
					collector.RecordPublish("api.jobs", true)
				}
			}()
		}
		wg.Wait()

		snap := collector.Snapshot()
		assert.Equal(t, int64(1000), snap.Dispatched)
		assert.Equal(t, int64(1000), snap.Published)
	})
}
