package batch_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/k9sret/dragonio/batch"
)

func TestNoOpStatsCollector(t *testing.T) {
	stats := &batch.NoOpStatsCollector{}

	// These should not panic
	stats.RecordBatchAssembled(10, time.Second)
	stats.RecordBatchConsumed(time.Millisecond)
	stats.RecordReaderError()
	stats.RecordTransformError()
	stats.RecordFetchError()

	assert.Equal(t, batch.Stats{}, stats.GetStats())
}

func TestBasicStatsCollector(t *testing.T) {
	stats := batch.NewBasicStatsCollector()

	stats.RecordBatchAssembled(8, 100*time.Millisecond)
	stats.RecordBatchAssembled(8, 50*time.Millisecond)
	stats.RecordBatchAssembled(8, 150*time.Millisecond)
	stats.RecordBatchConsumed(10 * time.Millisecond)
	stats.RecordBatchConsumed(30 * time.Millisecond)
	stats.RecordTransformError()
	stats.RecordFetchError()

	s := stats.GetStats()
	assert.Equal(t, uint64(3), s.BatchesAssembled)
	assert.Equal(t, uint64(24), s.SamplesAssembled)
	assert.Equal(t, uint64(2), s.BatchesConsumed)
	assert.Equal(t, uint64(0), s.ReaderErrors)
	assert.Equal(t, uint64(1), s.TransformErrors)
	assert.Equal(t, uint64(1), s.FetchErrors)
	assert.Equal(t, uint64(2), s.WorkerErrors())

	assert.Equal(t, 50*time.Millisecond, s.MinAssemblyTime)
	assert.Equal(t, 150*time.Millisecond, s.MaxAssemblyTime)
	assert.Equal(t, 100*time.Millisecond, s.AverageAssemblyTime())
	assert.Equal(t, 20*time.Millisecond, s.AverageWaitTime())
}

func TestBasicStatsCollector_Empty(t *testing.T) {
	s := batch.NewBasicStatsCollector().GetStats()
	assert.Zero(t, s.MinAssemblyTime)
	assert.Zero(t, s.AverageAssemblyTime())
	assert.Zero(t, s.AverageWaitTime())
}

func TestBasicStatsCollector_Concurrent(t *testing.T) {
	stats := batch.NewBasicStatsCollector()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				stats.RecordBatchAssembled(4, time.Duration(j)*time.Microsecond)
				stats.RecordBatchConsumed(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	s := stats.GetStats()
	assert.Equal(t, uint64(goroutines*operations), s.BatchesAssembled)
	assert.Equal(t, uint64(goroutines*operations), s.BatchesConsumed)
	assert.Equal(t, uint64(4*goroutines*operations), s.SamplesAssembled)
}

func TestStats_Duration(t *testing.T) {
	start := time.Now()
	stats := batch.Stats{
		StartTime:      start,
		LastUpdateTime: start.Add(5 * time.Second),
	}
	assert.Equal(t, 5*time.Second, stats.Duration())
}
