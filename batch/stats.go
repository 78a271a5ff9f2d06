package batch

import (
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector defines the interface for collecting pipeline metrics.
// The StatsCollector is optional - if not provided, no statistics are collected.
type StatsCollector interface {
	// RecordBatchAssembled is called by a fetcher after it stacks a batch.
	// duration covers collecting the samples and building the tensors.
	RecordBatchAssembled(batchSize int, duration time.Duration)

	// RecordBatchConsumed is called when Get hands a batch to the consumer.
	// wait is how long Get blocked.
	RecordBatchConsumed(wait time.Duration)

	// RecordReaderError is called when a reader fails.
	RecordReaderError()

	// RecordTransformError is called when a transformer fails.
	RecordTransformError()

	// RecordFetchError is called when a fetcher fails.
	RecordFetchError()

	// GetStats returns a snapshot of the current statistics.
	GetStats() Stats
}

// Stats holds aggregated statistics about a pipeline.
type Stats struct {
	// BatchesAssembled is the number of batches built by fetchers.
	BatchesAssembled uint64

	// BatchesConsumed is the number of batches returned by Get.
	BatchesConsumed uint64

	// SamplesAssembled is the number of samples stacked into batches.
	SamplesAssembled uint64

	ReaderErrors    uint64
	TransformErrors uint64
	FetchErrors     uint64

	// TotalAssemblyTime is the cumulative time fetchers spent per batch.
	TotalAssemblyTime time.Duration
	MinAssemblyTime   time.Duration
	MaxAssemblyTime   time.Duration

	// TotalWaitTime is the cumulative time Get blocked waiting for batches.
	TotalWaitTime time.Duration

	// Queue counters, filled in by Assembler.Stats.
	RecordsRead        uint64
	RecordsTransformed uint64
	RecordQueueLen     int
	SampleQueueLen     int
	BatchQueueLen      int

	// StartTime is when statistics collection began.
	StartTime time.Time

	// LastUpdateTime is when statistics were last updated.
	LastUpdateTime time.Time
}

// NoOpStatsCollector is a stats collector that discards all metrics.
// This is the default stats collector when none is specified.
type NoOpStatsCollector struct{}

// RecordBatchAssembled implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordBatchAssembled(batchSize int, duration time.Duration) {}

// RecordBatchConsumed implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordBatchConsumed(wait time.Duration) {}

// RecordReaderError implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordReaderError() {}

// RecordTransformError implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordTransformError() {}

// RecordFetchError implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordFetchError() {}

// GetStats implements the StatsCollector interface.
func (n *NoOpStatsCollector) GetStats() Stats {
	return Stats{}
}

// BasicStatsCollector is an in-memory StatsCollector. All operations are
// thread-safe.
type BasicStatsCollector struct {
	mu    sync.RWMutex
	stats Stats

	batchesAssembled uint64
	batchesConsumed  uint64
	samplesAssembled uint64
	readerErrors     uint64
	transformErrors  uint64
	fetchErrors      uint64
}

// NewBasicStatsCollector creates a new BasicStatsCollector.
func NewBasicStatsCollector() *BasicStatsCollector {
	now := time.Now()
	return &BasicStatsCollector{
		stats: Stats{
			StartTime:       now,
			LastUpdateTime:  now,
			MinAssemblyTime: time.Duration(1<<63 - 1),
		},
	}
}

// RecordBatchAssembled implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordBatchAssembled(batchSize int, duration time.Duration) {
	atomic.AddUint64(&b.batchesAssembled, 1)
	atomic.AddUint64(&b.samplesAssembled, uint64(batchSize))

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.LastUpdateTime = time.Now()
	b.stats.TotalAssemblyTime += duration
	if duration < b.stats.MinAssemblyTime {
		b.stats.MinAssemblyTime = duration
	}
	if duration > b.stats.MaxAssemblyTime {
		b.stats.MaxAssemblyTime = duration
	}
}

// RecordBatchConsumed implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordBatchConsumed(wait time.Duration) {
	atomic.AddUint64(&b.batchesConsumed, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.LastUpdateTime = time.Now()
	b.stats.TotalWaitTime += wait
}

// RecordReaderError implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordReaderError() {
	atomic.AddUint64(&b.readerErrors, 1)
}

// RecordTransformError implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordTransformError() {
	atomic.AddUint64(&b.transformErrors, 1)
}

// RecordFetchError implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordFetchError() {
	atomic.AddUint64(&b.fetchErrors, 1)
}

// GetStats implements the StatsCollector interface.
func (b *BasicStatsCollector) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := b.stats
	stats.BatchesAssembled = atomic.LoadUint64(&b.batchesAssembled)
	stats.BatchesConsumed = atomic.LoadUint64(&b.batchesConsumed)
	stats.SamplesAssembled = atomic.LoadUint64(&b.samplesAssembled)
	stats.ReaderErrors = atomic.LoadUint64(&b.readerErrors)
	stats.TransformErrors = atomic.LoadUint64(&b.transformErrors)
	stats.FetchErrors = atomic.LoadUint64(&b.fetchErrors)

	if stats.BatchesAssembled == 0 {
		stats.MinAssemblyTime = 0
	}

	return stats
}

// AverageAssemblyTime returns the mean time a fetcher spent per batch.
func (s *Stats) AverageAssemblyTime() time.Duration {
	if s.BatchesAssembled == 0 {
		return 0
	}
	return s.TotalAssemblyTime / time.Duration(s.BatchesAssembled)
}

// AverageWaitTime returns the mean time Get blocked per batch. A value near
// zero means the pipeline keeps ahead of the consumer.
func (s *Stats) AverageWaitTime() time.Duration {
	if s.BatchesConsumed == 0 {
		return 0
	}
	return s.TotalWaitTime / time.Duration(s.BatchesConsumed)
}

// WorkerErrors returns the number of failed workers across all stages.
func (s *Stats) WorkerErrors() uint64 {
	return s.ReaderErrors + s.TransformErrors + s.FetchErrors
}

// Duration returns the total duration since statistics collection started.
func (s *Stats) Duration() time.Duration {
	return s.LastUpdateTime.Sub(s.StartTime)
}
