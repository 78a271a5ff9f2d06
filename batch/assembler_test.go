package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k9sret/dragonio/batch"
	"github.com/k9sret/dragonio/datum"
	"github.com/k9sret/dragonio/group"
	"github.com/k9sret/dragonio/store"
)

// memoryStore holds n 4x4 RGB records; record i is filled with i and
// labelled i.
func memoryStore(n int) *store.Memory {
	records := make([][]byte, n)
	for i := range records {
		pix := make([]byte, 4*4*3)
		for j := range pix {
			pix[j] = byte(i)
		}
		records[i] = datum.Marshal(datum.FromPixels(4, 4, 3, pix, int32(i)))
	}
	return store.NewMemory(records)
}

// stalledStore reports records but never delivers any, so Get waits until
// the pipeline stops.
type stalledStore struct {
	*store.Memory
}

func (stalledStore) ReadRange(ctx context.Context, _, _ int, _ func(int, []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func smallOptions() batch.Options {
	opts := batch.DefaultOptions()
	opts.BatchSize = 4
	opts.Prefetch = 2
	opts.NumChunks = 4
	return opts
}

func labels(t *testing.T, b *batch.Batch) []int32 {
	t.Helper()
	return b.Labels.Data().([]int32)
}

func TestAssembler_EpochOrder(t *testing.T) {
	a, err := batch.Open(context.Background(), smallOptions(), memoryStore(10))
	require.NoError(t, err)
	defer a.Shutdown()

	var got [][]int32
	for i := 0; i < 3; i++ {
		b, err := a.Get(context.Background())
		require.NoError(t, err)
		got = append(got, labels(t, b))
	}

	assert.Equal(t, [][]int32{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9, 0, 1}}, got)
}

func TestAssembler_DeterministicWithOneWorkerPerStage(t *testing.T) {
	opts := smallOptions()
	opts.Shuffle = true
	opts.Mirror = true
	opts.ColorAugmentation = true
	opts.CropSize = 3
	opts.Padding = 1
	opts.NumTransformers = 1

	run := func() [][]float32 {
		a, err := batch.Open(context.Background(), opts, memoryStore(23))
		require.NoError(t, err)
		defer a.Shutdown()

		var out [][]float32
		for i := 0; i < 12; i++ {
			b, err := a.Get(context.Background())
			require.NoError(t, err)
			out = append(out, b.Images.Data().([]float32))
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestAssembler_FullBatchesWithManyWorkers(t *testing.T) {
	opts := smallOptions()
	opts.BatchSize = 5
	opts.NumReaders = 3
	opts.NumTransformers = 3
	opts.NumFetchers = 2
	opts.CropSize = 2

	stats := batch.NewBasicStatsCollector()
	a, err := batch.Open(context.Background(), opts, memoryStore(17), batch.WithStats(stats))
	require.NoError(t, err)
	defer a.Shutdown()

	assert.Equal(t, 3, a.Plan().NumTransformers)

	for i := 0; i < 20; i++ {
		b, err := a.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 5, b.Size())
		for _, l := range labels(t, b) {
			assert.GreaterOrEqual(t, l, int32(0))
			assert.Less(t, l, int32(17))
		}
	}

	s := a.Stats()
	assert.Equal(t, uint64(20), s.BatchesConsumed)
	assert.GreaterOrEqual(t, s.BatchesAssembled, uint64(20))
	assert.GreaterOrEqual(t, s.RecordsRead, uint64(100))
	assert.Zero(t, s.WorkerErrors())
}

func TestAssembler_ShutdownIsLiveAndIdempotent(t *testing.T) {
	a, err := batch.Open(context.Background(), smallOptions(), memoryStore(50))
	require.NoError(t, err)

	// Let every queue fill up so that all workers are blocked.
	require.Eventually(t, func() bool {
		return a.Stats().BatchQueueLen == a.Plan().BatchQueueSize
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.Shutdown()
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	_, err = a.Get(context.Background())
	assert.ErrorIs(t, err, batch.ErrPipelineClosed)

	a.Shutdown()
}

func TestAssembler_ShutdownUnblocksGet(t *testing.T) {
	a, err := batch.Open(context.Background(), smallOptions(), stalledStore{memoryStore(8)})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := a.Get(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	a.Shutdown()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, batch.ErrPipelineClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Get did not return after shutdown")
	}
}

func TestAssembler_GetRespectsCallerContext(t *testing.T) {
	a, err := batch.Open(context.Background(), smallOptions(), stalledStore{memoryStore(8)})
	require.NoError(t, err)
	defer a.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = a.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAssembler_CancelOpenContextShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a, err := batch.Open(ctx, smallOptions(), memoryStore(8))
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool {
		_, err := a.Get(context.Background())
		return errors.Is(err, batch.ErrPipelineClosed)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAssembler_WorkerErrorSurfacesFromGet(t *testing.T) {
	records := [][]byte{
		datum.Marshal(datum.FromPixels(1, 1, 1, []byte{1}, 1)),
		{0x22, 0x10},
	}

	a, err := batch.Open(context.Background(), smallOptions(), store.NewMemory(records))
	require.NoError(t, err)
	defer a.Shutdown()

	var getErr error
	require.Eventually(t, func() bool {
		_, getErr = a.Get(context.Background())
		return getErr != nil
	}, 2*time.Second, 5*time.Millisecond)

	var tErr *batch.TransformError
	require.True(t, errors.As(getErr, &tErr), "want *TransformError, got %v", getErr)
	assert.Equal(t, 0, tErr.Worker)
	assert.ErrorIs(t, getErr, datum.ErrMalformed)
	assert.Equal(t, getErr, a.Err())
	assert.Equal(t, uint64(1), a.Stats().TransformErrors)
}

func TestAssembler_ConfigErrorBeforeStart(t *testing.T) {
	opts := smallOptions()
	opts.BatchSize = 0

	_, err := batch.Open(context.Background(), opts, memoryStore(4))
	var cfgErr *batch.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestAssembler_EmptyStore(t *testing.T) {
	for name, s := range map[string]store.Store{
		"empty": store.NewMemory(nil),
		"nil":   nil,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := batch.Open(context.Background(), smallOptions(), s)
			var cfgErr *batch.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %v", err)
		})
	}
}

func TestAssembler_WorkerErrorCountedWithoutCollector(t *testing.T) {
	records := [][]byte{{0x22, 0x10}}
	a, err := batch.Open(context.Background(), smallOptions(), store.NewMemory(records))
	require.NoError(t, err)
	defer a.Shutdown()

	require.Eventually(t, func() bool { return a.Err() != nil }, 2*time.Second, 5*time.Millisecond)

	s := a.Stats()
	assert.Equal(t, uint64(1), s.TransformErrors)
	assert.Zero(t, s.ReaderErrors)
	assert.Zero(t, s.FetchErrors)
	assert.Equal(t, uint64(1), s.WorkerErrors())
}

func TestAssembler_PartitionRequiresDivisibleBatch(t *testing.T) {
	opts := smallOptions()
	opts.BatchSize = 6
	opts.Partition = true

	m := group.Static{Rank: 1, Members: []int{0, 1, 2, 3}}
	_, err := batch.Open(context.Background(), opts, memoryStore(4), batch.WithGroup(m))
	var cfgErr *batch.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestAssembler_PartitionedGroupsCoverStoreOnce(t *testing.T) {
	const n, groupSize = 12, 3

	opts := smallOptions()
	opts.BatchSize = 6
	opts.Partition = true
	opts.MultipleNodes = true

	seen := make(map[int32]int)
	for rank := 0; rank < groupSize; rank++ {
		m := group.Static{Rank: rank, Members: []int{0, 1, 2}}
		a, err := batch.Open(context.Background(), opts, memoryStore(n), batch.WithGroup(m))
		require.NoError(t, err)

		assert.Equal(t, 2, a.Plan().BatchSize)
		for i := 0; i < 2; i++ {
			b, err := a.Get(context.Background())
			require.NoError(t, err)
			for _, l := range labels(t, b) {
				seen[l]++
			}
		}
		a.Shutdown()
	}

	require.Len(t, seen, n)
	for l, c := range seen {
		assert.Equal(t, 1, c, "label %d", l)
	}
}

func TestAssembler_GetBeforeStart(t *testing.T) {
	a := batch.New(smallOptions())
	_, err := a.Get(context.Background())
	assert.ErrorIs(t, err, batch.ErrNotStarted)
	a.Shutdown()
}

func TestAssembler_GetAfterShutdownWithoutStart(t *testing.T) {
	a := batch.New(smallOptions())
	a.Shutdown()

	_, err := a.Get(context.Background())
	assert.ErrorIs(t, err, batch.ErrPipelineClosed)
	assert.ErrorIs(t, a.Start(context.Background(), memoryStore(4)), batch.ErrPipelineClosed)
}

func TestAssembler_StartTwice(t *testing.T) {
	a := batch.New(smallOptions())
	require.NoError(t, a.Start(context.Background(), memoryStore(4)))
	defer a.Shutdown()

	assert.ErrorIs(t, a.Start(context.Background(), memoryStore(4)), batch.ErrAlreadyStarted)
}

func TestAssembler_Summary(t *testing.T) {
	opts := smallOptions()
	opts.Source = "train.db"
	opts.ColorAugmentation = true

	a, err := batch.Open(context.Background(), opts, memoryStore(4))
	require.NoError(t, err)
	defer a.Shutdown()

	s := a.Summary()
	assert.Contains(t, s, a.ID().String())
	assert.Contains(t, s, "train.db")
	assert.Contains(t, s, "queue_size:     2")
	assert.Contains(t, s, "n_transformers: 2")
}
