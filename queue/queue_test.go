package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k9sret/dragonio/queue"
)

func TestQueue_FIFO(t *testing.T) {
	q := queue.New[int](4)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	assert.Equal(t, 4, q.Len())
	assert.Equal(t, 4, q.Cap())

	for i := 0; i < 4; i++ {
		v, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, uint64(4), q.Puts())
	assert.Equal(t, uint64(4), q.Gets())
}

func TestQueue_PutBlocksWhenFull(t *testing.T) {
	q := queue.New[int](1)
	require.NoError(t, q.Put(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, 2)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_GetBlocksWhenEmpty(t *testing.T) {
	q := queue.New[string](1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueue_CloseWakesBlockedCallers(t *testing.T) {
	full := queue.New[int](1)
	require.NoError(t, full.Put(context.Background(), 1))
	empty := queue.New[int](1)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- full.Put(context.Background(), 2)
	}()
	go func() {
		defer wg.Done()
		_, err := empty.Get(context.Background())
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	full.Close()
	empty.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked callers were not released by Close")
	}

	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, queue.ErrClosed)
	}
}

func TestQueue_GetAfterCloseIgnoresBufferedItems(t *testing.T) {
	q := queue.New[int](2)
	require.NoError(t, q.Put(context.Background(), 7))
	q.Close()
	q.Close()

	_, err := q.Get(context.Background())
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.ErrorIs(t, q.Put(context.Background(), 8), queue.ErrClosed)

	select {
	case <-q.Closed():
	default:
		t.Error("Closed channel should be closed")
	}
}

func TestQueue_NewPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { queue.New[int](0) })
}
