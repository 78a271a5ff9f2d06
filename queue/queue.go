// Package queue provides the bounded FIFO used between pipeline stages.
//
// A Queue blocks producers while it is full and consumers while it is empty.
// Both directions can be interrupted, either by the caller's context or by
// closing the queue, so a worker parked on a queue operation can always be
// stopped.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Put and Get once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded FIFO safe for any number of producers and consumers.
// Create one with New.
type Queue[T any] struct {
	items  chan T
	closed chan struct{}
	once   sync.Once

	puts uint64
	gets uint64
}

// New creates a queue holding at most capacity items. capacity must be
// positive.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}
	return &Queue[T]{
		items:  make(chan T, capacity),
		closed: make(chan struct{}),
	}
}

// Put appends v, blocking while the queue is full. It returns ErrClosed if
// the queue is closed before v is accepted, or the context's error if ctx is
// done first.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.items <- v:
		atomic.AddUint64(&q.puts, 1)
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes and returns the oldest item, blocking while the queue is
// empty. Once the queue is closed Get fails with ErrClosed even if items
// remain buffered; buffered items are abandoned on close.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-q.closed:
		return zero, ErrClosed
	default:
	}

	select {
	case v := <-q.items:
		atomic.AddUint64(&q.gets, 1)
		return v, nil
	case <-q.closed:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close wakes every blocked Put and Get. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		close(q.closed)
	})
}

// Closed returns a channel that is closed when the queue is closed.
func (q *Queue[T]) Closed() <-chan struct{} {
	return q.closed
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Puts returns how many items have been accepted since creation.
func (q *Queue[T]) Puts() uint64 {
	return atomic.LoadUint64(&q.puts)
}

// Gets returns how many items have been handed to consumers since creation.
func (q *Queue[T]) Gets() uint64 {
	return atomic.LoadUint64(&q.gets)
}
