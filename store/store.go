// Package store provides record stores the pipeline reads from.
//
// A Store is an indexed sequence of opaque records. Readers consume
// contiguous index ranges, which keeps access sequential for on-disk
// backends.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a requested range falls outside the store.
var ErrOutOfRange = errors.New("store: range out of bounds")

// Store is the record store consumed by readers. Implementations must be safe
// for concurrent use by multiple readers.
type Store interface {
	// Len returns the number of records.
	Len() int

	// Size returns the total size of all records in bytes.
	Size() int64

	// ReadRange calls fn for every record with index in [start, end), in
	// index order. fn must not retain value after returning. Returning an
	// error from fn stops the scan and returns that error.
	ReadRange(ctx context.Context, start, end int, fn func(index int, value []byte) error) error

	// Close releases the store's resources.
	Close() error
}

func checkRange(s Store, start, end int) error {
	if start < 0 || end > s.Len() || start > end {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, start, end, s.Len())
	}
	return nil
}

// Memory is an in-memory Store, mostly useful for tests and small datasets.
type Memory struct {
	records [][]byte
	size    int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates a store over records. The slice is not copied.
func NewMemory(records [][]byte) *Memory {
	var size int64
	for _, r := range records {
		size += int64(len(r))
	}
	return &Memory{records: records, size: size}
}

// Len implements the Store interface.
func (m *Memory) Len() int {
	return len(m.records)
}

// Size implements the Store interface.
func (m *Memory) Size() int64 {
	return m.size
}

// ReadRange implements the Store interface.
func (m *Memory) ReadRange(ctx context.Context, start, end int, fn func(int, []byte) error) error {
	if err := checkRange(m, start, end); err != nil {
		return err
	}
	for i := start; i < end; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(i, m.records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close implements the Store interface.
func (m *Memory) Close() error {
	return nil
}
