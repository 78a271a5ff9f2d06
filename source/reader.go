// Package source contains the record reader, the first stage of the
// pipeline.
//
// A Reader owns one partition of a record store and emits its records
// forever: when the partition is exhausted a new epoch starts. With shuffling
// enabled the order of chunks is re-drawn every epoch from the reader's own
// seeded generator, so a run is reproducible from its seed.
package source

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/k9sret/dragonio/queue"
	"github.com/k9sret/dragonio/store"
)

// Options controls how a Reader walks its partition.
type Options struct {
	// Shuffle visits chunks in a random order each epoch.
	Shuffle bool

	// NumChunks is the number of chunks the whole store is cut into.
	NumChunks int

	// ChunkSize is the chunk size in megabytes. When positive it takes
	// precedence over NumChunks.
	ChunkSize int

	// Seed seeds the shuffle. Callers usually pass base seed + PartIdx.
	Seed int64
}

// Reader reads one partition of a Store.
type Reader struct {
	store  store.Store
	spec   PartitionSpec
	opts   Options
	chunks []Chunk
	rng    *rand.Rand
	epoch  int
}

// NewReader creates a reader for the partition described by spec.
func NewReader(s store.Store, spec PartitionSpec, opts Options) (*Reader, error) {
	if s == nil {
		return nil, errors.New("store cannot be nil")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid partition: %w", err)
	}

	start, end := spec.Range(s.Len())
	size := ChunkRecords(s.Len(), s.Size(), opts.NumChunks, opts.ChunkSize)

	return &Reader{
		store:  s,
		spec:   spec,
		opts:   opts,
		chunks: Chunks(start, end, size),
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Spec returns the reader's partition.
func (r *Reader) Spec() PartitionSpec {
	return r.spec
}

// Epoch returns the number of epochs started so far.
func (r *Reader) Epoch() int {
	return r.epoch
}

// NextEpoch returns the chunk order of the next epoch and advances the epoch
// counter. Without shuffling the order is always the store order.
func (r *Reader) NextEpoch() []Chunk {
	r.epoch++
	order := make([]Chunk, len(r.chunks))
	copy(order, r.chunks)
	if r.opts.Shuffle {
		r.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}

// errStopped signals that the output side went away during a scan.
var errStopped = errors.New("reader stopped")

// Run pushes records to out until ctx is done or out is closed, in which case
// it returns nil. Any store failure is returned as is and ends the reader.
func (r *Reader) Run(ctx context.Context, out *queue.Queue[[]byte]) error {
	if len(r.chunks) == 0 {
		// More partitions than records: nothing to emit.
		select {
		case <-ctx.Done():
		case <-out.Closed():
		}
		return nil
	}

	for {
		for _, c := range r.NextEpoch() {
			err := r.store.ReadRange(ctx, c.Start, c.End, func(_ int, value []byte) error {
				record := make([]byte, len(value))
				copy(record, value)
				if err := out.Put(ctx, record); err != nil {
					return errStopped
				}
				return nil
			})

			switch {
			case err == nil:
			case errors.Is(err, errStopped), ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("partition %d/%d, records [%d, %d): %w",
					r.spec.PartIdx, r.spec.NumParts, c.Start, c.End, err)
			}
		}
	}
}
