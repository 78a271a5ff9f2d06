// Package transform contains the record transformer, the second stage of
// the pipeline.
//
// A Transformer decodes raw records and runs the configured augmentation
// ops. Each worker owns its own random generator, so a worker's output is a
// function of its seed and its input order only.
package transform

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/k9sret/dragonio/datum"
	"github.com/k9sret/dragonio/queue"
)

// Sample is a decoded and augmented record.
type Sample struct {
	Image  *datum.Image
	Labels []int32
}

// WorkerSeed returns the seed of transformer worker on the node with the
// given local rank. Seeds are distinct across every worker of every node.
func WorkerSeed(base int64, worker, localRank, numTransformers int) int64 {
	return base + int64(worker) + int64(localRank)*int64(numTransformers)
}

// Transformer turns raw records into samples. It is not safe for concurrent
// use; run one per worker.
type Transformer struct {
	ops []Op
	rng *rand.Rand
}

// New validates cfg and creates a transformer seeded with seed.
func New(cfg Config, seed int64) (*Transformer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform config: %w", err)
	}
	return &Transformer{
		ops: BuildOps(cfg),
		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// Ops returns the ops applied to every record, in order.
func (t *Transformer) Ops() []Op {
	return t.ops
}

// Transform decodes record and applies every op.
func (t *Transformer) Transform(record []byte) (*Sample, error) {
	d, err := datum.Unmarshal(record)
	if err != nil {
		return nil, err
	}

	im, err := d.Image()
	if err != nil {
		return nil, err
	}

	for _, op := range t.ops {
		im, err = op.Apply(im, t.rng)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op.Name(), err)
		}
	}

	return &Sample{Image: im, Labels: d.LabelSet()}, nil
}

// Run moves records from in to out until ctx is done or either queue is
// closed, in which case it returns nil. A record that fails to decode or
// transform stops the worker with an error; records are never skipped.
func (t *Transformer) Run(ctx context.Context, in *queue.Queue[[]byte], out *queue.Queue[*Sample]) error {
	for {
		record, err := in.Get(ctx)
		if err != nil {
			return stopped(err)
		}

		sample, err := t.Transform(record)
		if err != nil {
			return err
		}

		if err := out.Put(ctx, sample); err != nil {
			return stopped(err)
		}
	}
}

// stopped maps the errors that mean "asked to stop" to nil.
func stopped(err error) error {
	if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
