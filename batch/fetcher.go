package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorgonia.org/tensor"

	"github.com/k9sret/dragonio/queue"
	"github.com/k9sret/dragonio/transform"
)

// Batch is one unit of output. Images has shape [B, H, W, C] and the
// pipeline's dtype; Labels is an int32 tensor of shape [B, L].
type Batch struct {
	Images *tensor.Dense
	Labels *tensor.Dense
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.Images.Shape()[0]
}

// Fetcher groups samples into batches of a fixed size.
type Fetcher struct {
	batchSize int
	dtype     tensor.Dtype
	stats     StatsCollector
}

// NewFetcher creates a fetcher emitting batches of batchSize samples stored
// as dtype.
func NewFetcher(batchSize int, dtype tensor.Dtype) *Fetcher {
	return &Fetcher{
		batchSize: batchSize,
		dtype:     dtype,
		stats:     &NoOpStatsCollector{},
	}
}

// WithStats sets the collector that receives RecordBatchAssembled.
func (f *Fetcher) WithStats(stats StatsCollector) *Fetcher {
	if stats != nil {
		f.stats = stats
	}
	return f
}

// Assemble stacks samples, in order, into one batch. Every sample must have
// the same image shape and label count.
func (f *Fetcher) Assemble(samples []*transform.Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, errors.New("cannot assemble an empty batch")
	}

	first := samples[0]
	h, w, c := first.Image.H, first.Image.W, first.Image.C
	numLabels := len(first.Labels)
	stride := h * w * c

	labels := make([]int32, 0, len(samples)*numLabels)
	for i, s := range samples {
		if s.Image.H != h || s.Image.W != w || s.Image.C != c {
			return nil, fmt.Errorf("sample %d has shape %dx%dx%d, batch has %dx%dx%d",
				i, s.Image.H, s.Image.W, s.Image.C, h, w, c)
		}
		if len(s.Labels) != numLabels {
			return nil, fmt.Errorf("sample %d has %d labels, batch has %d", i, len(s.Labels), numLabels)
		}
		labels = append(labels, s.Labels...)
	}

	var backing interface{}
	switch f.dtype {
	case tensor.Float32:
		buf := make([]float32, 0, len(samples)*stride)
		for _, s := range samples {
			buf = append(buf, s.Image.Pix...)
		}
		backing = buf
	case tensor.Float64:
		buf := make([]float64, 0, len(samples)*stride)
		for _, s := range samples {
			for _, v := range s.Image.Pix {
				buf = append(buf, float64(v))
			}
		}
		backing = buf
	case tensor.Uint8:
		buf := make([]uint8, 0, len(samples)*stride)
		for _, s := range samples {
			for _, v := range s.Image.Pix {
				buf = append(buf, toUint8(v))
			}
		}
		backing = buf
	default:
		return nil, fmt.Errorf("unsupported dtype %v", f.dtype)
	}

	return &Batch{
		Images: tensor.New(tensor.WithShape(len(samples), h, w, c), tensor.WithBacking(backing)),
		Labels: tensor.New(tensor.WithShape(len(samples), numLabels), tensor.WithBacking(labels)),
	}, nil
}

func toUint8(v float32) uint8 {
	r := math.Round(float64(v))
	switch {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	default:
		return uint8(r)
	}
}

// Run pulls exactly batchSize samples from in, assembles them and pushes the
// batch to out, until ctx is done or either queue is closed. A partially
// collected batch is dropped on stop; it is never emitted.
func (f *Fetcher) Run(ctx context.Context, in *queue.Queue[*transform.Sample], out *queue.Queue[*Batch]) error {
	samples := make([]*transform.Sample, 0, f.batchSize)
	for {
		samples = samples[:0]
		var start time.Time
		for len(samples) < f.batchSize {
			s, err := in.Get(ctx)
			if err != nil {
				return stopped(err)
			}
			if len(samples) == 0 {
				start = time.Now()
			}
			samples = append(samples, s)
		}

		b, err := f.Assemble(samples)
		if err != nil {
			return err
		}
		f.stats.RecordBatchAssembled(len(samples), time.Since(start))

		if err := out.Put(ctx, b); err != nil {
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
