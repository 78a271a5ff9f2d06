package batch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/k9sret/dragonio/batch"
	"github.com/k9sret/dragonio/datum"
	"github.com/k9sret/dragonio/queue"
	"github.com/k9sret/dragonio/transform"
)

func sample(h, w, c int, fill float32, labels ...int32) *transform.Sample {
	im := datum.NewImage(h, w, c)
	for i := range im.Pix {
		im.Pix[i] = fill
	}
	return &transform.Sample{Image: im, Labels: labels}
}

func TestFetcher_Assemble(t *testing.T) {
	f := batch.NewFetcher(3, tensor.Float32)
	b, err := f.Assemble([]*transform.Sample{
		sample(2, 2, 3, 1, 10),
		sample(2, 2, 3, 2, 11),
		sample(2, 2, 3, 3, 12),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, b.Size())
	assert.Equal(t, tensor.Shape{3, 2, 2, 3}, b.Images.Shape())
	assert.Equal(t, tensor.Float32, b.Images.Dtype())
	assert.Equal(t, tensor.Shape{3, 1}, b.Labels.Shape())
	assert.Equal(t, []int32{10, 11, 12}, b.Labels.Data())

	pix := b.Images.Data().([]float32)
	assert.Equal(t, float32(1), pix[0])
	assert.Equal(t, float32(2), pix[12])
	assert.Equal(t, float32(3), pix[35])
}

func TestFetcher_AssembleDTypes(t *testing.T) {
	s := sample(1, 3, 1, 0, 1)
	copy(s.Image.Pix, []float32{-3, 2.6, 300})

	b, err := batch.NewFetcher(1, tensor.Uint8).Assemble([]*transform.Sample{s})
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 3, 255}, b.Images.Data())

	b, err = batch.NewFetcher(1, tensor.Float64).Assemble([]*transform.Sample{s})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-3, 2.6, 300}, b.Images.Data(), 1e-5)
}

func TestFetcher_AssembleMultiLabel(t *testing.T) {
	b, err := batch.NewFetcher(2, tensor.Float32).Assemble([]*transform.Sample{
		sample(1, 1, 1, 0, 1, 2, 3),
		sample(1, 1, 1, 0, 4, 5, 6),
	})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, b.Labels.Shape())
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, b.Labels.Data())
}

func TestFetcher_AssembleRejectsMismatch(t *testing.T) {
	f := batch.NewFetcher(2, tensor.Float32)

	_, err := f.Assemble([]*transform.Sample{sample(2, 2, 3, 0, 1), sample(3, 2, 3, 0, 1)})
	assert.Error(t, err)

	_, err = f.Assemble([]*transform.Sample{sample(2, 2, 3, 0, 1), sample(2, 2, 3, 0, 1, 2)})
	assert.Error(t, err)

	_, err = f.Assemble(nil)
	assert.Error(t, err)
}

func TestFetcher_RunEmitsOnlyFullBatches(t *testing.T) {
	stats := batch.NewBasicStatsCollector()
	f := batch.NewFetcher(4, tensor.Float32).WithStats(stats)

	in := queue.New[*transform.Sample](16)
	out := queue.New[*batch.Batch](4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, in.Put(ctx, sample(1, 1, 1, float32(i), int32(i))))
	}

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, in, out) }()

	for want := 0; want < 8; want += 4 {
		b, err := out.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, b.Size())
		assert.Equal(t, []int32{int32(want), int32(want + 1), int32(want + 2), int32(want + 3)}, b.Labels.Data())
	}

	// Two samples are left over, not enough for a batch.
	require.Eventually(t, func() bool { return in.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, out.Len())

	in.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("fetcher did not stop after input closed")
	}
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, uint64(2), stats.GetStats().BatchesAssembled)
}

func TestFetcher_RunMismatchIsFatal(t *testing.T) {
	f := batch.NewFetcher(2, tensor.Float32)
	in := queue.New[*transform.Sample](2)
	out := queue.New[*batch.Batch](1)
	ctx := context.Background()

	require.NoError(t, in.Put(ctx, sample(1, 1, 1, 0, 1)))
	require.NoError(t, in.Put(ctx, sample(2, 1, 1, 0, 1)))

	assert.Error(t, f.Run(ctx, in, out))
}
