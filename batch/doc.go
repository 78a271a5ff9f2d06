// Package batch assembles training batches from a record store.
//
// The main type is Assembler, created with New or Open. It runs a
// three-stage pipeline connected by bounded queues:
//
//	Reader ×R -> records -> Transformer ×T -> samples -> Fetcher ×F -> batches -> Get
//
// Readers (package source) stream their partition of the store forever,
// transformers (package transform) decode and augment records, and fetchers
// stack exactly BatchSize samples into a Batch of tensors. Full queues block
// the stage that feeds them, which is the only flow control.
//
// Options are validated before any worker starts. The derived Plan decides
// the transformer count, the per-node batch size and the partition of each
// reader:
//
//   - With MultipleNodes or Shuffle, the store is split into
//     NumReaders*groupSize partitions and reader i of the node with local
//     rank r owns partition i + r*NumReaders.
//   - Otherwise each node splits the whole store between its own readers.
//   - With Partition, each node emits BatchSize/groupSize samples per batch.
//
// A failing worker stops the pipeline and its error is returned by every
// later Get. Shutdown stops fetchers, then transformers, then readers, and
// Get returns ErrPipelineClosed afterwards.
//
// With one worker per stage the sequence of batches is a pure function of the
// store, the options and Seed. More workers interleave non-deterministically.
package batch
