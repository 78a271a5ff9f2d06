package batch

// Defaults applied by DefaultOptions.
const (
	// DefaultBatchSize is the number of samples per batch.
	DefaultBatchSize = 100

	// DefaultPrefetch scales every queue. The record queue holds
	// Prefetch*NumReaders*BatchSize records and the batch queue holds
	// Prefetch*NumReaders batches.
	DefaultPrefetch = 5

	// DefaultNumReaders is the number of record readers.
	DefaultNumReaders = 1

	// AutoTransformers asks the pipeline to choose the transformer count from
	// the enabled augmentations.
	AutoTransformers = -1

	// DefaultMaxTransformers caps the automatic transformer count.
	DefaultMaxTransformers = 3

	// DefaultNumFetchers is the number of batch fetchers.
	DefaultNumFetchers = 1

	// DefaultFillValue is the padding fill.
	DefaultFillValue = 127

	// DefaultSeed is the base seed of every worker.
	DefaultSeed = 3

	// DefaultDType is the element type of image batches.
	DefaultDType = "float32"
)
