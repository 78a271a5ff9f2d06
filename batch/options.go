package batch

import (
	"errors"
	"fmt"
	"strings"

	"gorgonia.org/tensor"

	"github.com/k9sret/dragonio/group"
	"github.com/k9sret/dragonio/source"
	"github.com/k9sret/dragonio/transform"
)

// Options configures a pipeline. The zero value is not usable; start from
// DefaultOptions and override what you need.
type Options struct {
	// Source is the location of the record store: a local SQLite file or an
	// s3://bucket/key URL. The library itself only reads it for Summary.
	Source string `yaml:"source" env:"SOURCE"`

	// MultipleNodes shards the store across every node of the group.
	MultipleNodes bool `yaml:"multiple_nodes" env:"MULTIPLE_NODES"`

	// Shuffle visits chunks in a random order each epoch. Shuffling also
	// shards across nodes.
	Shuffle bool `yaml:"shuffle" env:"SHUFFLE"`

	// NumChunks is the number of chunks the store is cut into when ChunkSize
	// is not positive.
	NumChunks int `yaml:"num_chunks" env:"NUM_CHUNKS"`

	// ChunkSize is the chunk size in megabytes, -1 to use NumChunks.
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`

	MeanValues        []float32 `yaml:"mean_values" env:"MEAN_VALUES" envSeparator:","`
	Scale             float32   `yaml:"scale" env:"SCALE"`
	Padding           int       `yaml:"padding" env:"PADDING"`
	FillValue         int       `yaml:"fill_value" env:"FILL_VALUE"`
	CropSize          int       `yaml:"crop_size" env:"CROP_SIZE"`
	Mirror            bool      `yaml:"mirror" env:"MIRROR"`
	ColorAugmentation bool      `yaml:"color_augmentation" env:"COLOR_AUGMENTATION"`
	MinRandomScale    float32   `yaml:"min_random_scale" env:"MIN_RANDOM_SCALE"`
	MaxRandomScale    float32   `yaml:"max_random_scale" env:"MAX_RANDOM_SCALE"`
	ForceColor        bool      `yaml:"force_color" env:"FORCE_COLOR"`

	// Phase is TRAIN or TEST. TEST disables random cropping.
	Phase string `yaml:"phase" env:"PHASE"`

	// BatchSize is the global batch size. With Partition set each node
	// produces BatchSize/groupSize samples per batch.
	BatchSize int    `yaml:"batch_size" env:"BATCH_SIZE"`
	DType     string `yaml:"dtype" env:"DTYPE"`
	Partition bool   `yaml:"partition" env:"PARTITION"`
	Prefetch  int    `yaml:"prefetch" env:"PREFETCH"`

	NumReaders int `yaml:"num_readers" env:"NUM_READERS"`

	// NumTransformers is the transformer count, or AutoTransformers.
	// Either way it is capped by MaxTransformers.
	NumTransformers int `yaml:"num_transformers" env:"NUM_TRANSFORMERS"`
	MaxTransformers int `yaml:"max_transformers" env:"MAX_TRANSFORMERS"`
	NumFetchers     int `yaml:"num_fetchers" env:"NUM_FETCHERS"`

	// Seed is the base seed of readers and transformers.
	Seed int64 `yaml:"seed" env:"SEED"`
}

// DefaultOptions returns the options every field of which has its default.
func DefaultOptions() Options {
	return Options{
		NumChunks:       source.DefaultNumChunks,
		ChunkSize:       -1,
		Scale:           1,
		FillValue:       DefaultFillValue,
		MinRandomScale:  1,
		MaxRandomScale:  1,
		Phase:           string(transform.PhaseTrain),
		BatchSize:       DefaultBatchSize,
		DType:           DefaultDType,
		Prefetch:        DefaultPrefetch,
		NumReaders:      DefaultNumReaders,
		NumTransformers: AutoTransformers,
		MaxTransformers: DefaultMaxTransformers,
		NumFetchers:     DefaultNumFetchers,
		Seed:            DefaultSeed,
	}
}

// ParseDType maps a dtype name onto a tensor element type. Names are matched
// case-insensitively.
func ParseDType(s string) (tensor.Dtype, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32":
		return tensor.Float32, nil
	case "float64":
		return tensor.Float64, nil
	case "uint8":
		return tensor.Uint8, nil
	default:
		return tensor.Dtype{}, fmt.Errorf("unknown dtype %q", s)
	}
}

// TransformConfig extracts the augmentation settings.
func (o Options) TransformConfig() (transform.Config, error) {
	phase, err := transform.ParsePhase(o.Phase)
	if err != nil {
		return transform.Config{}, err
	}
	return transform.Config{
		MeanValues:        o.MeanValues,
		Scale:             o.Scale,
		Padding:           o.Padding,
		FillValue:         o.FillValue,
		CropSize:          o.CropSize,
		Mirror:            o.Mirror,
		ColorAugmentation: o.ColorAugmentation,
		MinRandomScale:    o.MinRandomScale,
		MaxRandomScale:    o.MaxRandomScale,
		ForceColor:        o.ForceColor,
		Phase:             phase,
	}, nil
}

// Validate checks the options for a node in a group of groupSize nodes. All
// violations are reported at once in a *ConfigError.
func (o Options) Validate(groupSize int) error {
	var errs []error

	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", o.BatchSize))
	} else if o.Partition && groupSize > 0 && o.BatchSize%groupSize != 0 {
		errs = append(errs, fmt.Errorf("batch_size (%d) must be divisible by the group size (%d) when partitioning", o.BatchSize, groupSize))
	}
	if o.Prefetch <= 0 {
		errs = append(errs, fmt.Errorf("prefetch must be positive, got %d", o.Prefetch))
	}
	if o.NumReaders <= 0 {
		errs = append(errs, fmt.Errorf("num_readers must be positive, got %d", o.NumReaders))
	}
	if o.NumTransformers <= 0 && o.NumTransformers != AutoTransformers {
		errs = append(errs, fmt.Errorf("num_transformers must be positive or %d, got %d", AutoTransformers, o.NumTransformers))
	}
	if o.MaxTransformers <= 0 {
		errs = append(errs, fmt.Errorf("max_transformers must be positive, got %d", o.MaxTransformers))
	}
	if o.NumFetchers <= 0 {
		errs = append(errs, fmt.Errorf("num_fetchers must be positive, got %d", o.NumFetchers))
	}
	if o.ChunkSize <= 0 && o.NumChunks <= 0 {
		errs = append(errs, errors.New("either chunk_size or num_chunks must be positive"))
	}

	dtype, dtypeErr := ParseDType(o.DType)
	if dtypeErr != nil {
		errs = append(errs, dtypeErr)
	}

	cfg, err := o.TransformConfig()
	if err != nil {
		errs = append(errs, err)
	} else if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	if o.MinRandomScale != o.MaxRandomScale && o.CropSize == 0 {
		errs = append(errs, errors.New("a random scale range needs crop_size so batch samples share one shape"))
	}

	if dtypeErr == nil && dtype == tensor.Uint8 && (len(o.MeanValues) > 0 || o.Scale != 1) {
		errs = append(errs, errors.New("dtype uint8 cannot hold normalized values; drop mean_values and scale"))
	}

	if len(errs) > 0 {
		return &ConfigError{Err: errors.Join(errs...)}
	}
	return nil
}

// AutoNumTransformers returns the transformer count chosen from the enabled
// augmentations: one, plus one each for color augmentation, a non-degenerate
// random scale range and random cropping, capped by MaxTransformers.
func (o Options) AutoNumTransformers() int {
	n := 1
	if o.ColorAugmentation {
		n++
	}
	if o.MinRandomScale != o.MaxRandomScale {
		n++
	}
	if o.CropSize > 0 && strings.EqualFold(strings.TrimSpace(o.Phase), string(transform.PhaseTrain)) {
		n++
	}
	return min(n, o.MaxTransformers)
}

// Plan holds the parameters derived from Options for one node.
type Plan struct {
	Placement group.Placement

	NumReaders      int
	NumTransformers int
	NumFetchers     int

	// BatchSize is the number of samples in each batch this node emits.
	BatchSize int
	DType     tensor.Dtype

	// Partitions holds one partition per reader.
	Partitions []source.PartitionSpec

	// RecordQueueSize bounds the record and sample queues; BatchQueueSize
	// bounds the batch queue.
	RecordQueueSize int
	BatchQueueSize  int
}

// Plan validates the options and derives the parameters of the node placed
// at p.
func (o Options) Plan(p group.Placement) (Plan, error) {
	if p.GroupSize <= 0 {
		p.GroupSize = 1
	}
	if err := o.Validate(p.GroupSize); err != nil {
		return Plan{}, err
	}

	dtype, err := ParseDType(o.DType)
	if err != nil {
		return Plan{}, &ConfigError{Err: err}
	}

	numTransformers := o.NumTransformers
	if numTransformers == AutoTransformers {
		numTransformers = o.AutoNumTransformers()
	}
	numTransformers = min(numTransformers, o.MaxTransformers)

	batchSize := o.BatchSize
	if o.Partition {
		batchSize /= p.GroupSize
	}

	partitions := make([]source.PartitionSpec, o.NumReaders)
	for i := range partitions {
		spec := source.PartitionSpec{
			NumParts:  o.NumReaders,
			PartIdx:   i,
			GroupSize: p.GroupSize,
			LocalRank: p.LocalRank,
		}
		if o.MultipleNodes || o.Shuffle {
			spec.NumParts = o.NumReaders * p.GroupSize
			spec.PartIdx = i + p.LocalRank*o.NumReaders
		}
		partitions[i] = spec
	}

	return Plan{
		Placement:       p,
		NumReaders:      o.NumReaders,
		NumTransformers: numTransformers,
		NumFetchers:     o.NumFetchers,
		BatchSize:       batchSize,
		DType:           dtype,
		Partitions:      partitions,
		RecordQueueSize: o.Prefetch * o.NumReaders * batchSize,
		BatchQueueSize:  o.Prefetch * o.NumReaders,
	}, nil
}
