package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/k9sret/dragonio/group"
	"github.com/k9sret/dragonio/queue"
	"github.com/k9sret/dragonio/source"
	"github.com/k9sret/dragonio/store"
	"github.com/k9sret/dragonio/transform"
)

// Option customizes an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger. Passing nil keeps the NoOpLogger.
func WithLogger(logger Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithStats sets the stats collector. Passing nil keeps the
// NoOpStatsCollector.
func WithStats(stats StatsCollector) Option {
	return func(a *Assembler) {
		if stats != nil {
			a.stats = stats
		}
	}
}

// WithGroup sets the distributed group membership. Without it the node is
// alone in a group of one.
func WithGroup(m group.Membership) Option {
	return func(a *Assembler) {
		a.membership = m
	}
}

// stage is one set of identical workers.
type stage struct {
	name   string
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Assembler runs the three pipeline stages and hands out batches:
//
//	Reader ×R -> records -> Transformer ×T -> samples -> Fetcher ×F -> batches -> Get
//
// Every stage blocks on its bounded queues, which is the only backpressure.
// A worker error is fatal: the pipeline stops and Get returns the error.
type Assembler struct {
	id         uuid.UUID
	opts       Options
	logger     Logger
	stats      StatsCollector
	membership group.Membership

	mu       sync.Mutex
	started  bool
	shutdown bool
	err      error
	plan     Plan

	records *queue.Queue[[]byte]
	samples *queue.Queue[*transform.Sample]
	batches *queue.Queue[*Batch]

	readers      *stage
	transformers *stage
	fetchers     *stage

	readerErrors    atomic.Uint64
	transformErrors atomic.Uint64
	fetchErrors     atomic.Uint64

	stopAfter    func() bool
	shutdownOnce sync.Once
}

// New creates an unstarted Assembler.
func New(opts Options, options ...Option) *Assembler {
	a := &Assembler{
		id:     uuid.New(),
		opts:   opts,
		logger: &NoOpLogger{},
		stats:  &NoOpStatsCollector{},
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// Open creates an Assembler and starts it on s.
func Open(ctx context.Context, opts Options, s store.Store, options ...Option) (*Assembler, error) {
	a := New(opts, options...)
	if err := a.Start(ctx, s); err != nil {
		return nil, err
	}
	return a, nil
}

// ID returns the pipeline's unique id.
func (a *Assembler) ID() uuid.UUID {
	return a.id
}

// Plan returns the derived parameters. It is zero before Start.
func (a *Assembler) Plan() Plan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plan
}

// Start validates the options, builds the queues and starts readers,
// transformers and fetchers, in that order. Configuration errors are returned
// before any worker starts. Cancelling ctx shuts the pipeline down.
func (a *Assembler) Start(ctx context.Context, s store.Store) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.shutdown {
		return ErrPipelineClosed
	}
	if a.started {
		return ErrAlreadyStarted
	}
	if s == nil || s.Len() == 0 {
		return &ConfigError{Err: errors.New("record store is empty")}
	}

	placement, err := group.Resolve(a.membership)
	if err != nil {
		return &ConfigError{Err: err}
	}

	plan, err := a.opts.Plan(placement)
	if err != nil {
		return err
	}

	readers := make([]*source.Reader, plan.NumReaders)
	for i, spec := range plan.Partitions {
		readers[i], err = source.NewReader(s, spec, source.Options{
			Shuffle:   a.opts.Shuffle,
			NumChunks: a.opts.NumChunks,
			ChunkSize: a.opts.ChunkSize,
			Seed:      a.opts.Seed + int64(spec.PartIdx),
		})
		if err != nil {
			return fmt.Errorf("failed to create reader %d: %w", i, err)
		}
	}

	cfg, err := a.opts.TransformConfig()
	if err != nil {
		return &ConfigError{Err: err}
	}
	transformers := make([]*transform.Transformer, plan.NumTransformers)
	for i := range transformers {
		seed := transform.WorkerSeed(a.opts.Seed, i, placement.LocalRank, plan.NumTransformers)
		transformers[i], err = transform.New(cfg, seed)
		if err != nil {
			return &ConfigError{Err: err}
		}
	}

	a.plan = plan
	a.records = queue.New[[]byte](plan.RecordQueueSize)
	a.samples = queue.New[*transform.Sample](plan.RecordQueueSize)
	a.batches = queue.New[*Batch](plan.BatchQueueSize)
	a.started = true

	base := context.WithoutCancel(ctx)

	a.readers = a.startStage(base, "reader", len(readers), func(ctx context.Context, i int) error {
		return readers[i].Run(ctx, a.records)
	}, func(i int, err error) error {
		a.readerErrors.Add(1)
		a.stats.RecordReaderError()
		return &ReaderError{Worker: i, Err: err}
	})

	a.transformers = a.startStage(base, "transformer", len(transformers), func(ctx context.Context, i int) error {
		return transformers[i].Run(ctx, a.records, a.samples)
	}, func(i int, err error) error {
		a.transformErrors.Add(1)
		a.stats.RecordTransformError()
		return &TransformError{Worker: i, Err: err}
	})

	a.fetchers = a.startStage(base, "fetcher", plan.NumFetchers, func(ctx context.Context, i int) error {
		return NewFetcher(plan.BatchSize, plan.DType).WithStats(a.stats).Run(ctx, a.samples, a.batches)
	}, func(i int, err error) error {
		a.fetchErrors.Add(1)
		a.stats.RecordFetchError()
		return &FetchError{Worker: i, Err: err}
	})

	a.stopAfter = context.AfterFunc(ctx, a.Shutdown)

	if placement.LocalRank == 0 {
		a.logger.Info("%s", a.summary())
	}

	return nil
}

// startStage launches n workers in their own errgroup. A failing worker
// fails the whole pipeline.
func (a *Assembler) startStage(parent context.Context, name string, n int,
	run func(ctx context.Context, i int) error, wrap func(i int, err error) error) *stage {
	ctx, cancel := context.WithCancel(parent)
	g := &errgroup.Group{}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			a.logger.Debug("pipeline %s: %s %d started", a.id, name, i)
			if err := run(ctx, i); err != nil {
				err = wrap(i, err)
				a.logger.Error("pipeline %s: %v", a.id, err)
				a.fail(err)
				return err
			}
			a.logger.Debug("pipeline %s: %s %d stopped", a.id, name, i)
			return nil
		})
	}

	return &stage{name: name, cancel: cancel, group: g}
}

// fail records the first worker error and stops every stage without waiting.
func (a *Assembler) fail(err error) {
	a.mu.Lock()
	if a.err == nil {
		a.err = err
	}
	stages := []*stage{a.fetchers, a.transformers, a.readers}
	a.mu.Unlock()

	for _, st := range stages {
		if st != nil {
			st.cancel()
		}
	}
	a.batches.Close()
	a.samples.Close()
	a.records.Close()
}

// Get returns the next batch, blocking until one is ready. It returns the
// first worker error once the pipeline has failed, and ErrPipelineClosed
// after Shutdown. ctx only bounds this call.
func (a *Assembler) Get(ctx context.Context) (*Batch, error) {
	a.mu.Lock()
	started, shutdown := a.started, a.shutdown
	a.mu.Unlock()
	if shutdown {
		return nil, ErrPipelineClosed
	}
	if !started {
		return nil, ErrNotStarted
	}

	start := time.Now()
	b, err := a.batches.Get(ctx)
	if err == nil {
		a.stats.RecordBatchConsumed(time.Since(start))
		return b, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return nil, ErrPipelineClosed
	}
	if a.err != nil {
		return nil, a.err
	}
	return nil, ErrPipelineClosed
}

// Err returns the first worker error, if any.
func (a *Assembler) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Shutdown stops fetchers, then transformers, then readers, waiting for each
// stage to exit before stopping the next. It is safe to call more than once
// and from several goroutines; every call returns after the pipeline stopped.
func (a *Assembler) Shutdown() {
	a.mu.Lock()
	a.shutdown = true
	started := a.started
	a.mu.Unlock()
	if !started {
		return
	}

	a.shutdownOnce.Do(func() {
		if a.stopAfter != nil {
			a.stopAfter()
		}

		stop := func(st *stage, q interface{ Close() }) {
			q.Close()
			st.cancel()
			if err := st.group.Wait(); err != nil {
				a.logger.Debug("pipeline %s: %s stage exited with %v", a.id, st.name, err)
			}
			a.logger.Debug("pipeline %s: %s stage stopped", a.id, st.name)
		}

		stop(a.fetchers, a.batches)
		stop(a.transformers, a.samples)
		stop(a.readers, a.records)

		a.logger.Info("pipeline %s: shut down", a.id)
	})
}

// Stats returns a snapshot of the collector's statistics merged with the
// queue counters.
func (a *Assembler) Stats() Stats {
	s := a.stats.GetStats()
	s.ReaderErrors = a.readerErrors.Load()
	s.TransformErrors = a.transformErrors.Load()
	s.FetchErrors = a.fetchErrors.Load()

	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return s
	}

	s.RecordsRead = a.records.Puts()
	s.RecordsTransformed = a.samples.Puts()
	s.RecordQueueLen = a.records.Len()
	s.SampleQueueLen = a.samples.Len()
	s.BatchQueueLen = a.batches.Len()
	return s
}

// Summary describes the running configuration.
func (a *Assembler) Summary() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary()
}

func (a *Assembler) summary() string {
	p := a.plan
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %s: %d workers\n", a.id, p.NumReaders+p.NumTransformers+p.NumFetchers)
	fmt.Fprintf(&b, "  source:         %s\n", a.opts.Source)
	fmt.Fprintf(&b, "  queue_size:     %d\n", a.opts.Prefetch)
	fmt.Fprintf(&b, "  n_readers:      %d\n", p.NumReaders)
	fmt.Fprintf(&b, "  n_transformers: %d\n", p.NumTransformers)
	fmt.Fprintf(&b, "  n_fetchers:     %d\n", p.NumFetchers)
	fmt.Fprintf(&b, "  batch_size:     %d\n", p.BatchSize)
	fmt.Fprintf(&b, "  dtype:          %v\n", p.DType)
	fmt.Fprintf(&b, "  group:          rank %d, %d of %d", p.Placement.GlobalRank, p.Placement.LocalRank, p.Placement.GroupSize)
	return b.String()
}
