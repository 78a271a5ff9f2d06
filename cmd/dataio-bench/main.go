// Command dataio-bench runs the batch pipeline over a record store and
// reports how fast batches come out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/k9sret/dragonio/batch"
	"github.com/k9sret/dragonio/config"
	"github.com/k9sret/dragonio/group"
	"github.com/k9sret/dragonio/store"
)

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		log.Fatalf("invalid log level %q: %v", s, err)
	}
	return level
}

func resolveSource(ctx context.Context, cfg config.Config) (string, error) {
	if _, _, ok := store.ParseS3Source(cfg.Pipeline.Source); !ok {
		return cfg.Pipeline.Source, nil
	}
	d, err := store.NewDownloader(ctx, cfg.S3)
	if err != nil {
		return "", err
	}
	return d.Resolve(ctx, cfg.Pipeline.Source, cfg.CacheDir)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML pipeline config")
	envFile := flag.String("env", ".env", "path to load env from")
	source := flag.String("source", "", "record store, overrides the config")
	numBatches := flag.Int("batches", 100, "number of batches to pull")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)})))

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("error loading env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if *source != "" {
		cfg.Pipeline.Source = *source
	}
	if cfg.Pipeline.Source == "" {
		log.Fatalf("no source given; set -source, source in the config or DATAIO_SOURCE")
	}

	membership, err := group.FromEnv(config.EnvPrefix)
	if err != nil {
		log.Fatalf("error reading group membership: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path, err := resolveSource(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to resolve source %s: %v", cfg.Pipeline.Source, err)
	}

	db, err := store.OpenSQLiteExisting(path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()
	slog.Info("opened record store", "path", path, "records", db.Len(), "bytes", db.Size())

	stats := batch.NewBasicStatsCollector()
	pipeline, err := batch.Open(ctx, cfg.Pipeline, db,
		batch.WithLogger(batch.NewSlogLogger(slog.Default())),
		batch.WithStats(stats),
		batch.WithGroup(membership),
	)
	if err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	defer pipeline.Shutdown()

	bar := progressbar.NewOptions(*numBatches,
		progressbar.OptionSetDescription("batches"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	start := time.Now()
	got := 0
	for ; got < *numBatches; got++ {
		b, err := pipeline.Get(ctx)
		if err != nil {
			if errors.Is(err, batch.ErrPipelineClosed) || ctx.Err() != nil {
				slog.Warn("interrupted", "batches", got)
				break
			}
			pipeline.Shutdown()
			log.Fatalf("pipeline failed: %v", err)
		}
		if got == 0 {
			slog.Info("first batch", "images", b.Images.Shape(), "labels", b.Labels.Shape())
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	elapsed := time.Since(start)

	pipeline.Shutdown()

	s := pipeline.Stats()
	plan := pipeline.Plan()
	fmt.Printf("batches:           %d in %v\n", got, elapsed.Round(time.Millisecond))
	if got > 0 && elapsed > 0 {
		fmt.Printf("throughput:        %.1f batches/s, %.1f samples/s\n",
			float64(got)/elapsed.Seconds(), float64(got*plan.BatchSize)/elapsed.Seconds())
	}
	fmt.Printf("records read:      %d\n", s.RecordsRead)
	fmt.Printf("records augmented: %d\n", s.RecordsTransformed)
	fmt.Printf("batches assembled: %d (avg %v, max %v)\n", s.BatchesAssembled, s.AverageAssemblyTime(), s.MaxAssemblyTime)
	fmt.Printf("avg wait in Get:   %v\n", s.AverageWaitTime())
}
