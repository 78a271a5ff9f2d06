// Command dataio-pack builds a SQLite record store from a directory of
// images laid out as <src>/<label>/<file>. Label directories are numbered in
// sorted order.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"github.com/k9sret/dragonio/config"
	"github.com/k9sret/dragonio/datum"
	"github.com/k9sret/dragonio/store"
)

const appendBatch = 512

type entry struct {
	path  string
	label int32
}

func listImages(src string) ([]entry, []string, error) {
	dirs, err := os.ReadDir(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", src, err)
	}

	var labels []string
	for _, d := range dirs {
		if d.IsDir() {
			labels = append(labels, d.Name())
		}
	}
	sort.Strings(labels)

	var entries []entry
	for i, name := range labels {
		files, err := os.ReadDir(filepath.Join(src, name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list %s: %w", name, err)
		}
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if f.IsDir() || (ext != ".png" && ext != ".jpg" && ext != ".jpeg") {
				continue
			}
			entries = append(entries, entry{path: filepath.Join(src, name, f.Name()), label: int32(i)})
		}
	}
	return entries, labels, nil
}

func encode(e entry, encoded bool) ([]byte, error) {
	f, err := os.Open(e.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", e.path, err)
	}

	d, err := datum.FromImage(img, e.label, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s: %w", e.path, err)
	}
	return datum.Marshal(d), nil
}

func main() {
	src := flag.String("src", "", "directory of <label>/<image> files")
	out := flag.String("out", "records.db", "path of the SQLite store to write")
	encoded := flag.Bool("encoded", false, "store PNG encoded images instead of raw pixels")
	envFile := flag.String("env", "", "path to load env from")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadDotEnv(*envFile); err != nil {
			log.Fatalf("error loading env file: %v", err)
		}
	}
	if *src == "" {
		log.Fatalf("-src must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	entries, labels, err := listImages(*src)
	if err != nil {
		log.Fatalf("%v", err)
	}
	slog.Info("packing images", "src", *src, "out", *out, "images", len(entries), "labels", len(labels))

	db, err := store.OpenSQLite(*out)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription("packing"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	pending := make([][]byte, 0, appendBatch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := db.Append(ctx, pending); err != nil {
			log.Fatalf("failed to write records: %v", err)
		}
		pending = pending[:0]
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			slog.Warn("interrupted, keeping records written so far")
			break
		}
		record, err := encode(e, *encoded)
		if err != nil {
			log.Fatalf("%v", err)
		}
		pending = append(pending, record)
		if len(pending) == appendBatch {
			flush()
		}
		_ = bar.Add(1)
	}
	if ctx.Err() == nil {
		flush()
	}
	_ = bar.Finish()

	for i, name := range labels {
		fmt.Printf("%d\t%s\n", i, name)
	}
	slog.Info("store written", "path", *out, "records", db.Len(), "bytes", db.Size())
}
