// Package config loads pipeline options for the command line tools.
//
// Options are layered: batch.DefaultOptions, then an optional YAML file, then
// environment variables prefixed with DATAIO_. A .env file in the working
// directory, if present, is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/k9sret/dragonio/batch"
	"github.com/k9sret/dragonio/store"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DATAIO_"

// Config is everything the binaries need.
type Config struct {
	Pipeline batch.Options

	// S3 holds the credentials used to fetch s3:// sources. It is read from
	// the unprefixed AWS variables.
	S3 store.S3Config

	// CacheDir is where downloaded stores are kept.
	CacheDir string
}

type envPaths struct {
	CacheDir string `env:"CACHE_DIR" envDefault:".cache/dataio"`
}

// LoadDotEnv loads files into the environment without overriding variables
// that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
		slog.Debug("loaded environment file", "path", f)
	}
	return nil
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	cfg := Config{Pipeline: batch.DefaultOptions()}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &cfg.Pipeline); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg.Pipeline, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	var paths envPaths
	if err := env.ParseWithOptions(&paths, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.CacheDir = paths.CacheDir
	if err := env.Parse(&cfg.S3); err != nil {
		return Config{}, fmt.Errorf("failed to parse S3 environment: %w", err)
	}

	return cfg, nil
}
