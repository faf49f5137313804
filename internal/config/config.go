// Package config parses the Redlite server's CLI flags and optional config
// file into a flat Options struct, in the style of
// canonical-redis_exporter/exporter.Options: one struct, no nested builder
// hierarchy, sensible zero-value defaults applied up front.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Backend selects the storage engine family. Only "sqlite" is implemented;
// the flag exists so a future backend does not require a wire-incompatible
// CLI.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
)

// Storage selects on-disk vs in-memory persistence.
type Storage string

const (
	StorageFile   Storage = "file"
	StorageMemory Storage = "memory"
)

// Options is the fully resolved server configuration.
type Options struct {
	Backend Backend `yaml:"backend"`
	Storage Storage `yaml:"storage"`
	DBPath  string  `yaml:"db"`
	Addr    string  `yaml:"addr"`

	CacheMB int64 `yaml:"cache_mb"`

	// SweepIntervalMS and SweepBatch tune the expiration sweeper (spec.md §4.7).
	SweepIntervalMS int `yaml:"sweep_interval_ms"`
	SweepBatch      int `yaml:"sweep_batch"`

	// NotifierBufferSize is the per-key fan-out channel buffer (spec.md §4.8).
	NotifierBufferSize int `yaml:"notifier_buffer_size"`

	// IdleTimeoutSeconds is the connection idle timeout (spec.md §5); 0 disables it.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`

	ConfigFile string `yaml:"-"`
}

// Default returns the zero-configuration defaults described in spec.md §6.
func Default() Options {
	return Options{
		Backend:            BackendSQLite,
		Storage:            StorageMemory,
		Addr:               "127.0.0.1:6379",
		CacheMB:            64,
		SweepIntervalMS:    100,
		SweepBatch:         20,
		NotifierBufferSize: 128,
		IdleTimeoutSeconds: 0,
	}
}

// Parse builds Options from argv, applying defaults first, an optional
// --config YAML file second, and explicit flags last (flags always win).
func Parse(argv []string) (Options, error) {
	opts := Default()

	fs := pflag.NewFlagSet("redlite-server", pflag.ContinueOnError)

	backend := fs.String("backend", string(opts.Backend), "storage backend family (sqlite)")
	storage := fs.String("storage", string(opts.Storage), "storage mode (file|memory)")
	dbPath := fs.String("db", opts.DBPath, "file path for file storage; ignored for memory storage")
	addr := fs.String("addr", opts.Addr, "listen address host:port")
	cacheMB := fs.String("cache-mb", "", "page-cache size, e.g. 64 or 256MB (default 64MB)")
	configFile := fs.String("config", "", "optional YAML config file; explicit flags override it")
	sweepMS := fs.Int("sweep-interval-ms", opts.SweepIntervalMS, "expiration sweeper cadence in milliseconds")
	sweepBatch := fs.Int("sweep-batch", opts.SweepBatch, "max keys the sweeper deletes per pass")
	notifierBuf := fs.Int("notifier-buffer", opts.NotifierBufferSize, "per-key notifier channel buffer size")
	idleTimeout := fs.Int("idle-timeout-seconds", opts.IdleTimeoutSeconds, "connection idle timeout in seconds (0 disables)")

	if err := fs.Parse(argv); err != nil {
		return Options{}, err
	}

	if *configFile != "" {
		fileOpts, err := loadFile(*configFile)
		if err != nil {
			return Options{}, fmt.Errorf("load config file %s: %w", *configFile, err)
		}
		opts = fileOpts
	}

	// Explicit flags override whatever the config file set, matching pflag's
	// own "last one wins" convention for repeated sources.
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "backend":
			opts.Backend = Backend(*backend)
		case "storage":
			opts.Storage = Storage(*storage)
		case "db":
			opts.DBPath = *dbPath
		case "addr":
			opts.Addr = *addr
		case "sweep-interval-ms":
			opts.SweepIntervalMS = *sweepMS
		case "sweep-batch":
			opts.SweepBatch = *sweepBatch
		case "notifier-buffer":
			opts.NotifierBufferSize = *notifierBuf
		case "idle-timeout-seconds":
			opts.IdleTimeoutSeconds = *idleTimeout
		}
	})

	if *cacheMB != "" {
		// Bare integers (e.g. "64") are megabytes, matching spec.md's
		// `--cache-mb N` contract; datasize would read a unit-less string
		// as bytes, so only strings with a unit suffix go through it.
		if n, err := strconv.ParseInt(*cacheMB, 10, 64); err == nil {
			opts.CacheMB = n
		} else {
			var sz datasize.ByteSize
			if err := sz.UnmarshalText([]byte(*cacheMB)); err != nil {
				return Options{}, fmt.Errorf("invalid --cache-mb %q: %w", *cacheMB, err)
			}
			opts.CacheMB = int64(sz.MBytes())
		}
	}

	if opts.Backend != BackendSQLite {
		return Options{}, fmt.Errorf("unsupported --backend %q", opts.Backend)
	}
	if opts.Storage != StorageFile && opts.Storage != StorageMemory {
		return Options{}, fmt.Errorf("unsupported --storage %q", opts.Storage)
	}
	if opts.Storage == StorageFile && opts.DBPath == "" {
		return Options{}, fmt.Errorf("--db is required when --storage=file")
	}

	return opts, nil
}

func loadFile(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
