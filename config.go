package blake3pool

import (
	"fmt"
	"os"
	"time"

	"github.com/naoina/toml"

	"github.com/parahash/blake3pool/workerpool"
)

// Options configures a Hasher. The zero value is invalid; use
// DefaultOptions or LoadOptions to get a populated one, then override
// individual fields.
type Options struct {
	// WorkerCount is the number of worker goroutines to run. Must be >= 1.
	WorkerCount int `toml:"worker_count"`

	// MaxLeafSize is the maximum number of bytes any single leaf
	// subtree may cover. Must be a positive multiple of 1024.
	MaxLeafSize uint64 `toml:"max_leaf_size"`

	// MaxInflightPerWorker caps how many tasks may be outstanding on
	// one worker at once. Must be >= 1.
	MaxInflightPerWorker int `toml:"max_inflight_per_worker"`

	// WorkerInitTimeout bounds how long a worker has to become ready.
	WorkerInitTimeout time.Duration `toml:"worker_init_timeout"`

	// TaskTimeout bounds how long a dispatched hash task has to complete.
	TaskTimeout time.Duration `toml:"task_timeout"`

	// EnableTracing is a flag for callers deciding whether to call
	// EnableJaegerTracing. The Hasher does not read it: HashFile always
	// opens one span per call on the global opentracing tracer (a no-op
	// unless a tracer is installed), and no span is opened per task.
	EnableTracing bool `toml:"enable_tracing"`

	// EnableMetricsExport is a flag for callers deciding whether to call
	// SetupMetricsExport. The Hasher does not read it and never starts
	// an InfluxDB export by itself.
	EnableMetricsExport bool `toml:"enable_metrics_export"`
}

// DefaultOptions returns a populated, valid Options.
func DefaultOptions() Options {
	return Options{
		WorkerCount:          6,
		MaxLeafSize:          1 << 20, // 1 MiB
		MaxInflightPerWorker: 2,
		WorkerInitTimeout:    workerpool.DefaultWorkerInitTimeout,
		TaskTimeout:          workerpool.DefaultTaskTimeout,
	}
}

// Validate checks Options for the invariants HashFile and the worker
// pool depend on, returning ErrInvalidOptions wrapped with the
// specific reason when violated.
func (o Options) Validate() error {
	if o.WorkerCount < 1 {
		return fmt.Errorf("%w: worker_count must be >= 1, got %d", ErrInvalidOptions, o.WorkerCount)
	}
	if o.MaxLeafSize == 0 || o.MaxLeafSize%1024 != 0 {
		return fmt.Errorf("%w: max_leaf_size must be a positive multiple of 1024, got %d", ErrInvalidOptions, o.MaxLeafSize)
	}
	if o.MaxInflightPerWorker < 1 {
		return fmt.Errorf("%w: max_inflight_per_worker must be >= 1, got %d", ErrInvalidOptions, o.MaxInflightPerWorker)
	}
	if o.WorkerInitTimeout <= 0 {
		return fmt.Errorf("%w: worker_init_timeout must be positive", ErrInvalidOptions)
	}
	if o.TaskTimeout <= 0 {
		return fmt.Errorf("%w: task_timeout must be positive", ErrInvalidOptions)
	}
	return nil
}

// LoadOptions decodes a TOML file at path on top of DefaultOptions,
// the same toml-on-top-of-defaults pattern the teacher's api.Config
// loading follows, and validates the result.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	f, err := os.Open(path)
	if err != nil {
		return Options{}, fmt.Errorf("blake3pool: open options file: %w", err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&opts); err != nil {
		return Options{}, fmt.Errorf("blake3pool: decode options file: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
