package assetline

import (
	"log/slog"

	"github.com/tamberlane/assetline/resman"
)

type options struct {
	concurrency     int
	maxUnits        int
	maxInflight     int
	readBytesPerSec int
	factories       resman.Factories
	bgDecompress    bool
	bgThreshold     int64
	chunkSize       int
	logger          *Logger
}

// Option configures Runtime constructor behavior.
//
// Today options primarily exist to avoid exploding the API surface
// (e.g. transport-specific constructor variants).
type Option func(*options)

// WithConcurrency configures the number of background decompression
// workers. Defaults to 1.
//
// One or two workers is enough for most titles: the queue exists to keep
// decompression off the simulation goroutine, not to saturate every core.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithMaxUnits caps how many decompression units may exist at once. 0
// means unbounded growth.
func WithMaxUnits(n int) Option {
	return func(o *options) {
		o.maxUnits = n
	}
}

// WithMaxInflightReads configures the number of concurrent read slots on
// the shared reader.
func WithMaxInflightReads(n int) Option {
	return func(o *options) {
		o.maxInflight = n
	}
}

// WithReadThrottle caps aggregate read throughput in bytes per second.
// 0 means unlimited. Useful for soaking install-time loads without
// starving a running game.
func WithReadThrottle(bytesPerSec int) Option {
	return func(o *options) {
		o.readBytesPerSec = bytesPerSec
	}
}

// WithFactories configures the default asset factories handed to managers
// created by NewManager.
func WithFactories(f resman.Factories) Option {
	return func(o *options) {
		o.factories = f
	}
}

// WithBackgroundDecompression enables background decompression for
// compressed entries whose stored size is at least threshold bytes.
// threshold <= 0 selects the default.
func WithBackgroundDecompression(threshold int64) Option {
	return func(o *options) {
		o.bgDecompress = true
		o.bgThreshold = threshold
	}
}

// WithChunkSize configures the read granularity of background
// decompression.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := assetline.NewJSONLogger(slog.LevelInfo)
//	rt, _ := assetline.Open(assetline.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		concurrency: 1,
		logger:      NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
