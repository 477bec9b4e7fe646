package fieldarchive

import (
	"log/slog"

	"github.com/meigma/fieldarchive/backend"
	"github.com/meigma/fieldarchive/codec"
)

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger. Nil discards log output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithProgress sets a callback for open, save, and verify progress.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Catalog) {
		c.progress = fn
	}
}

// WithCodec sets the payload codec (default LZS).
func WithCodec(cd codec.Codec) Option {
	return func(c *Catalog) {
		c.codec = cd
	}
}

// WithCache shares a payload cache with other catalogs.
func WithCache(pc *PayloadCache) Option {
	return func(c *Catalog) {
		c.cache = pc
	}
}

// WithVerifyWorkers sets how many entries Verify decodes at once.
// Values < 1 use GOMAXPROCS.
func WithVerifyWorkers(n int) Option {
	return func(c *Catalog) {
		c.verifyWorkers = n
	}
}

// WithVerifyMemory bounds the stored bytes Verify holds in flight.
// Set limit to 0 to disable the limit.
func WithVerifyMemory(limit int64) Option {
	return func(c *Catalog) {
		c.verifyMemory = limit
	}
}

// WithBackendOptions passes options to the backend chosen by OpenPath.
func WithBackendOptions(opts ...backend.Option) Option {
	return func(c *Catalog) {
		c.backendOpts = append(c.backendOpts, opts...)
	}
}
