package piramid

import (
	"time"

	"github.com/piramidhq/piramid/collection"
)

// Options configures a DB.
type Options struct {
	collectionDefaults collection.Options
	logger             *Logger
	metrics            collection.Metrics
	diskFloorBytes     uint64
	diskPollInterval   time.Duration
	lowSpaceReadOnly   bool
}

// Option mutates Options.
type Option func(o *Options)

func applyOptions(fns []Option) Options {
	opts := Options{
		collectionDefaults: collection.DefaultOptions(),
		logger:             NewLogger(nil),
		metrics:            collection.NoopMetrics{},
		diskPollInterval:   30 * time.Second,
		lowSpaceReadOnly:   true,
	}
	for _, fn := range fns {
		fn(&opts)
	}
	return opts
}

// WithLogger sets the process-wide logger.
func WithLogger(l *Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector handed to every collection.
func WithMetrics(m collection.Metrics) Option {
	return func(o *Options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCollectionDefaults sets the defaults applied to every collection
// before per-call overrides.
func WithCollectionDefaults(fn func(o *collection.Options)) Option {
	return func(o *Options) {
		fn(&o.collectionDefaults)
	}
}

// WithDiskFloor enables the low-space monitor: below floor free bytes every
// collection turns read-only until space recovers.
func WithDiskFloor(floorBytes uint64) Option {
	return func(o *Options) {
		o.diskFloorBytes = floorBytes
	}
}

// WithDiskPollInterval tunes the low-space poll period.
func WithDiskPollInterval(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.diskPollInterval = d
		}
	}
}

// WithLowSpaceReadOnly toggles the automatic read-only transition.
func WithLowSpaceReadOnly(enabled bool) Option {
	return func(o *Options) {
		o.lowSpaceReadOnly = enabled
	}
}
