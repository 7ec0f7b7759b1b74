package collection

import (
	"time"

	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/index/hnsw"
	"github.com/piramidhq/piramid/index/ivf"
	"github.com/piramidhq/piramid/quantization"
	"github.com/piramidhq/piramid/wal"
)

// Options configures a collection. Creation-time facts (metric, index
// policy, quantization, WAL policy) are recorded in the descriptor; on
// reopen the descriptor wins over anything passed here.
type Options struct {
	// Metric is the distance metric, fixed at create time.
	Metric distance.Metric

	// Dim fixes the dimensionality up front; zero defers to the first
	// successful insert.
	Dim int

	// IndexPolicy selects the ANN variant (auto resolves via the selector).
	IndexPolicy index.Policy

	// Quantization selects the vector storage codec.
	Quantization quantization.Kind

	// WAL carries the durability configuration.
	WAL wal.Options

	// Mode selects the distance kernel implementation.
	Mode distance.Mode

	// NormalizeVectors L2-normalizes stored and query vectors for cosine
	// collections. Enabled by default.
	NormalizeVectors bool

	// FilterOverfetch multiplies k on filtered searches to leave room for
	// post-filter drops. A per-query override wins when provided.
	FilterOverfetch int

	// LockTimeout bounds lock acquisition.
	LockTimeout time.Duration

	// GrowthFactor controls data file growth (floored internally).
	GrowthFactor float64

	// CacheBytes caps the decoded-document cache; zero disables it.
	CacheBytes int64

	// HNSW tunes the graph variant when selected.
	HNSW hnsw.Options

	// IVF tunes the inverted-file variant when selected.
	IVF ivf.Options

	// Logger receives structured events; nil discards them.
	Logger *Logger

	// Metrics receives operation timings; nil discards them.
	Metrics Metrics
}

// DefaultOptions returns the option defaults.
func DefaultOptions() Options {
	return Options{
		Metric:           distance.MetricCosine,
		IndexPolicy:      index.PolicyAuto,
		Quantization:     quantization.KindNone,
		WAL:              wal.DefaultOptions,
		Mode:             distance.ModeAuto,
		NormalizeVectors: true,
		FilterOverfetch:  10,
		LockTimeout:      5 * time.Second,
		GrowthFactor:     2.0,
		HNSW:             hnsw.DefaultOptions,
		IVF:              ivf.DefaultOptions,
	}
}
