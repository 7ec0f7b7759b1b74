package piramid

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/piramidhq/piramid/collection"
	"github.com/piramidhq/piramid/distance"
	"github.com/piramidhq/piramid/index"
	"github.com/piramidhq/piramid/quantization"
	"github.com/piramidhq/piramid/wal"
)

// Config is the serializable configuration surface of the engine. It maps
// onto DB options; the HTTP layer, CLI and anything else that fronts the
// core can load it from a YAML file, the environment, or both (environment
// wins).
type Config struct {
	// DataDir is the database root directory.
	DataDir string `yaml:"data_dir"`

	// Metric is the default metric for new collections.
	Metric string `yaml:"metric"`

	// IndexPolicy is the default index policy (auto|flat|hnsw|ivf).
	IndexPolicy string `yaml:"index_policy"`

	// Quantization is the default vector codec (none|int8).
	Quantization string `yaml:"quantization"`

	// WALPolicy is the default fsync policy
	// (high_durability|batched|off).
	WALPolicy string `yaml:"wal_policy"`

	// ExecutionMode selects the distance kernels (auto|simd|scalar).
	ExecutionMode string `yaml:"execution_mode"`

	// DiskFloorBytes is the low-space floor; 0 disables monitoring.
	DiskFloorBytes uint64 `yaml:"disk_floor_bytes"`

	// LowSpaceReadOnly toggles the automatic read-only transition.
	LowSpaceReadOnly *bool `yaml:"low_space_read_only"`

	// CacheBytes caps the per-collection document cache.
	CacheBytes int64 `yaml:"cache_bytes"`

	// LockTimeout bounds lock acquisition, e.g. "5s".
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:      "./data",
		Metric:       "cosine",
		IndexPolicy:  "auto",
		Quantization: "none",
		WALPolicy:    "high_durability",
		LockTimeout:  5 * time.Second,
	}
}

// LoadConfigFile reads a YAML config file over the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// FromEnv overlays the recognized PIRAMID_* environment knobs.
func (c Config) FromEnv() Config {
	if v := os.Getenv("PIRAMID_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PIRAMID_METRIC"); v != "" {
		c.Metric = v
	}
	if v := os.Getenv("PIRAMID_INDEX_POLICY"); v != "" {
		c.IndexPolicy = v
	}
	if v := os.Getenv("PIRAMID_QUANTIZATION"); v != "" {
		c.Quantization = v
	}
	if v := os.Getenv("PIRAMID_WAL_POLICY"); v != "" {
		c.WALPolicy = v
	}
	if v := os.Getenv("PIRAMID_EXECUTION_MODE"); v != "" {
		c.ExecutionMode = v
	}
	if v := os.Getenv("PIRAMID_DISK_FLOOR_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.DiskFloorBytes = n
		}
	}
	if v := os.Getenv("PIRAMID_LOW_SPACE_READ_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LowSpaceReadOnly = &b
		}
	}
	if v := os.Getenv("PIRAMID_CACHE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CacheBytes = n
		}
	}
	if v := os.Getenv("PIRAMID_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.LockTimeout = d
		}
	}
	return c
}

// Options resolves the config into DB options, validating every knob.
func (c Config) Options() ([]Option, error) {
	metric, err := distance.ParseMetric(c.Metric)
	if err != nil {
		return nil, err
	}
	policy, err := index.ParsePolicy(c.IndexPolicy)
	if err != nil {
		return nil, err
	}
	quant, err := quantization.ParseKind(c.Quantization)
	if err != nil {
		return nil, err
	}
	walPolicy, err := wal.ParseSyncPolicy(c.WALPolicy)
	if err != nil {
		return nil, err
	}
	mode, err := distance.ParseMode(c.ExecutionMode)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithCollectionDefaults(func(o *collection.Options) {
			o.Metric = metric
			o.IndexPolicy = policy
			o.Quantization = quant
			o.WAL.Policy = walPolicy
			o.Mode = mode
			o.CacheBytes = c.CacheBytes
			if c.LockTimeout > 0 {
				o.LockTimeout = c.LockTimeout
			}
		}),
	}
	if c.DiskFloorBytes > 0 {
		opts = append(opts, WithDiskFloor(c.DiskFloorBytes))
	}
	if c.LowSpaceReadOnly != nil {
		opts = append(opts, WithLowSpaceReadOnly(*c.LowSpaceReadOnly))
	}
	return opts, nil
}
