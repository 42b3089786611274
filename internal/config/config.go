// Package config holds every tunable of the engine and loads them from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the root configuration document.
type Config struct {
	Cache      Cache      `yaml:"cache"`
	Graph      Graph      `yaml:"graph"`
	Resolution Resolution `yaml:"resolution"`
	Batch      Batch      `yaml:"batch"`
}

// Cache bounds the query cache.
type Cache struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes"`
	TTL        time.Duration `yaml:"ttl"`
	// SoftCategories are cached in the tier dropped on memory pressure.
	SoftCategories []string `yaml:"soft_categories"`
}

// Graph controls deferred-reference retries.
type Graph struct {
	RetryBudget     int           `yaml:"retry_budget"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RedeferOnRemove bool          `yaml:"redefer_on_remove"`
}

// Resolution holds position tie-break and impact thresholds. Only the order
// in which tie-break rules apply is fixed; these numbers are tunable.
type Resolution struct {
	// SpanTolerance is the weighted-size difference under which two
	// candidates are ranked by kind priority instead of size.
	SpanTolerance int `yaml:"span_tolerance"`
	// OversizedLineSpan is the line span above which a containing symbol is
	// rejected by precise lookups, unless the cursor is on a type's
	// declaring line.
	OversizedLineSpan     int `yaml:"oversized_line_span"`
	ImpactMaxHops         int `yaml:"impact_max_hops"`
	ImpactMediumThreshold int `yaml:"impact_medium_threshold"`
	ImpactHighThreshold   int `yaml:"impact_high_threshold"`
}

// Batch controls bulk ingestion and workspace analysis.
type Batch struct {
	Workers  int `yaml:"workers"`
	UnitSize int `yaml:"unit_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Cache: Cache{
			MaxEntries:     10000,
			MaxBytes:       64 << 20,
			TTL:            5 * time.Minute,
			SoftCategories: []string{"dependencies", "impact", "cycles"},
		},
		Graph: Graph{
			RetryBudget:     5,
			RetryBaseDelay:  100 * time.Millisecond,
			RedeferOnRemove: true,
		},
		Resolution: Resolution{
			SpanTolerance:         5,
			OversizedLineSpan:     10,
			ImpactMaxHops:         3,
			ImpactMediumThreshold: 5,
			ImpactHighThreshold:   20,
		},
		Batch: Batch{
			Workers:  runtime.NumCPU(),
			UnitSize: 25,
		},
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is non-empty and exists, and returns
// Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks ranges and the ordering of impact thresholds.
func (c *Config) Validate() error {
	switch {
	case c.Cache.MaxEntries <= 0:
		return fmt.Errorf("%w: cache.max_entries must be positive", ErrInvalid)
	case c.Cache.MaxBytes <= 0:
		return fmt.Errorf("%w: cache.max_bytes must be positive", ErrInvalid)
	case c.Cache.TTL < 0:
		return fmt.Errorf("%w: cache.ttl must not be negative", ErrInvalid)
	case c.Graph.RetryBudget < 0:
		return fmt.Errorf("%w: graph.retry_budget must not be negative", ErrInvalid)
	case c.Graph.RetryBaseDelay <= 0:
		return fmt.Errorf("%w: graph.retry_base_delay must be positive", ErrInvalid)
	case c.Resolution.SpanTolerance < 0:
		return fmt.Errorf("%w: resolution.span_tolerance must not be negative", ErrInvalid)
	case c.Resolution.OversizedLineSpan <= 0:
		return fmt.Errorf("%w: resolution.oversized_line_span must be positive", ErrInvalid)
	case c.Resolution.ImpactMaxHops <= 0:
		return fmt.Errorf("%w: resolution.impact_max_hops must be positive", ErrInvalid)
	case c.Resolution.ImpactMediumThreshold >= c.Resolution.ImpactHighThreshold:
		return fmt.Errorf("%w: resolution.impact_medium_threshold must be below impact_high_threshold", ErrInvalid)
	case c.Batch.Workers <= 0:
		return fmt.Errorf("%w: batch.workers must be positive", ErrInvalid)
	case c.Batch.UnitSize <= 0:
		return fmt.Errorf("%w: batch.unit_size must be positive", ErrInvalid)
	}
	return nil
}
