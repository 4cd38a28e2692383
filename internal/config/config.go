// Package config loads the pipeline configuration from YAML and fills
// in defaults. Every heuristic constant observed in the dashboard's
// behavior (size tolerance, member threshold, retry counts) is
// overridable here rather than hard-coded at its call site.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	// CacheDir is the root under which the raw cache, snapshots, and
	// time-series indexes live.
	CacheDir string `yaml:"cache_dir"`

	// Districts is the configured district set. There is deliberately
	// no built-in fallback list; an empty set fails validation.
	Districts []string `yaml:"districts"`

	Integrity  IntegrityConfig  `yaml:"integrity"`
	Backfill   BackfillConfig   `yaml:"backfill"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Fetch      FetchConfig      `yaml:"fetch"`
}

// IntegrityConfig tunes the cache integrity validator.
type IntegrityConfig struct {
	// SizeToleranceBytes is the permitted drift between metadata total
	// size and the walked size.
	SizeToleranceBytes int64 `yaml:"size_tolerance_bytes"`
}

// BackfillConfig tunes the historical backfill controller.
type BackfillConfig struct {
	// MemberThreshold is the reconciliation-period heuristic: a club
	// report whose Active Members sum falls below it is treated as
	// incomplete upstream data.
	MemberThreshold float64 `yaml:"member_threshold"`
	// InterDateDelayMS throttles consecutive date fetches.
	InterDateDelayMS int `yaml:"inter_date_delay_ms"`
	// JobRetentionMinutes keeps finalized jobs queryable before GC.
	JobRetentionMinutes int `yaml:"job_retention_minutes"`
}

// ReconcileConfig tunes the month-end reconciliation scheduler.
type ReconcileConfig struct {
	IntervalMinutes    int `yaml:"interval_minutes"`
	MaxAttempts        int `yaml:"max_attempts"`
	RetryDelayMinutes  int `yaml:"retry_delay_minutes"`
	ScheduleWindowDays int `yaml:"schedule_window_days"`
	RetentionHours     int `yaml:"retention_hours"`
}

// AggregatorConfig tunes the read-side district cache.
type AggregatorConfig struct {
	CacheSize       int `yaml:"cache_size"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// FetchConfig tunes the fetch source and its guards.
type FetchConfig struct {
	// BaseURL is the dashboard export endpoint root.
	BaseURL             string  `yaml:"base_url"`
	TimeoutSeconds      int     `yaml:"timeout_seconds"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	Burst               int     `yaml:"burst"`
	BreakerMaxFailures  uint32  `yaml:"breaker_max_failures"`
	BreakerResetSeconds int     `yaml:"breaker_reset_seconds"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		CacheDir: "cache",
		Integrity: IntegrityConfig{
			SizeToleranceBytes: 100,
		},
		Backfill: BackfillConfig{
			MemberThreshold:     100,
			InterDateDelayMS:    2000,
			JobRetentionMinutes: 60,
		},
		Reconcile: ReconcileConfig{
			IntervalMinutes:    60,
			MaxAttempts:        3,
			RetryDelayMinutes:  60,
			ScheduleWindowDays: 5,
			RetentionHours:     24,
		},
		Aggregator: AggregatorConfig{
			CacheSize:       50,
			CacheTTLSeconds: 300,
		},
		Fetch: FetchConfig{
			BaseURL:             "http://localhost:8095",
			TimeoutSeconds:      60,
			RequestsPerSecond:   0.5,
			Burst:               3,
			BreakerMaxFailures:  5,
			BreakerResetSeconds: 120,
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for
// every zero field. An empty path returns the defaults.
func Load(path string) (Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&config)
	return config, nil
}

func applyDefaults(config *Config) {
	defaults := Default()
	if config.CacheDir == "" {
		config.CacheDir = defaults.CacheDir
	}
	if config.Integrity.SizeToleranceBytes == 0 {
		config.Integrity.SizeToleranceBytes = defaults.Integrity.SizeToleranceBytes
	}
	if config.Backfill.MemberThreshold == 0 {
		config.Backfill.MemberThreshold = defaults.Backfill.MemberThreshold
	}
	if config.Backfill.InterDateDelayMS == 0 {
		config.Backfill.InterDateDelayMS = defaults.Backfill.InterDateDelayMS
	}
	if config.Backfill.JobRetentionMinutes == 0 {
		config.Backfill.JobRetentionMinutes = defaults.Backfill.JobRetentionMinutes
	}
	if config.Reconcile.IntervalMinutes == 0 {
		config.Reconcile.IntervalMinutes = defaults.Reconcile.IntervalMinutes
	}
	if config.Reconcile.MaxAttempts == 0 {
		config.Reconcile.MaxAttempts = defaults.Reconcile.MaxAttempts
	}
	if config.Reconcile.RetryDelayMinutes == 0 {
		config.Reconcile.RetryDelayMinutes = defaults.Reconcile.RetryDelayMinutes
	}
	if config.Reconcile.ScheduleWindowDays == 0 {
		config.Reconcile.ScheduleWindowDays = defaults.Reconcile.ScheduleWindowDays
	}
	if config.Reconcile.RetentionHours == 0 {
		config.Reconcile.RetentionHours = defaults.Reconcile.RetentionHours
	}
	if config.Aggregator.CacheSize == 0 {
		config.Aggregator.CacheSize = defaults.Aggregator.CacheSize
	}
	if config.Aggregator.CacheTTLSeconds == 0 {
		config.Aggregator.CacheTTLSeconds = defaults.Aggregator.CacheTTLSeconds
	}
	if config.Fetch.BaseURL == "" {
		config.Fetch.BaseURL = defaults.Fetch.BaseURL
	}
	if config.Fetch.TimeoutSeconds == 0 {
		config.Fetch.TimeoutSeconds = defaults.Fetch.TimeoutSeconds
	}
	if config.Fetch.RequestsPerSecond == 0 {
		config.Fetch.RequestsPerSecond = defaults.Fetch.RequestsPerSecond
	}
	if config.Fetch.Burst == 0 {
		config.Fetch.Burst = defaults.Fetch.Burst
	}
	if config.Fetch.BreakerMaxFailures == 0 {
		config.Fetch.BreakerMaxFailures = defaults.Fetch.BreakerMaxFailures
	}
	if config.Fetch.BreakerResetSeconds == 0 {
		config.Fetch.BreakerResetSeconds = defaults.Fetch.BreakerResetSeconds
	}
}
