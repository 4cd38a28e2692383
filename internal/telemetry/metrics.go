// Package telemetry holds the Prometheus metrics for the pipeline.
// Components record through nil-safe package helpers so library code
// never needs a registry handle.
package telemetry

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all pipeline metrics.
type Registry struct {
	registry *prometheus.Registry

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec

	BuildDuration *prometheus.HistogramVec

	BackfillDates     *prometheus.CounterVec
	ReconcileAttempts *prometheus.CounterVec
}

var defaultRegistry *Registry

// Initialize sets up the process-wide metrics registry. Safe to call
// more than once; later calls are no-ops.
func Initialize() *Registry {
	if defaultRegistry != nil {
		return defaultRegistry
	}
	defaultRegistry = NewRegistry()
	log.Debug().Msg("telemetry registry initialized")
	return defaultRegistry
}

// NewRegistry creates a standalone metrics registry, used directly in
// tests.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "districtrun_cache_hits_total",
				Help: "Cache hits by cache type",
			},
			[]string{"cache_type"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "districtrun_cache_misses_total",
				Help: "Cache misses by cache type",
			},
			[]string{"cache_type"},
		),
		CacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "districtrun_cache_evictions_total",
				Help: "Cache evictions by cache type",
			},
			[]string{"cache_type"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "districtrun_build_duration_seconds",
				Help:    "Snapshot build duration by result status",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		BackfillDates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "districtrun_backfill_dates_total",
				Help: "Backfill per-date outcomes",
			},
			[]string{"outcome"},
		),
		ReconcileAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "districtrun_reconcile_attempts_total",
				Help: "Reconciliation initiation attempts by result",
			},
			[]string{"result"},
		),
	}

	r.registry.MustRegister(
		r.CacheHits, r.CacheMisses, r.CacheEvictions,
		r.BuildDuration, r.BackfillDates, r.ReconcileAttempts,
	)
	return r
}

// RecordCacheHit increments the hit counter for a cache type.
func RecordCacheHit(cacheType string) {
	if defaultRegistry != nil {
		defaultRegistry.CacheHits.WithLabelValues(cacheType).Inc()
	}
}

// RecordCacheMiss increments the miss counter for a cache type.
func RecordCacheMiss(cacheType string) {
	if defaultRegistry != nil {
		defaultRegistry.CacheMisses.WithLabelValues(cacheType).Inc()
	}
}

// RecordCacheEviction increments the eviction counter for a cache type.
func RecordCacheEviction(cacheType string) {
	if defaultRegistry != nil {
		defaultRegistry.CacheEvictions.WithLabelValues(cacheType).Inc()
	}
}

// ObserveBuildDuration records one snapshot build.
func ObserveBuildDuration(status string, d time.Duration) {
	if defaultRegistry != nil {
		defaultRegistry.BuildDuration.WithLabelValues(status).Observe(d.Seconds())
	}
}

// RecordBackfillOutcome counts one backfill date outcome
// (completed, skipped, unavailable, failed).
func RecordBackfillOutcome(outcome string) {
	if defaultRegistry != nil {
		defaultRegistry.BackfillDates.WithLabelValues(outcome).Inc()
	}
}

// RecordReconcileAttempt counts one reconciliation attempt result.
func RecordReconcileAttempt(result string) {
	if defaultRegistry != nil {
		defaultRegistry.ReconcileAttempts.WithLabelValues(result).Inc()
	}
}

// Snapshot gathers the registry and flattens counter values into a
// sorted name{labels} -> value view for CLI display.
func (r *Registry) Snapshot() (map[string]float64, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[metricKey(family.GetName(), metric)] = metricValue(family.GetType(), metric)
		}
	}
	return values, nil
}

// Snapshot reads the default registry; empty when telemetry was never
// initialized.
func Snapshot() map[string]float64 {
	if defaultRegistry == nil {
		return map[string]float64{}
	}
	values, err := defaultRegistry.Snapshot()
	if err != nil {
		log.Warn().Err(err).Msg("telemetry snapshot failed")
		return map[string]float64{}
	}
	return values
}

func metricKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", l.GetName(), l.GetValue()))
	}
	sort.Strings(parts)
	key := name + "{"
	for i, p := range parts {
		if i > 0 {
			key += ","
		}
		key += p
	}
	return key + "}"
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}
