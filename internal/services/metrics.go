package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the pictogram engine
type Metrics struct {
	// Origin metrics
	OriginRequests *prometheus.CounterVec
	OriginLatency  *prometheus.HistogramVec

	// Cache metrics
	CacheLookups   *prometheus.CounterVec
	AssetDownloads *prometheus.CounterVec
	WriteBackFails prometheus.Counter

	// Prefetch metrics
	PrefetchRuns      *prometheus.CounterVec
	PrefetchProcessed *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics registers the Prometheus metrics once per process. The idle
// gauge reads the activity clock on scrape.
func InitMetrics(clock *ActivityClock) *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			// Origin calls by endpoint and outcome (ok, empty, rate_limited, error)
			OriginRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pictocache_origin_requests_total",
				Help: "Total number of pictogram origin requests by endpoint and outcome",
			}, []string{"endpoint", "outcome"}),

			OriginLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pictocache_origin_request_duration_seconds",
				Help:    "Pictogram origin request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 12},
			}, []string{"endpoint"}),

			// Local store lookups: hit, miss, degraded
			CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pictocache_cache_lookups_total",
				Help: "Local pictogram store lookups by operation and result",
			}, []string{"operation", "result"}),

			AssetDownloads: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pictocache_asset_downloads_total",
				Help: "Materialized pictogram assets by format (svg, png, missing)",
			}, []string{"format"}),

			WriteBackFails: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pictocache_writeback_failures_total",
				Help: "Origin results that could not be cached locally",
			}),

			PrefetchRuns: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pictocache_prefetch_runs_total",
				Help: "Prefetch scheduler evaluations by outcome (disabled, busy, ran, failed)",
			}, []string{"outcome"}),

			PrefetchProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pictocache_prefetch_ids_total",
				Help: "Pictogram ids handled by prefetch batches by result",
			}, []string{"result"}),
		}

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "pictocache_idle_seconds",
				Help: "Seconds since the last foreground pictogram request",
			},
			func() float64 {
				return float64(clock.IdleSeconds())
			},
		))
	})

	return globalMetrics
}

// GetMetrics returns the global metrics instance (nil before InitMetrics)
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordOrigin records one origin call
func (m *Metrics) RecordOrigin(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.OriginRequests.WithLabelValues(endpoint, outcome).Inc()
	m.OriginLatency.WithLabelValues(endpoint).Observe(seconds)
}

// RecordLookup records a local store lookup result
func (m *Metrics) RecordLookup(operation, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(operation, result).Inc()
}

// RecordAssetDownload records a materialization outcome
func (m *Metrics) RecordAssetDownload(format string) {
	if m == nil {
		return
	}
	m.AssetDownloads.WithLabelValues(format).Inc()
}

// RecordWriteBackFailure records a swallowed caching failure
func (m *Metrics) RecordWriteBackFailure() {
	if m == nil {
		return
	}
	m.WriteBackFails.Inc()
}

// RecordPrefetchRun records a scheduler evaluation outcome
func (m *Metrics) RecordPrefetchRun(outcome string) {
	if m == nil {
		return
	}
	m.PrefetchRuns.WithLabelValues(outcome).Inc()
}

// RecordPrefetchResult adds a finished batch to the per-id counters
func (m *Metrics) RecordPrefetchResult(downloaded, cached, failed int) {
	if m == nil {
		return
	}
	m.PrefetchProcessed.WithLabelValues("downloaded").Add(float64(downloaded))
	m.PrefetchProcessed.WithLabelValues("already_cached").Add(float64(cached))
	m.PrefetchProcessed.WithLabelValues("failed").Add(float64(failed))
}
