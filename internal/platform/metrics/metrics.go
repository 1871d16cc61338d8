package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Download outcomes recorded by IncDownload.
const (
	OutcomeSuccess   = "success"
	OutcomeBlocked   = "blocked"
	OutcomeTimeout   = "timeout"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
)

// Metrics holds Prometheus collectors for the playback service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	sessionsCreated     prometheus.Counter
	sessionsDeleted     prometheus.Counter
	cacheHitsTotal      prometheus.Counter
	cacheMissesTotal    prometheus.Counter
	cacheEvictionsTotal prometheus.Counter
	cacheWriteFailures  *prometheus.CounterVec
	downloadsTotal      *prometheus.CounterVec
	downloadRetries     prometheus.Counter
	downloadBytes       prometheus.Counter
	syncFastPathTotal   prometheus.Counter
	syncDuration        prometheus.Histogram
	breakerState        *prometheus.GaugeVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_requests_total",
			Help: "Total number of HTTP requests received, by route",
		}, []string{"route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx), by route",
		}, []string{"route"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_active_sessions",
			Help: "Number of playback sessions currently held",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_sessions_created_total",
			Help: "Playback sessions created",
		}),
		sessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_sessions_deleted_total",
			Help: "Playback sessions deleted",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_cache_hits_total",
			Help: "Segment lookups answered by a valid cache entry",
		}),
		cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_cache_misses_total",
			Help: "Segment lookups that required a download",
		}),
		cacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_cache_evictions_total",
			Help: "Cache entries removed because they expired or went stale",
		}),
		cacheWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_cache_write_failures_total",
			Help: "Cache writes skipped because the store rejected them",
		}, []string{"reason"}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "segment_downloads_total",
			Help: "Segment downloads by final outcome",
		}, []string{"outcome"}),
		downloadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_download_retries_total",
			Help: "Download attempts beyond the first",
		}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_download_bytes_total",
			Help: "Bytes of segment media downloaded",
		}),
		syncFastPathTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_sync_fast_path_total",
			Help: "Synchronizations served entirely from cache",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "segment_sync_duration_seconds",
			Help:    "Wall time of a download-and-cache synchronization",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "player_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.activeSessions,
		m.sessionsCreated,
		m.sessionsDeleted,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.cacheEvictionsTotal,
		m.cacheWriteFailures,
		m.downloadsTotal,
		m.downloadRetries,
		m.downloadBytes,
		m.syncFastPathTotal,
		m.syncDuration,
		m.breakerState,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncRequests increments the request counter for route.
func (m *Metrics) IncRequests(route string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route).Inc()
}

// IncErrors increments the error counter for route.
func (m *Metrics) IncErrors(route string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(route).Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncSessionsCreated increments the created sessions counter.
func (m *Metrics) IncSessionsCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// IncSessionsDeleted increments the deleted sessions counter.
func (m *Metrics) IncSessionsDeleted() {
	if m == nil {
		return
	}
	m.sessionsDeleted.Inc()
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

func (m *Metrics) IncCacheEviction() {
	if m == nil {
		return
	}
	m.cacheEvictionsTotal.Inc()
}

// IncCacheWriteFailure records a swallowed cache write, e.g. reason "quota".
func (m *Metrics) IncCacheWriteFailure(reason string) {
	if m == nil {
		return
	}
	m.cacheWriteFailures.WithLabelValues(reason).Inc()
}

// IncDownload records the final outcome of one Download call.
func (m *Metrics) IncDownload(outcome string) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncDownloadRetry() {
	if m == nil {
		return
	}
	m.downloadRetries.Inc()
}

func (m *Metrics) AddDownloadBytes(n int) {
	if m == nil {
		return
	}
	m.downloadBytes.Add(float64(n))
}

func (m *Metrics) IncSyncFastPath() {
	if m == nil {
		return
	}
	m.syncFastPathTotal.Inc()
}

// ObserveSync records how long a synchronization took.
func (m *Metrics) ObserveSync(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
}

// SetBreakerState records a circuit breaker state using the numbering in the
// metric help text.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
