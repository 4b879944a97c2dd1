package pmtiles

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors shared across a resolver's
// backends, caches, and directory cache. A nil *Metrics is valid everywhere
// it is accepted; every method is a no-op in that case so metrics remain
// entirely optional.
type Metrics struct {
	readerRequests        *prometheus.CounterVec
	readerRequestDuration *prometheus.HistogramVec

	cacheRequests   *prometheus.CounterVec
	cacheEntries    *prometheus.GaugeVec
	cacheSizeBytes  *prometheus.GaugeVec
	cacheLimitBytes *prometheus.GaugeVec

	tileRequests        *prometheus.CounterVec
	tileRequestDuration *prometheus.HistogramVec

	directoryInvalidations *prometheus.CounterVec
}

func register[K prometheus.Collector](logger *zap.Logger, metric K) K {
	if err := prometheus.Register(metric); err != nil {
		logger.Warn("metric registration failed", zap.Error(err))
	}
	return metric
}

// NewMetrics constructs a Metrics instance registered against the default
// Prometheus registry under the "pmtiles" namespace, scoped by subsystem
// (e.g. "resolver", "dircache").
func NewMetrics(subsystem string, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	namespace := "pmtiles"
	durationBuckets := prometheus.DefBuckets

	return &Metrics{
		readerRequests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reader_requests_total",
			Help:      "Requests to a range-reader backend by source and status",
		}, []string{"source", "status"})),
		readerRequestDuration: register(logger, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reader_request_duration_seconds",
			Help:      "Range-reader backend request duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"source", "status"})),

		cacheRequests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache name and outcome (hit/miss)",
		}, []string{"cache", "outcome"})),
		cacheEntries: register(logger, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_entries",
			Help:      "Number of entries currently held in a cache",
		}, []string{"cache"})),
		cacheSizeBytes: register(logger, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_size_bytes",
			Help:      "Current cache usage in bytes",
		}, []string{"cache"})),
		cacheLimitBytes: register(logger, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_limit_bytes",
			Help:      "Configured cache size limit in bytes",
		}, []string{"cache"})),

		tileRequests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tile_requests_total",
			Help:      "Tile resolution requests by archive and status",
		}, []string{"archive", "status"})),
		tileRequestDuration: register(logger, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tile_request_duration_seconds",
			Help:      "Tile resolution duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"archive", "status"})),

		directoryInvalidations: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "directory_invalidations_total",
			Help:      "Number of times a cached directory was invalidated due to the source etag changing",
		}, []string{"archive"})),
	}
}

func (m *Metrics) recordCacheRequest(cache, outcome string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(cache, outcome).Inc()
}

func (m *Metrics) setCacheStats(cache string, sizeBytes, entries, limitBytes int64) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues(cache).Set(float64(entries))
	m.cacheSizeBytes.WithLabelValues(cache).Set(float64(sizeBytes))
	m.cacheLimitBytes.WithLabelValues(cache).Set(float64(limitBytes))
}

func (m *Metrics) recordInvalidation(archive string) {
	if m == nil {
		return
	}
	m.directoryInvalidations.WithLabelValues(archive).Inc()
}

// readerRequestTracker times a single backend request for readerRequests /
// readerRequestDuration, following the start/finish tracker shape used for
// request metrics elsewhere in this package.
type readerRequestTracker struct {
	metrics *Metrics
	source  string
	start   time.Time
}

func (m *Metrics) startReaderRequest(source string) *readerRequestTracker {
	return &readerRequestTracker{metrics: m, source: source, start: time.Now()}
}

func (t *readerRequestTracker) finish(status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.readerRequests.WithLabelValues(t.source, status).Inc()
	t.metrics.readerRequestDuration.WithLabelValues(t.source, status).Observe(time.Since(t.start).Seconds())
}

type tileRequestTracker struct {
	metrics *Metrics
	archive string
	start   time.Time
}

func (m *Metrics) startTileRequest(archive string) *tileRequestTracker {
	return &tileRequestTracker{metrics: m, archive: archive, start: time.Now()}
}

func (t *tileRequestTracker) finish(status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.tileRequests.WithLabelValues(t.archive, status).Inc()
	t.metrics.tileRequestDuration.WithLabelValues(t.archive, status).Observe(time.Since(t.start).Seconds())
}
