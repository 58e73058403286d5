package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webp_gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webp_gateway_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// WebP middleware metrics
var (
	WebPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_webp_requests_total",
			Help: "Requests seen by the WebP middleware by outcome",
		},
		[]string{"outcome"},
	)

	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_conversions_total",
			Help: "Total number of image conversions",
		},
		[]string{"converter", "status"},
	)

	ConversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webp_gateway_conversion_duration_seconds",
			Help:    "Image conversion duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"converter"},
	)

	ConversionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webp_gateway_conversions_in_flight",
			Help: "Number of conversions currently running",
		},
	)

	ConversionQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webp_gateway_conversion_queue_wait_seconds",
			Help:    "Time spent waiting for a free conversion worker",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	ConversionsShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webp_gateway_conversions_shared_total",
			Help: "Requests that joined an in-flight conversion instead of starting one",
		},
	)
)

// Cache metrics
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webp_gateway_cache_hits_total",
			Help: "Total number of fresh cache lookups",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webp_gateway_cache_misses_total",
			Help: "Total number of lookups with no artifact on disk",
		},
	)

	CacheStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webp_gateway_cache_stale_total",
			Help: "Total number of lookups that found an outdated artifact",
		},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webp_gateway_cache_size_bytes",
			Help: "Total size of converted artifacts in bytes",
		},
	)

	CacheArtifacts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webp_gateway_cache_artifacts",
			Help: "Number of converted artifacts in the cache",
		},
	)

	CacheIndexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_cache_index_errors_total",
			Help: "Failed artifact index operations",
		},
		[]string{"operation"},
	)

	IndexOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webp_gateway_index_operation_duration_seconds",
			Help:    "Artifact index query duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	CachePrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_cache_pruned_total",
			Help: "Artifacts removed by prune by reason",
		},
		[]string{"reason"},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webp_gateway_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_filesystem_operation_errors_total",
			Help: "Total number of failed filesystem operations",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_filesystem_retry_attempts_total",
			Help: "Total number of NFS retry attempts",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webp_gateway_filesystem_stale_errors_total",
			Help: "Total number of ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// Outcomes recorded in WebPRequestsTotal.
const (
	OutcomePassthrough = "passthrough"
	OutcomeNotEligible = "not_eligible"
	OutcomeHit         = "hit"
	OutcomeConverted   = "converted"
	OutcomeShared      = "shared"
	OutcomeError       = "error"
)
