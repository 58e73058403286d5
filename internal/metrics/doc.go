// Package metrics provides Prometheus instrumentation for webp-gateway.
//
// All metrics are prefixed with "webp_gateway_" and registered on the default
// registry through promauto, so importing the package is enough to expose them
// via promhttp.
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal: requests by method, path and status
//   - HTTPRequestDuration: request duration by method and path
//   - HTTPRequestsInFlight: requests currently being processed
//
// ## WebP Metrics
//
//   - WebPRequestsTotal: middleware decisions by outcome (passthrough,
//     not_eligible, hit, converted, shared, error)
//   - ConversionsTotal / ConversionDuration: converter runs by converter and status
//   - ConversionsInFlight: conversions currently holding a worker slot
//   - ConversionQueueWait: time spent waiting for a worker slot
//
// ## Cache Metrics
//
//   - CacheHits / CacheMisses / CacheStale: freshness lookups
//   - CacheSizeBytes / CacheArtifacts: totals refreshed by the Collector
//   - CacheIndexErrors: failed index reads or writes
//
// ## Filesystem Metrics
//
//   - FilesystemOperationDuration / FilesystemOperationErrors by volume and op
//   - FilesystemRetryAttempts / Success / Failures / StaleErrors for NFS retry
//
// Call InitializeMetrics once at startup so every expected label combination
// is exported from the first scrape.
package metrics
