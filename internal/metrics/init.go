package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
func InitializeMetrics(converter string) {
	for _, outcome := range []string{OutcomePassthrough, OutcomeNotEligible, OutcomeHit,
		OutcomeConverted, OutcomeShared, OutcomeError} {
		WebPRequestsTotal.WithLabelValues(outcome)
	}

	for _, status := range []string{"success", "error", "timeout", "invalid_output"} {
		ConversionsTotal.WithLabelValues(converter, status)
	}
	ConversionDuration.WithLabelValues(converter)

	for _, op := range []string{"get", "put", "delete", "clear"} {
		CacheIndexErrors.WithLabelValues(op)
		IndexOperationDuration.WithLabelValues(op)
	}

	for _, reason := range []string{"orphaned", "stale", "invalid"} {
		CachePrunedTotal.WithLabelValues(reason)
	}

	volumes := []string{"public", "cache", "unknown"}
	for _, vol := range volumes {
		for _, op := range []string{"stat", "open"} {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
		}
	}
}
