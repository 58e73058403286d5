package metrics

import (
	"context"
	"sync"
	"time"

	"webp-gateway/internal/logging"
)

// CacheStats is the subset of cache statistics exported as gauges.
type CacheStats struct {
	Artifacts int64
	SizeBytes int64
}

// StatsProvider interface for collecting stats
type StatsProvider interface {
	CacheStats(ctx context.Context) (CacheStats, error)
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	done          chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	<-c.done
}

func (c *Collector) collectLoop() {
	defer close(c.done)

	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	stats, err := c.statsProvider.CacheStats(ctx)
	if err != nil {
		logging.Warn("Metrics collection failed: %v", err)
		return
	}

	CacheArtifacts.Set(float64(stats.Artifacts))
	CacheSizeBytes.Set(float64(stats.SizeBytes))

	logging.Debug("Metrics collected: artifacts=%d, size=%d bytes", stats.Artifacts, stats.SizeBytes)
}
