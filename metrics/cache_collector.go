package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saiset-co/sai-cache/types"
)

// cacheStatsCollector reads a CacheStats snapshot at scrape time. Counters
// are already exported incrementally, so only the current figures are
// reported here.
type cacheStatsCollector struct {
	source  func() types.CacheStats
	items   *prometheus.Desc
	bytes   *prometheus.Desc
	hitRate *prometheus.Desc
}

func newCacheStatsCollector(namespace, subsystem string, constLabels prometheus.Labels, source func() types.CacheStats) *cacheStatsCollector {
	return &cacheStatsCollector{
		source: source,
		items: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "cache_items"),
			"Entries currently held by tier.",
			[]string{"tier"}, constLabels),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "cache_memory_bytes"),
			"Estimated size of the memory tier.",
			nil, constLabels),
		hitRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "cache_hit_rate"),
			"Hits over lookups since the last clear.",
			nil, constLabels),
	}
}

func (c *cacheStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.bytes
	ch <- c.hitRate
}

func (c *cacheStatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source()

	ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(stats.MemoryCount), types.TierMemory)
	ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(stats.PersistentCount), types.TierPersistent)
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(stats.MemoryBytes))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, stats.HitRate)
}
