package cache

import (
	"sync/atomic"

	"github.com/saiset-co/sai-cache/types"
)

// StatsCollector counts cache outcomes. Counters are mirrored into the metrics
// manager, which keeps running totals across Reset.
type StatsCollector struct {
	hits                atomic.Uint64
	misses              atomic.Uint64
	memoryEvictions     atomic.Uint64
	persistentEvictions atomic.Uint64
	refreshes           atomic.Uint64
	metrics             types.MetricsManager
}

func NewStatsCollector(metrics types.MetricsManager) *StatsCollector {
	return &StatsCollector{metrics: metrics}
}

func (s *StatsCollector) Hit(tier string) {
	s.hits.Add(1)
	s.metrics.Counter("cache_hits_total", map[string]string{"tier": tier}).Inc()
}

func (s *StatsCollector) Miss() {
	s.misses.Add(1)
	s.metrics.Counter("cache_misses_total", nil).Inc()
}

func (s *StatsCollector) Evicted(tier string, count int) {
	if count <= 0 {
		return
	}

	switch tier {
	case types.TierMemory:
		s.memoryEvictions.Add(uint64(count))
	case types.TierPersistent:
		s.persistentEvictions.Add(uint64(count))
	}

	s.metrics.Counter("cache_evictions_total", map[string]string{"tier": tier}).Add(float64(count))
}

func (s *StatsCollector) Refreshed(result string) {
	s.refreshes.Add(1)
	s.metrics.Counter("cache_background_refreshes_total", map[string]string{"result": result}).Inc()
}

// Snapshot fills the counter fields of a CacheStats. HitRate is 0 before any request.
func (s *StatsCollector) Snapshot() types.CacheStats {
	hits := s.hits.Load()
	misses := s.misses.Load()

	stats := types.CacheStats{
		HitCount:            hits,
		MissCount:           misses,
		MemoryEvictions:     s.memoryEvictions.Load(),
		PersistentEvictions: s.persistentEvictions.Load(),
		BackgroundRefreshes: s.refreshes.Load(),
	}

	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	return stats
}

func (s *StatsCollector) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.memoryEvictions.Store(0)
	s.persistentEvictions.Store(0)
	s.refreshes.Store(0)
}
