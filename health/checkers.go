package health

import (
	"context"

	"github.com/saiset-co/sai-cache/types"
)

// CacheChecker reports the cache unhealthy when the persistent tier cannot
// be reached. Tier sizes and counters are attached as details.
func CacheChecker(cache types.CacheManager) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if !cache.IsRunning() {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: "cache manager is not running",
			}
		}

		stats := cache.Stats()
		details := map[string]interface{}{
			"memory_count":     stats.MemoryCount,
			"memory_bytes":     stats.MemoryBytes,
			"persistent_count": stats.PersistentCount,
			"hit_rate":         stats.HitRate,
		}

		if err := cache.Ping(); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
				Details: details,
			}
		}

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: details,
		}
	}
}

// MetricsChecker reports unknown while metrics collection is not running.
func MetricsChecker(metrics types.MetricsManager) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if !metrics.IsRunning() {
			return types.HealthCheck{Status: types.StatusUnknown, Message: "metrics not running"}
		}
		return types.HealthCheck{Status: types.StatusHealthy}
	}
}
