package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

// NewCacheManager builds the cache described by the service configuration and
// wraps it with operation metrics.
func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager, policies types.PolicyProvider, opts ...Option) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	opts = append([]Option{WithMetrics(metrics)}, opts...)

	impl, err := NewManager(ctx, cacheConfig, logger, policies, opts...)
	if err != nil {
		return nil, err
	}

	if err := metrics.RegisterCacheStats(impl.Stats); err != nil {
		return nil, types.WrapError(err, "failed to export cache stats")
	}

	return newInstrumentedCacheManager(metrics, impl), nil
}

type instrumentedCacheManager struct {
	impl    *Manager
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(metrics types.MetricsManager, impl *Manager) types.CacheManager {
	return &instrumentedCacheManager{
		impl:    impl,
		metrics: metrics,
	}
}

func (icm *instrumentedCacheManager) Get(key, entityType string) ([]byte, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(key, entityType)
	duration := time.Since(start)

	icm.recordMetric("get", hitResult(exists), duration)
	return value, exists
}

func (icm *instrumentedCacheManager) Lookup(key, entityType string) (*types.CacheItem, bool) {
	start := time.Now()
	item, exists := icm.impl.Lookup(key, entityType)
	duration := time.Since(start)

	icm.recordMetric("get", hitResult(exists), duration)
	return item, exists
}

func (icm *instrumentedCacheManager) Set(key string, value interface{}, entityType string) error {
	start := time.Now()
	err := icm.impl.Set(key, value, entityType)
	duration := time.Since(start)

	icm.recordMetric("set", errResult(err), duration)
	return err
}

func (icm *instrumentedCacheManager) Invalidate(pattern string) (int, error) {
	start := time.Now()
	removed, err := icm.impl.Invalidate(pattern)
	duration := time.Since(start)

	icm.recordMetric("invalidate", errResult(err), duration)
	return removed, err
}

func (icm *instrumentedCacheManager) InvalidateEntity(entityType string, entityID ...string) (int, error) {
	start := time.Now()
	removed, err := icm.impl.InvalidateEntity(entityType, entityID...)
	duration := time.Since(start)

	icm.recordMetric("invalidate_entity", errResult(err), duration)
	return removed, err
}

func (icm *instrumentedCacheManager) Preload(ctx context.Context, entityTypes ...string) error {
	start := time.Now()
	err := icm.impl.Preload(ctx, entityTypes...)
	duration := time.Since(start)

	icm.recordMetric("preload", errResult(err), duration)
	return err
}

func (icm *instrumentedCacheManager) RegisterWarmer(entityType string, fn types.WarmFunc) {
	icm.impl.RegisterWarmer(entityType, fn)
}

// Refresh stores the refreshed value through the decorator so the write is
// counted like any other set.
func (icm *instrumentedCacheManager) Refresh(key, entityType string, fn types.RefreshFunc) {
	icm.impl.refresh(key, entityType, fn, icm.Set)
}

func (icm *instrumentedCacheManager) Stats() types.CacheStats {
	return icm.impl.Stats()
}

func (icm *instrumentedCacheManager) Clear() {
	start := time.Now()
	icm.impl.Clear()
	icm.recordMetric("clear", "success", time.Since(start))
}

func (icm *instrumentedCacheManager) Policy(entityType string) types.CachePolicy {
	return icm.impl.Policy(entityType)
}

func (icm *instrumentedCacheManager) Ping() error {
	return icm.impl.Ping()
}

func (icm *instrumentedCacheManager) Start() error {
	start := time.Now()
	err := icm.impl.Start()
	duration := time.Since(start)

	icm.recordMetric("start", errResult(err), duration)

	return err
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func (icm *instrumentedCacheManager) recordMetric(operation, result string, duration time.Duration) {
	opCounter := icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}

func hitResult(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func errResult(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
