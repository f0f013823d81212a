package metrics

import (
	"context"

	"github.com/saiset-co/sai-cache/types"
)

// NewManager returns the Prometheus manager, or Noop when metrics are disabled.
func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics

	if metricsConfig == nil || !metricsConfig.Enabled {
		logger.Debug("Metrics disabled")
		return NewNoop(), nil
	}

	manager, err := NewPrometheusMetrics(ctx, logger, metricsConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	return manager, nil
}
