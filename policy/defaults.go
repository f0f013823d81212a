package policy

import (
	"time"

	"github.com/saiset-co/sai-cache/types"
)

// DefaultPolicy is returned for entity types nobody registered.
var DefaultPolicy = types.CachePolicy{
	Strategy:       types.StrategyNetworkFirst,
	TTL:            300 * time.Second,
	StaleTime:      60 * time.Second,
	MaxMemoryItems: 100,
	Compress:       false,
	Priority:       5,
}

func builtinPolicies() []types.CachePolicy {
	return []types.CachePolicy{
		{
			EntityType:     "user",
			Strategy:       types.StrategyCacheFirst,
			TTL:            30 * time.Minute,
			StaleTime:      5 * time.Minute,
			MaxMemoryItems: 200,
			Priority:       9,
		},
		{
			EntityType:     "project",
			Strategy:       types.StrategyCacheFirst,
			TTL:            30 * time.Minute,
			StaleTime:      5 * time.Minute,
			MaxMemoryItems: 100,
			Compress:       true,
			Priority:       8,
		},
		{
			EntityType:     "task",
			Strategy:       types.StrategyStaleWhileRevalidate,
			TTL:            10 * time.Minute,
			StaleTime:      time.Minute,
			MaxMemoryItems: 500,
			Priority:       7,
		},
		{
			EntityType:     "comment",
			Strategy:       types.StrategyStaleWhileRevalidate,
			TTL:            5 * time.Minute,
			StaleTime:      30 * time.Second,
			MaxMemoryItems: 300,
			Priority:       5,
		},
		{
			EntityType:     "team",
			Strategy:       types.StrategyCacheFirst,
			TTL:            time.Hour,
			StaleTime:      10 * time.Minute,
			MaxMemoryItems: 50,
			Priority:       7,
		},
		{
			EntityType:     "notification",
			Strategy:       types.StrategyNetworkFirst,
			TTL:            time.Minute,
			StaleTime:      15 * time.Second,
			MaxMemoryItems: 100,
			Priority:       4,
		},
		{
			EntityType:     "dashboard",
			Strategy:       types.StrategyStaleWhileRevalidate,
			TTL:            15 * time.Minute,
			StaleTime:      2 * time.Minute,
			MaxMemoryItems: 20,
			Compress:       true,
			Priority:       6,
		},
		{
			EntityType:     "settings",
			Strategy:       types.StrategyCacheFirst,
			TTL:            24 * time.Hour,
			StaleTime:      time.Hour,
			MaxMemoryItems: 20,
			Priority:       8,
		},
		{
			EntityType:     "search",
			Strategy:       types.StrategyNetworkOnly,
			TTL:            0,
			StaleTime:      0,
			MaxMemoryItems: 10,
			Priority:       1,
		},
	}
}
