package cache

import (
	"context"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// FetchFunc loads a fresh value from the system of record.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// GetAs reads key and decodes the stored JSON into T. A value that does not
// decode into T is returned as an error together with ok == true.
func GetAs[T any](c types.CacheManager, key, entityType string) (T, bool, error) {
	var value T

	raw, ok := c.Get(key, entityType)
	if !ok {
		return value, false, nil
	}

	if err := utils.Unmarshal(raw, &value); err != nil {
		return value, true, types.Errorf(types.ErrCacheOperationFailed, "decode %s: %v", key, err)
	}

	return value, true, nil
}

// Fetch resolves key through the strategy of the entity type policy:
//
//	CACHE_FIRST             hit returns and always refreshes in the background; miss fetches and stores
//	CACHE_ONLY              hit returns; miss fails with types.ErrNoCachedData
//	NETWORK_FIRST           fetches and stores; a failed fetch falls back to a cached value
//	NETWORK_ONLY            fetches; the cache is neither read nor written
//	STALE_WHILE_REVALIDATE  hit returns and refreshes once the entry is older than the stale time; miss fetches and stores
//
// Concurrent misses on the same key each call fetch. A cached value that does
// not decode into T is treated as absent and fetched again, but the lookup
// that found it still counts as a hit in Stats. Set logs its own failures, so
// a value that cannot be stored is still returned to the caller.
func Fetch[T any](ctx context.Context, c types.CacheManager, key, entityType string, fetch FetchFunc[T]) (T, error) {
	policy := c.Policy(entityType)

	refresh := func(ctx context.Context) (interface{}, error) {
		return fetch(ctx)
	}

	switch policy.Strategy {
	case types.StrategyNetworkOnly:
		return fetch(ctx)

	case types.StrategyNetworkFirst:
		value, err := fetch(ctx)
		if err == nil {
			_ = c.Set(key, value, entityType)
			return value, nil
		}

		if cached, ok := lookupAs[T](c, key, entityType); ok {
			return cached.value, nil
		}
		return value, err

	case types.StrategyCacheOnly:
		if cached, ok := lookupAs[T](c, key, entityType); ok {
			return cached.value, nil
		}

		var zero T
		return zero, types.Errorf(types.ErrNoCachedData, "key: %s", key)

	case types.StrategyStaleWhileRevalidate:
		if cached, ok := lookupAs[T](c, key, entityType); ok {
			if cached.stale {
				c.Refresh(key, entityType, refresh)
			}
			return cached.value, nil
		}

	default:
		if cached, ok := lookupAs[T](c, key, entityType); ok {
			c.Refresh(key, entityType, refresh)
			return cached.value, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		return value, err
	}

	_ = c.Set(key, value, entityType)

	return value, nil
}

type cachedValue[T any] struct {
	value T
	stale bool
}

func lookupAs[T any](c types.CacheManager, key, entityType string) (cachedValue[T], bool) {
	var result cachedValue[T]

	item, ok := c.Lookup(key, entityType)
	if !ok {
		return result, false
	}

	if err := utils.Unmarshal(item.Value, &result.value); err != nil {
		return result, false
	}

	result.stale = item.Stale
	return result, true
}
