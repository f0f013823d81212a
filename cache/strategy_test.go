package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/policy"
	"github.com/saiset-co/sai-cache/types"
)

func countingFetch[T any](calls *atomic.Int32, value T, err error) FetchFunc[T] {
	return func(context.Context) (T, error) {
		calls.Add(1)
		return value, err
	}
}

func TestFetchCacheFirstScenario(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx := context.Background()

	p := m.Policy("project")
	require.Equal(t, types.StrategyCacheFirst, p.Strategy)
	require.Equal(t, 1800*time.Second, p.TTL)
	require.Equal(t, 300*time.Second, p.StaleTime)

	require.NoError(t, m.Set("project:42", project{ID: 42, Name: "Foo"}, "project"))

	var calls atomic.Int32
	got, err := Fetch(ctx, m, "project:42", "project", countingFetch(&calls, project{ID: 42, Name: "Foo v2"}, nil))
	require.NoError(t, err)
	assert.Equal(t, project{ID: 42, Name: "Foo"}, got)
	assert.Equal(t, uint64(1), m.Stats().HitCount)

	// the refresh task performs a second Set on the same key
	require.Eventually(t, func() bool {
		return m.Stats().BackgroundRefreshes == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	refreshed, ok, err := GetAs[project](m, "project:42", "project")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Foo v2", refreshed.Name)
}

func TestFetchCacheFirstMissFetchesAndStores(t *testing.T) {
	m := newTestManager(t, nil, nil)

	var calls atomic.Int32
	got, err := Fetch(context.Background(), m, "user:1", "user", countingFetch(&calls, "Ada", nil))
	require.NoError(t, err)
	assert.Equal(t, "Ada", got)
	assert.Equal(t, int32(1), calls.Load())

	cached, ok, err := GetAs[string](m, "user:1", "user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", cached)
}

func TestFetchCacheOnlyMiss(t *testing.T) {
	policies := staticPolicies{"report": {EntityType: "report", Strategy: types.StrategyCacheOnly, TTL: time.Hour}}
	m := newTestManager(t, policies, nil)

	var calls atomic.Int32
	_, err := Fetch(context.Background(), m, "report:1", "report", countingFetch(&calls, 1, nil))
	assert.ErrorIs(t, err, types.ErrNoCachedData)
	assert.Equal(t, int32(0), calls.Load())

	require.NoError(t, m.Set("report:1", 7, "report"))
	got, err := Fetch(context.Background(), m, "report:1", "report", countingFetch(&calls, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, int32(0), calls.Load())
}

func TestFetchNetworkFirst(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx := context.Background()

	require.Equal(t, types.StrategyNetworkFirst, m.Policy("notification").Strategy)

	var calls atomic.Int32
	got, err := Fetch(ctx, m, "notification:1", "notification", countingFetch(&calls, "fresh", nil))
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)

	got, err = Fetch(ctx, m, "notification:1", "notification", countingFetch(&calls, "", errors.New("upstream down")))
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	assert.Equal(t, int32(2), calls.Load())

	_, err = Fetch(ctx, m, "notification:2", "notification", countingFetch(&calls, "", errors.New("upstream down")))
	assert.EqualError(t, err, "upstream down")
}

func TestFetchNetworkOnlyLeavesCacheUntouched(t *testing.T) {
	m := newTestManager(t, nil, nil)

	var calls atomic.Int32
	got, err := Fetch(context.Background(), m, "search:q=go", "search", countingFetch(&calls, []string{"a", "b"}, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	stats := m.Stats()
	assert.Equal(t, 0, stats.MemoryCount)
	assert.Equal(t, 0, stats.PersistentCount)
	assert.Equal(t, uint64(0), stats.HitCount+stats.MissCount)
}

func TestFetchStaleWhileRevalidate(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, nil, clock)
	ctx := context.Background()

	p := m.Policy("task")
	require.Equal(t, types.StrategyStaleWhileRevalidate, p.Strategy)

	require.NoError(t, m.Set("task:1", "v1", "task"))

	var calls atomic.Int32
	got, err := Fetch(ctx, m, "task:1", "task", countingFetch(&calls, "v2", nil))
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	clock.Advance(p.StaleTime)

	got, err = Fetch(ctx, m, "task:1", "task", countingFetch(&calls, "v2", nil))
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	require.Eventually(t, func() bool {
		return m.Stats().BackgroundRefreshes == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	fresh, ok, err := GetAs[string](m, "task:1", "task")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", fresh)
}

func TestFetchRefreshFailureIsNotSurfaced(t *testing.T) {
	m := newTestManager(t, nil, nil)

	require.NoError(t, m.Set("user:1", "cached", "user"))

	got, err := Fetch(context.Background(), m, "user:1", "user", func(context.Context) (string, error) {
		return "", errors.New("backend exploded")
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", got)

	require.Eventually(t, func() bool {
		return m.Stats().BackgroundRefreshes == 1
	}, 2*time.Second, 5*time.Millisecond)

	value, ok, err := GetAs[string](m, "user:1", "user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached", value)
}

func TestGetAsDecodeError(t *testing.T) {
	m := newTestManager(t, nil, nil)

	require.NoError(t, m.Set("user:1", "not a number", "user"))

	_, ok, err := GetAs[int](m, "user:1", "user")
	assert.True(t, ok)
	assert.ErrorIs(t, err, types.ErrCacheOperationFailed)
}

type unencodable struct{}

func (unencodable) MarshalJSON() ([]byte, error) {
	return nil, errors.New("cannot encode")
}

func TestFetchLogsValueThatCannotBeStored(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	m, err := NewManager(context.Background(), testCacheConfig(), logger.NewZapWrapper(zap.New(core)), policy.NewRegistry(logger.NewNop()))
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	var calls atomic.Int32
	_, err = Fetch(context.Background(), m, "user:1", "user", countingFetch(&calls, unencodable{}, nil))
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	entries := logs.FilterMessage("Cache value not serializable").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "user:1", entries[0].ContextMap()["key"])

	_, ok := m.Get("user:1", "user")
	assert.False(t, ok)
}

func TestFetchRefetchesUndecodableValue(t *testing.T) {
	m := newTestManager(t, nil, nil)

	require.NoError(t, m.Set("user:1", "not a number", "user"))

	var calls atomic.Int32
	got, err := Fetch(context.Background(), m, "user:1", "user", countingFetch(&calls, 7, nil))
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, int32(1), calls.Load())

	// the tier lookup found an entry, so it is counted as a hit
	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.HitCount)
	assert.Equal(t, uint64(0), stats.MissCount)

	cached, ok, err := GetAs[int](m, "user:1", "user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, cached)
}
