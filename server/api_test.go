package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/policy"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type stubConfig struct {
	config *types.ServiceConfig
}

func (s *stubConfig) Start() error                    { return nil }
func (s *stubConfig) Stop() error                     { return nil }
func (s *stubConfig) IsRunning() bool                 { return true }
func (s *stubConfig) Load() error                     { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig { return s.config }

type stubHealth struct {
	status types.HealthStatus
}

func (s *stubHealth) Check(context.Context) types.HealthReport {
	return types.HealthReport{Status: s.status}
}

func (s *stubHealth) Version() types.VersionInfo {
	return types.VersionInfo{Name: "sai-cache", Version: "1.0.0"}
}

func newTestCache(t *testing.T) types.CacheManager {
	t.Helper()

	config := &types.CacheConfig{
		Memory:      &types.MemoryTierConfig{MaxItems: 100, MaxBytes: 1 << 20},
		Persistent:  &types.PersistentTierConfig{Type: "memory", Capacity: 100, EvictBatch: 10},
		Compression: &types.CompressionConfig{Algorithm: "gzip", Level: -1, Threshold: 1024},
	}

	c, err := cache.NewManager(context.Background(), config, logger.NewNop(), policy.NewRegistry(logger.NewNop()))
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	return c
}

func newTestRouter(t *testing.T, api *API) *Router {
	t.Helper()

	router := NewRouter()
	router.Use(Recovery(logger.NewNop()), RequestID(), Logging(logger.NewNop()))
	api.Register(router)

	return router
}

func do(router *Router, method, uri, body string) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if body != "" {
		ctx.Request.SetBodyString(body)
	}

	router.Handler()(&ctx)
	return &ctx
}

func decodeBody[T any](t *testing.T, ctx *fasthttp.RequestCtx) T {
	t.Helper()

	var out T
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &out))
	return out
}

func TestStatsAndEntries(t *testing.T) {
	c := newTestCache(t)
	router := newTestRouter(t, &API{Cache: c})

	require.NoError(t, c.Set("user:1", map[string]string{"name": "Ada"}, "user"))

	ctx := do(router, fasthttp.MethodGet, "/entries/user:1?entity_type=user", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	entry := decodeBody[EntryResponse](t, ctx)
	assert.Equal(t, "user:1", entry.Key)
	assert.Equal(t, types.TierMemory, entry.Tier)
	assert.JSONEq(t, `{"name":"Ada"}`, string(entry.Value))
	assert.NotEmpty(t, ctx.Response.Header.Peek("X-Request-ID"))

	ctx = do(router, fasthttp.MethodGet, "/entries/user:2?entity_type=user", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = do(router, fasthttp.MethodGet, "/entries/user:1", "")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = do(router, fasthttp.MethodGet, "/stats", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	stats := decodeBody[types.CacheStats](t, ctx)
	assert.Equal(t, 1, stats.MemoryCount)
	assert.Equal(t, uint64(1), stats.HitCount)
	assert.Equal(t, uint64(1), stats.MissCount)
}

func TestPolicies(t *testing.T) {
	c := newTestCache(t)
	registry := policy.NewRegistry(logger.NewNop())
	router := newTestRouter(t, &API{Cache: c, Policies: registry})

	ctx := do(router, fasthttp.MethodGet, "/policies", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	policies := decodeBody[[]types.CachePolicy](t, ctx)
	assert.Len(t, policies, len(registry.Policies()))

	ctx = do(router, fasthttp.MethodGet, "/policies/project", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	p := decodeBody[types.CachePolicy](t, ctx)
	assert.Equal(t, types.StrategyCacheFirst, p.Strategy)
	assert.Equal(t, 1800*time.Second, p.TTL)
}

func TestInvalidateAndClear(t *testing.T) {
	c := newTestCache(t)
	router := newTestRouter(t, &API{Cache: c})

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("user:%d", i), i, "user"))
	}
	require.NoError(t, c.Set("project:1", 1, "project"))

	ctx := do(router, fasthttp.MethodPost, "/invalidate", `{"pattern":"^user:[01]$"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 2, decodeBody[InvalidateResponse](t, ctx).Removed)

	ctx = do(router, fasthttp.MethodPost, "/invalidate", `{"pattern":"("}`)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = do(router, fasthttp.MethodPost, "/invalidate", `{not json`)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = do(router, fasthttp.MethodPost, "/invalidate/user", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 1, decodeBody[InvalidateResponse](t, ctx).Removed)

	ctx = do(router, fasthttp.MethodPost, "/invalidate/project", `{"id":"1"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 1, decodeBody[InvalidateResponse](t, ctx).Removed)

	require.NoError(t, c.Set("user:9", 9, "user"))
	ctx = do(router, fasthttp.MethodPost, "/clear", "")
	assert.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	assert.Equal(t, 0, c.Stats().MemoryCount)
}

func TestPreload(t *testing.T) {
	c := newTestCache(t)
	router := newTestRouter(t, &API{Cache: c, Logger: logger.NewNop()})

	c.RegisterWarmer("user", func(ctx context.Context, entityType string) error {
		return c.Set("user:1", "warm", entityType)
	})
	c.RegisterWarmer("project", func(ctx context.Context, entityType string) error {
		return errors.New("backend down")
	})

	ctx := do(router, fasthttp.MethodPost, "/preload", `{"entity_types":["user"]}`)
	require.Equal(t, fasthttp.StatusNoContent, ctx.Response.StatusCode())
	_, ok := c.Get("user:1", "user")
	assert.True(t, ok)

	ctx = do(router, fasthttp.MethodPost, "/preload", `{"entity_types":["project"]}`)
	assert.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "backend down")
}

func TestHealthVersionAndMetrics(t *testing.T) {
	c := newTestCache(t)
	prom, err := metrics.NewPrometheusMetrics(context.Background(), logger.NewNop(), &types.MetricsConfig{Enabled: true, Namespace: "api"})
	require.NoError(t, err)

	health := &stubHealth{status: types.StatusHealthy}
	router := NewRouter()
	router.Use(Metrics(prom))
	(&API{Cache: c, Health: health, Metrics: prom, MetricsPath: "/metrics"}).Register(router)

	ctx := do(router, fasthttp.MethodGet, "/health", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	health.status = types.StatusUnhealthy
	ctx = do(router, fasthttp.MethodGet, "/health", "")
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	ctx = do(router, fasthttp.MethodGet, "/version", "")
	assert.Equal(t, "1.0.0", decodeBody[types.VersionInfo](t, ctx).Version)

	ctx = do(router, fasthttp.MethodGet, "/metrics", "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), "api_http_requests_total")

	ctx = do(router, fasthttp.MethodGet, "/jobs", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestRecoveryMiddleware(t *testing.T) {
	router := NewRouter()
	router.Use(Recovery(logger.NewNop()))
	router.GET("/panic", func(ctx *fasthttp.RequestCtx) { panic("boom") })

	ctx := do(router, fasthttp.MethodGet, "/panic", "")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
}

func TestHTTPServerLifecycle(t *testing.T) {
	c := newTestCache(t)
	router := newTestRouter(t, &API{Cache: c})

	cfg := &stubConfig{config: &types.ServiceConfig{Server: &types.ServerConfig{HTTP: &types.HTTPConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
	}}}}

	srv, err := NewHTTPServer(context.Background(), cfg, logger.NewNop(), router)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)

	status, body, err := fasthttp.Get(nil, "http://"+srv.Addr()+"/stats")
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, string(body), "hit_rate")

	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	assert.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}
