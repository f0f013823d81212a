package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type PolicyLister interface {
	Policies() []types.CachePolicy
}

type HealthReporter interface {
	Check(ctx context.Context) types.HealthReport
	Version() types.VersionInfo
}

type JobLister interface {
	Jobs() []types.JobEntry
}

type InvalidateRequest struct {
	Pattern string `json:"pattern"`
}

type InvalidateEntityRequest struct {
	ID string `json:"id"`
}

type InvalidateResponse struct {
	Removed int `json:"removed"`
}

type PreloadRequest struct {
	EntityTypes []string `json:"entity_types"`
}

type EntryResponse struct {
	Key        string          `json:"key"`
	EntityType string          `json:"entity_type"`
	Tier       string          `json:"tier"`
	StoredAt   time.Time       `json:"stored_at"`
	Stale      bool            `json:"stale"`
	Value      json.RawMessage `json:"value"`
}

// API exposes cache administration over HTTP. Health, jobs and metrics are
// optional and their routes are only registered when set.
type API struct {
	Cache          types.CacheManager
	Policies       PolicyLister
	Health         HealthReporter
	Jobs           JobLister
	Metrics        types.MetricsManager
	MetricsPath    string
	PreloadTimeout time.Duration
	Logger         types.Logger
}

func (a *API) Register(r *Router) {
	r.GET("/stats", a.handleStats)
	r.GET("/policies", a.handlePolicies)
	r.GET("/policies/{entity_type}", a.handlePolicy)
	r.GET("/entries/{key}", a.handleEntry)
	r.POST("/invalidate", a.handleInvalidate)
	r.POST("/invalidate/{entity_type}", a.handleInvalidateEntity)
	r.POST("/clear", a.handleClear)
	r.POST("/preload", a.handlePreload)

	if a.Health != nil {
		r.GET("/health", a.handleHealth)
		r.GET("/version", a.handleVersion)
	}

	if a.Jobs != nil {
		r.GET("/jobs", a.handleJobs)
	}

	if a.Metrics != nil && a.MetricsPath != "" {
		r.GET(a.MetricsPath, a.Metrics.Handler())
	}
}

func (a *API) handleStats(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, a.Cache.Stats())
}

func (a *API) handlePolicies(ctx *fasthttp.RequestCtx) {
	if a.Policies == nil {
		utils.WriteJSON(ctx, fasthttp.StatusOK, []types.CachePolicy{})
		return
	}
	utils.WriteJSON(ctx, fasthttp.StatusOK, a.Policies.Policies())
}

func (a *API) handlePolicy(ctx *fasthttp.RequestCtx) {
	entityType, _ := ctx.UserValue("entity_type").(string)
	utils.WriteJSON(ctx, fasthttp.StatusOK, a.Cache.Policy(entityType))
}

func (a *API) handleEntry(ctx *fasthttp.RequestCtx) {
	key, _ := ctx.UserValue("key").(string)
	entityType := string(ctx.QueryArgs().Peek("entity_type"))
	if entityType == "" {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Bad Request", types.ErrEntityTypeEmpty.Error())
		return
	}

	item, ok := a.Cache.Lookup(key, entityType)
	if !ok {
		utils.WriteError(ctx, fasthttp.StatusNotFound, "Not Found", types.ErrNoCachedData.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, EntryResponse{
		Key:        item.Key,
		EntityType: item.EntityType,
		Tier:       item.Tier,
		StoredAt:   item.StoredAt,
		Stale:      item.Stale,
		Value:      json.RawMessage(item.Value),
	})
}

func (a *API) handleInvalidate(ctx *fasthttp.RequestCtx) {
	var req InvalidateRequest
	if !decode(ctx, &req) {
		return
	}

	removed, err := a.Cache.Invalidate(req.Pattern)
	if err != nil {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, InvalidateResponse{Removed: removed})
}

func (a *API) handleInvalidateEntity(ctx *fasthttp.RequestCtx) {
	entityType, _ := ctx.UserValue("entity_type").(string)

	var req InvalidateEntityRequest
	if !decode(ctx, &req) {
		return
	}

	var ids []string
	if req.ID != "" {
		ids = append(ids, req.ID)
	}

	removed, err := a.Cache.InvalidateEntity(entityType, ids...)
	if err != nil {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	utils.WriteJSON(ctx, fasthttp.StatusOK, InvalidateResponse{Removed: removed})
}

func (a *API) handleClear(ctx *fasthttp.RequestCtx) {
	a.Cache.Clear()
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *API) handlePreload(ctx *fasthttp.RequestCtx) {
	var req PreloadRequest
	if !decode(ctx, &req) {
		return
	}

	timeout := a.PreloadTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	preloadCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Cache.Preload(preloadCtx, req.EntityTypes...); err != nil {
		if a.Logger != nil {
			a.Logger.Warn("Preload finished with errors", zap.Error(err))
		}
		utils.WriteError(ctx, fasthttp.StatusBadGateway, "Preload Failed", err.Error())
		return
	}

	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *API) handleHealth(ctx *fasthttp.RequestCtx) {
	report := a.Health.Check(ctx)

	status := fasthttp.StatusOK
	if report.Status == types.StatusUnhealthy {
		status = fasthttp.StatusServiceUnavailable
	}

	utils.WriteJSON(ctx, status, report)
}

func (a *API) handleVersion(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, a.Health.Version())
}

func (a *API) handleJobs(ctx *fasthttp.RequestCtx) {
	utils.WriteJSON(ctx, fasthttp.StatusOK, a.Jobs.Jobs())
}

// decode reads an optional JSON body. An empty body leaves target untouched.
func decode[T any](ctx *fasthttp.RequestCtx, target *T) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		return true
	}

	if err := utils.Unmarshal(body, target); err != nil {
		utils.WriteError(ctx, fasthttp.StatusBadRequest, "Bad Request", "invalid JSON body: "+err.Error())
		return false
	}

	return true
}
