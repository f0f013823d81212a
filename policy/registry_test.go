package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

type stubSource struct {
	records []types.PolicyRecord
	err     error
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Policies(context.Context) ([]types.PolicyRecord, error) {
	return s.records, s.err
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestRegistryUnknownTypeGetsDefault(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	p := r.Get("invoice")
	assert.Equal(t, "invoice", p.EntityType)
	assert.Equal(t, types.StrategyNetworkFirst, p.Strategy)
	assert.Equal(t, 300*time.Second, p.TTL)
	assert.Equal(t, 60*time.Second, p.StaleTime)
	assert.Equal(t, 100, p.MaxMemoryItems)
	assert.False(t, p.Compress)
	assert.Equal(t, 5, p.Priority)
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	p := r.Get("project")
	assert.Equal(t, types.StrategyCacheFirst, p.Strategy)
	assert.Equal(t, 1800*time.Second, p.TTL)
	assert.Equal(t, 300*time.Second, p.StaleTime)
	assert.True(t, p.Compress)

	policies := r.Policies()
	require.NotEmpty(t, policies)
	for i := 1; i < len(policies); i++ {
		assert.Less(t, policies[i-1].EntityType, policies[i].EntityType)
	}
	for _, p := range policies {
		assert.LessOrEqual(t, p.StaleTime, p.TTL, p.EntityType)
	}
}

func TestRegistryLoadOverridesAndAdds(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	err := r.Load(context.Background(), &stubSource{records: []types.PolicyRecord{
		{EntityType: "user", Strategy: "NETWORK_ONLY", TTL: 10, StaleTime: 5, Priority: 2},
		{EntityType: "invoice", Strategy: "CACHE_ONLY", TTL: 600, StaleTime: 60, Priority: 9,
			MaxMemoryItems: intPtr(7), Compress: boolPtr(true)},
	}})
	require.NoError(t, err)

	user := r.Get("user")
	assert.Equal(t, types.StrategyNetworkOnly, user.Strategy)
	assert.Equal(t, 10*time.Second, user.TTL)
	assert.Equal(t, DefaultPolicy.MaxMemoryItems, user.MaxMemoryItems)
	assert.False(t, user.Compress)

	invoice := r.Get("invoice")
	assert.Equal(t, types.StrategyCacheOnly, invoice.Strategy)
	assert.Equal(t, 7, invoice.MaxMemoryItems)
	assert.True(t, invoice.Compress)
	assert.Equal(t, 9, invoice.Priority)

	// untouched built-ins survive
	assert.Equal(t, types.StrategyCacheFirst, r.Get("project").Strategy)
}

func TestRegistryLoadClipsStaleTime(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	require.NoError(t, r.Load(context.Background(), &stubSource{records: []types.PolicyRecord{
		{EntityType: "report", Strategy: "STALE_WHILE_REVALIDATE", TTL: 30, StaleTime: 90, Priority: 3},
	}}))

	p := r.Get("report")
	assert.Equal(t, 30*time.Second, p.TTL)
	assert.Equal(t, 30*time.Second, p.StaleTime)
}

func TestRegistryLoadSkipsInvalidRecords(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRegistry(logger.NewZapWrapper(zap.New(core)))

	require.NoError(t, r.Load(context.Background(), &stubSource{records: []types.PolicyRecord{
		{EntityType: "bad", Strategy: "SOMETIMES", TTL: 10, Priority: 3},
		{EntityType: "worse", Strategy: "CACHE_FIRST", TTL: 10, Priority: 42},
		{EntityType: "good", Strategy: "CACHE_FIRST", TTL: 10, Priority: 3},
	}}))

	assert.Equal(t, types.StrategyNetworkFirst, r.Get("bad").Strategy)
	assert.Equal(t, 5, r.Get("worse").Priority)
	assert.Equal(t, types.StrategyCacheFirst, r.Get("good").Strategy)
	assert.Equal(t, 2, logs.FilterMessage("Skipping invalid policy record").Len())
}

func TestRegistryLoadSourceFailureKeepsDefaults(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRegistry(logger.NewZapWrapper(zap.New(core)))
	before := r.Policies()

	err := r.Load(context.Background(), &stubSource{err: errors.New("connection refused")})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPolicySourceUnavailable)

	assert.Equal(t, before, r.Policies())
	assert.Equal(t, 1, logs.FilterMessage("Policy source unavailable, using built-in policies").Len())
}

func TestRegistryLoadNilSource(t *testing.T) {
	r := NewRegistry(logger.NewNop())
	assert.NoError(t, r.Load(context.Background(), nil))
}
