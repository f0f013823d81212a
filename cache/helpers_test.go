package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/policy"
	"github.com/saiset-co/sai-cache/types"
)

type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time and then moves it forward by step.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticPolicies map[string]types.CachePolicy

func (s staticPolicies) Get(entityType string) types.CachePolicy {
	if p, ok := s[entityType]; ok {
		return p
	}

	p := policy.DefaultPolicy
	p.EntityType = entityType
	return p
}

func testCacheConfig() *types.CacheConfig {
	return &types.CacheConfig{
		Memory: &types.MemoryTierConfig{
			MaxItems: DefaultMemoryMaxItems,
			MaxBytes: DefaultMemoryMaxBytes,
		},
		Persistent: &types.PersistentTierConfig{
			Type:       "memory",
			Capacity:   DefaultPersistentCapacity,
			EvictBatch: DefaultPersistentEvictBatch,
		},
		Compression: &types.CompressionConfig{
			Algorithm: "br",
			Level:     6,
			Threshold: 1024,
		},
		ShutdownTimeout: 2 * time.Second,
	}
}

func newTestManager(t *testing.T, policies types.PolicyProvider, clock *fakeClock) *Manager {
	t.Helper()

	if policies == nil {
		policies = policy.NewRegistry(logger.NewNop())
	}

	opts := []Option{}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}

	m, err := NewManager(context.Background(), testCacheConfig(), logger.NewNop(), policies, opts...)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	t.Cleanup(func() {
		if m.IsRunning() {
			_ = m.Stop()
		}
	})

	return m
}

type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *callRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}
