package cache

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/codec"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestPersistentTier(t *testing.T, clock *fakeClock) (*PersistentTier, *MemoryStore) {
	t.Helper()

	c, err := codec.New(nil)
	require.NoError(t, err)

	store := NewMemoryStore()
	return NewPersistentTier(store, c, nil, logger.NewNop(), clock.Now), store
}

func TestPersistentTierBatchEviction(t *testing.T) {
	clock := newFakeClock()
	clock.step = time.Millisecond
	tier, _ := newTestPersistentTier(t, clock)

	p := types.CachePolicy{EntityType: "task", TTL: time.Hour}

	var evictedTotal []string
	for i := 0; i < DefaultPersistentCapacity+1; i++ {
		_, evicted, err := tier.Set(fmt.Sprintf("task:%04d", i), []byte(`{"n":1}`), p)
		require.NoError(t, err)
		evictedTotal = append(evictedTotal, evicted...)
	}

	count, err := tier.Len()
	require.NoError(t, err)
	assert.Equal(t, 901, count)

	require.Len(t, evictedTotal, 100)
	for i, key := range evictedTotal {
		assert.Equal(t, fmt.Sprintf("task:%04d", i), key)
	}

	_, _, exists, err := tier.Get("task:0099")
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, exists, err = tier.Get("task:0100")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPersistentTierCompressionFlag(t *testing.T) {
	tier, store := newTestPersistentTier(t, newFakeClock())
	p := types.CachePolicy{EntityType: "dashboard", Compress: true, TTL: time.Hour}

	large := bytes.Repeat([]byte(`{"widget":"chart","points":[1,2,3]}`), 64)
	record, _, err := tier.Set("dashboard:1", large, p)
	require.NoError(t, err)
	assert.True(t, record.Compressed)

	stored, _, err := store.Get("dashboard:1")
	require.NoError(t, err)
	assert.Less(t, len(stored.Payload), len(large))

	_, raw, exists, err := tier.Get("dashboard:1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, large, raw)

	small := bytes.Repeat([]byte("s"), 1024)
	record, _, err = tier.Set("dashboard:2", small, p)
	require.NoError(t, err)
	assert.False(t, record.Compressed)
}

func TestPersistentTierCorruptPayload(t *testing.T) {
	clock := newFakeClock()

	c, err := codec.New(&codec.Config{Algorithm: codec.AlgorithmGzip, Level: 6, Threshold: 1024})
	require.NoError(t, err)

	store := NewMemoryStore()
	tier := NewPersistentTier(store, c, nil, logger.NewNop(), clock.Now)

	require.NoError(t, store.Put(&types.PersistedRecord{
		Key:        "report:1",
		Payload:    []byte("not gzip at all"),
		Compressed: true,
		EntityType: "report",
		Timestamp:  clock.Now(),
	}))

	_, _, exists, err := tier.Get("report:1")
	assert.True(t, exists)
	assert.ErrorIs(t, err, types.ErrCompressionFailed)
}

func TestMemoryStoreOldestTieBreak(t *testing.T) {
	store := NewMemoryStore()
	ts := time.Now()

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, store.Put(&types.PersistedRecord{Key: key, Timestamp: ts}))
	}
	require.NoError(t, store.Put(&types.PersistedRecord{Key: "z", Timestamp: ts.Add(-time.Second)}))

	oldest, err := store.Oldest(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b"}, oldest)
}

func TestNewPersistentStoreUnknown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err := NewPersistentStore(ctx, &types.PersistentTierConfig{Type: "etcd"})
	assert.ErrorIs(t, err, types.ErrPersistentStoreUnknown)
}

func TestPersistentTierDeleteExpiredKeepsNewerRecord(t *testing.T) {
	clock := newFakeClock()
	tier, _ := newTestPersistentTier(t, clock)

	p := types.CachePolicy{EntityType: "user", TTL: time.Minute}

	stale, _, err := tier.Set("user:1", []byte(`"old"`), p)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, _, err = tier.Set("user:1", []byte(`"new"`), p)
	require.NoError(t, err)

	removed, err := tier.DeleteExpired("user:1", stale.Timestamp)
	require.NoError(t, err)
	assert.False(t, removed)

	_, raw, exists, err := tier.Get("user:1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte(`"new"`), raw)

	current, _, _, err := tier.Get("user:1")
	require.NoError(t, err)
	removed, err = tier.DeleteExpired("user:1", current.Timestamp)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = tier.DeleteExpired("user:1", current.Timestamp)
	require.NoError(t, err)
	assert.False(t, removed)
}
