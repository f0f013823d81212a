package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

// Runs against a live server when SAI_CACHE_TEST_REDIS is set to host:port.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	addr := os.Getenv("SAI_CACHE_TEST_REDIS")
	if addr == "" {
		t.Skip("SAI_CACHE_TEST_REDIS not set")
	}

	host, portStr, found := strings.Cut(addr, ":")
	require.True(t, found)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	store, err := NewRedisStore(context.Background(), map[string]interface{}{
		"host":       host,
		"port":       port,
		"key_prefix": "sai-cache-test-" + uuid.NewString(),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Clear()
		_ = store.Close()
	})

	return store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ts := time.Now()

	require.NoError(t, store.Put(&types.PersistedRecord{
		Key:        "user:1",
		Payload:    []byte(`{"id":1}`),
		EntityType: "user",
		Timestamp:  ts,
	}))

	record, exists, err := store.Get("user:1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []byte(`{"id":1}`), record.Payload)
	assert.True(t, record.Timestamp.Equal(ts))

	_, exists, err = store.Get("user:2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStoreOldestAndDelete(t *testing.T) {
	store := newTestRedisStore(t)
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(&types.PersistedRecord{
			Key:       fmt.Sprintf("task:%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	oldest, err := store.Oldest(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"task:0", "task:1"}, oldest)

	require.NoError(t, store.Delete(oldest...))

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.Clear())
	count, err = store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
