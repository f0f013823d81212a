package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func seedRecords() []types.PolicyRecord {
	return []types.PolicyRecord{
		{EntityType: "user", Strategy: "CACHE_ONLY", TTL: 120, StaleTime: 30, Priority: 10, MaxMemoryItems: intPtr(3)},
		{EntityType: "invoice", Strategy: "NETWORK_FIRST", TTL: 60, StaleTime: 10, Priority: 4, Compress: boolPtr(true)},
	}
}

func assertSeeded(t *testing.T, records []types.PolicyRecord) {
	t.Helper()

	byType := make(map[string]types.PolicyRecord, len(records))
	for _, r := range records {
		byType[r.EntityType] = r
	}
	require.Len(t, byType, 2)

	user := byType["user"]
	assert.Equal(t, "CACHE_ONLY", user.Strategy)
	assert.EqualValues(t, 120, user.TTL)
	assert.EqualValues(t, 30, user.StaleTime)
	assert.Equal(t, 10, user.Priority)
	require.NotNil(t, user.MaxMemoryItems)
	assert.Equal(t, 3, *user.MaxMemoryItems)
	assert.Nil(t, user.Compress)

	invoice := byType["invoice"]
	assert.Equal(t, "NETWORK_FIRST", invoice.Strategy)
	assert.Nil(t, invoice.MaxMemoryItems)
	require.NotNil(t, invoice.Compress)
	assert.True(t, *invoice.Compress)
}

func TestNewSource(t *testing.T) {
	src, err := NewSource(nil)
	assert.NoError(t, err)
	assert.Nil(t, src)

	src, err = NewSource(&types.PolicySourceConfig{Type: "none"})
	assert.NoError(t, err)
	assert.Nil(t, src)

	for typ, name := range map[string]string{"file": "file", "sqlite": "sqlite", "clover": "clover"} {
		src, err = NewSource(&types.PolicySourceConfig{Type: typ, Path: "x"})
		require.NoError(t, err)
		assert.Equal(t, name, src.Name())
	}

	_, err = NewSource(&types.PolicySourceConfig{Type: "etcd", Path: "x"})
	assert.ErrorIs(t, err, types.ErrPolicySourceUnknown)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yml")
	doc := `policies:
  - entity_type: user
    strategy: CACHE_ONLY
    ttl: 120
    stale_time: 30
    priority: 10
    max_memory_items: 3
  - entity_type: invoice
    strategy: NETWORK_FIRST
    ttl: 60
    stale_time: 10
    priority: 4
    compress: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	records, err := NewFileSource(path).Policies(context.Background())
	require.NoError(t, err)
	assertSeeded(t, records)
}

func TestFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.yml")).Policies(context.Background())
	assert.Error(t, err)
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	ctx := context.Background()

	require.NoError(t, SeedSQLite(ctx, path, seedRecords()))
	// upsert keeps a single row per entity type
	require.NoError(t, SeedSQLite(ctx, path, seedRecords()))

	records, err := NewSQLiteSource(path).Policies(ctx)
	require.NoError(t, err)
	assertSeeded(t, records)
}

func TestSQLiteSourceMissingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")

	_, err := NewSQLiteSource(path).Policies(context.Background())
	assert.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCloverSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies")

	require.NoError(t, SeedClover(path, seedRecords()))
	require.NoError(t, SeedClover(path, seedRecords()))

	records, err := NewCloverSource(path).Policies(context.Background())
	require.NoError(t, err)
	assertSeeded(t, records)
}

func TestCloverSourceMissingStore(t *testing.T) {
	_, err := NewCloverSource(filepath.Join(t.TempDir(), "missing")).Policies(context.Background())
	assert.Error(t, err)
}

func TestRegistryLoadFromUnavailableSQLite(t *testing.T) {
	r := NewRegistry(logger.NewNop())

	err := r.Load(context.Background(), NewSQLiteSource(filepath.Join(t.TempDir(), "missing.db")))
	assert.ErrorIs(t, err, types.ErrPolicySourceUnavailable)
	assert.Equal(t, 30*time.Minute, r.Get("user").TTL)
}

func TestRegistryLoadFromSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.db")
	require.NoError(t, SeedSQLite(context.Background(), path, seedRecords()))

	r := NewRegistry(logger.NewNop())
	require.NoError(t, r.Load(context.Background(), NewSQLiteSource(path)))

	p := r.Get("user")
	assert.Equal(t, types.StrategyCacheOnly, p.Strategy)
	assert.Equal(t, 2*time.Minute, p.TTL)
	assert.Equal(t, 3, p.MaxMemoryItems)
}
