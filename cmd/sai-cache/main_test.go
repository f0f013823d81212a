package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(append([]string{"sai-cache"}, args...))
	return out.String(), err
}

func TestPoliciesSeedAndPrint(t *testing.T) {
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("policy_source:\n  type: sqlite\n  path: "+filepath.Join(dir, "policies.db")+"\n"), 0o600))

	fromPath := filepath.Join(dir, "policies.yml")
	require.NoError(t, os.WriteFile(fromPath, []byte("policies:\n  - entity_type: invoice\n    strategy: CACHE_ONLY\n    ttl: 600\n    stale_time: 60\n    priority: 9\n"), 0o600))

	out, err := run(t, "policies", "seed", "--config", configPath, "--from", fromPath)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 1 policies")

	out, err = run(t, "policies", "--config", configPath)
	require.NoError(t, err)

	var policies []types.CachePolicy
	require.NoError(t, utils.Unmarshal([]byte(out), &policies))

	found := false
	for _, p := range policies {
		if p.EntityType == "invoice" {
			found = true
			assert.Equal(t, types.StrategyCacheOnly, p.Strategy)
		}
	}
	assert.True(t, found)
}

func TestSeedRejectsFileSource(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("policy_source:\n  type: file\n  path: x.yml\n"), 0o600))

	fromPath := filepath.Join(dir, "policies.yml")
	require.NoError(t, os.WriteFile(fromPath, []byte("policies: []\n"), 0o600))

	_, err := run(t, "policies", "seed", "--config", configPath, "--from", fromPath)
	assert.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestConfigGet(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache:\n  persistent:\n    capacity: 2000\n"), 0o600))

	out, err := run(t, "config", "get", "--config", configPath, "cache.persistent.capacity")
	require.NoError(t, err)
	assert.Equal(t, "2000\n", out)

	_, err = run(t, "config", "get", "--config", configPath, "cache.nope")
	assert.ErrorIs(t, err, types.ErrConfigInvalidPath)

	out, err = run(t, "config", "get", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "cache.compression.algorithm")
}
