package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9090
  timeout: 5s
models:
  dir: /srv/models
  default: forest
catalog:
  path: trains.db
`), 0o644))

	cfg, err := loadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "/srv/models", cfg.Models.Dir)
	assert.Equal(t, "forest", cfg.Models.Default)
	assert.Equal(t, 4, cfg.Models.CacheSize)
	assert.True(t, cfg.Models.Watch)
	assert.Equal(t, "trains.db", cfg.Catalog.Path)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := loadConfig(path, false)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	_, err = loadConfig(path, true)
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("http: [not, a, map]\n"), 0o644))
	_, err := loadConfig(bad, true)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty-dir.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("models:\n  dir: \"\"\n"), 0o644))
	_, err = loadConfig(empty, true)
	assert.ErrorContains(t, err, "models.dir")
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := loadConfig("config.yaml", true)
	require.NoError(t, err)
	assert.Equal(t, "models", cfg.Models.Dir)
	assert.Equal(t, "baseline", cfg.Models.Default)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
}
