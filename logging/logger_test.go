package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traindelay.log")
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.File = path

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("model loaded")
	_ = logger.Sync()

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"msg":"model loaded"`)
}

func TestNewFallsBackToInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "chatty"
	logger, err := New(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(0))
}
