package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtdbot/internal/config"
)

func TestSetupLogger_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gtdbot.log")
	log, closer, err := setupLogger(config.GeneralConfig{LogLevel: "warn", LogFormat: "json", LogFile: path})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("visible", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"visible"`)
	assert.False(t, log.Enabled(context.Background(), -4))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.5 KB", humanSize(1536))
	assert.Equal(t, "2.0 MB", humanSize(2<<20))
}
