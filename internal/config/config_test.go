package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "sources.yaml", cfg.Registry.Path)
	assert.Equal(t, "anomaly.yaml", cfg.Anomaly.Path)
	assert.Equal(t, 12, cfg.Engine.HistoryLimit)
	assert.Equal(t, 0.6, cfg.Engine.ReviewThreshold)
	assert.Equal(t, 0.02, cfg.Engine.AccuracyStep)
	assert.Equal(t, 90, cfg.Engine.FreshnessHalfLifeDays)
	assert.Equal(t, 3, cfg.Engine.ExpectedSources)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentUnits)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 25.0, cfg.Server.RateLimitPerSec)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RECONCILE_STORE_DRIVER", "postgres")
	t.Setenv("RECONCILE_ENGINE_REVIEW_THRESHOLD", "0.7")
	t.Setenv("RECONCILE_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 0.7, cfg.Engine.ReviewThreshold)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	err := InitLogger(LogConfig{Level: "not-a-level"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
