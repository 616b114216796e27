package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()

	// Empty directory: defaults apply
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "papertrade.db", cfg.Database.Path)
	assert.Equal(t, "https://api.binance.com", cfg.Market.BaseURL)
	assert.Equal(t, 30, cfg.Market.RequestTimeoutSec)
	assert.Equal(t, 100, cfg.Market.RequestsPerMinute)
	assert.Equal(t, 10000.0, cfg.Trading.PaperBalance)
	assert.Equal(t, 0.10, cfg.Trading.PositionFraction)
	assert.Equal(t, 30, cfg.Scheduler.MinIntervalSeconds)
	assert.Equal(t, 50, cfg.Scheduler.MaxConcurrentBots)
}

func TestLoadConfig_File(t *testing.T) {
	viper.Reset()

	dir := t.TempDir()
	content := []byte(`
server:
  port: "9090"
trading:
  paper_balance: 25000
scheduler:
  min_interval_seconds: 60
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 25000.0, cfg.Trading.PaperBalance)
	assert.Equal(t, 60, cfg.Scheduler.MinIntervalSeconds)
	// Untouched keys keep their defaults
	assert.Equal(t, "papertrade.db", cfg.Database.Path)
}
