package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialharvest/harvester/internal/config"
)

const validYAML = `
debug: true
database:
  host: localhost
  dbname: harvester
redis:
  addr: localhost:6379
provider:
  base_url: https://provider.example.com
  token: provider-token
  callback_url: https://harvester.example.com/webhook/results
webhook:
  token: webhook-token
capabilities:
  version: 2
  enabled:
    - platform: instagram
      service: posts
      dataset_id: gd_ig_posts
    - platform: tiktok
      service: posts
      dataset_id: gd_tt_posts
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 50, cfg.Poller.BatchSize)
	assert.Equal(t, 15*time.Minute, cfg.Poller.StaleAfter)
	assert.Equal(t, "harvester:webhook:deliveries", cfg.Redis.QueueKey)
	assert.Equal(t, 15*time.Second, cfg.Provider.RequestTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_DB_HOST", "db.internal")
	t.Setenv("HARVESTER_PORT", "9090")
	t.Setenv("POLL_INTERVAL", "5s")

	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Poller.Interval)
}

func TestLoad_MissingProviderToken(t *testing.T) {
	yaml := `
database:
  host: localhost
  dbname: harvester
redis:
  addr: localhost:6379
provider:
  base_url: https://provider.example.com
webhook:
  token: webhook-token
capabilities:
  enabled:
    - platform: instagram
      service: posts
      dataset_id: gd_ig_posts
`
	_, err := config.Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.token")
}

func TestLoad_EmptyCapabilities(t *testing.T) {
	yaml := `
database:
  host: localhost
  dbname: harvester
redis:
  addr: localhost:6379
provider:
  base_url: https://provider.example.com
  token: x
webhook:
  token: webhook-token
`
	_, err := config.Load(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capabilities.enabled")
}

func TestCapabilitySet(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	caps, err := cfg.CapabilitySet()
	require.NoError(t, err)

	assert.Equal(t, 2, caps.Version())
	assert.True(t, caps.Supported("instagram", "posts"))
	assert.False(t, caps.Supported("instagram", "followers"))
}
