package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "coinfolio.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 500000.0, cfg.Engine.StartingBalance)
	assert.Equal(t, 30*time.Second, cfg.CycleInterval())
	assert.Equal(t, 5*time.Minute, cfg.StaleClaimWindow())
	assert.Equal(t, 10*time.Second, cfg.OracleTimeout())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9000"
storage:
  sqlite_path: /tmp/coinfolio-test.db
oracle:
  base_url: http://localhost:9999
  refresh_interval_seconds: 120
engine:
  cycle_interval_seconds: 15
  stale_claim_seconds: 60
  starting_balance: 1000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "/tmp/coinfolio-test.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "http://localhost:9999", cfg.Oracle.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.RefreshInterval())
	assert.Equal(t, 15*time.Second, cfg.CycleInterval())
	assert.Equal(t, time.Minute, cfg.StaleClaimWindow())
	assert.Equal(t, 1000.0, cfg.Engine.StartingBalance)
	// Unset fields keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.OracleTimeout())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
engine:
  cycle_interval_seconds: -5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("COINFOLIO_DB", "override.db")
	t.Setenv("COINFOLIO_JWT_SECRET", "env-secret")
	t.Setenv("COINFOLIO_CYCLE_INTERVAL", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "override.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 5*time.Second, cfg.CycleInterval())
}
