package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: mysql
  host: db
  port: 3307
  user: eval
  password: secret
  dbname: evals
pipeline:
  timeout_seconds: 15
worker:
  pool_size: 8
log:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "db", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "utf8mb4", cfg.Database.Charset, "unset keys keep defaults")
	assert.Equal(t, 15, cfg.Pipeline.TimeoutSeconds)
	assert.Equal(t, 8, cfg.Worker.PoolSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "worker:\n  pool_size: 2\n")
	t.Setenv("EVALLAB_WORKER_POOL_SIZE", "6")
	t.Setenv("EVALLAB_DB_PATH", ":memory:")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Worker.PoolSize)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad yaml", "server: [\n"},
		{"bad driver", "database:\n  driver: oracle\n"},
		{"zero pool", "worker:\n  pool_size: 0\n"},
		{"negative timeout", "pipeline:\n  timeout_seconds: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
