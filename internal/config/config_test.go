package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 8181, cfg.Worker.Port)
	require.Equal(t, "http://127.0.0.1:8181", cfg.Worker.BaseURL())
	require.Equal(t, 50, cfg.Pipeline.MaxBatch)
	require.Equal(t, 300, cfg.Stream.MaxPolls)
	require.Equal(t, 10*time.Second, cfg.RequestTimeout())
	require.Equal(t, 10*time.Minute, cfg.TaskCeiling())
	require.Empty(t, cfg.DB.DSN)
	require.Empty(t, cfg.Redis.Addr)
	require.True(t, cfg.Logging.Development)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
auth:
  enabled: true
  api_key: sekrit
  drain_secret: drain-sekrit
worker:
  port: 9191
db:
  dsn: postgres://localhost/appscout
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "sekrit", cfg.Auth.APIKey)
	require.Equal(t, "drain-sekrit", cfg.Auth.DrainSecret)
	require.Equal(t, "http://127.0.0.1:9191", cfg.Worker.BaseURL())
	require.Equal(t, "postgres://localhost/appscout", cfg.DB.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := valid()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Worker.Command = ""
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Pipeline.MaxBatch = 51
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = ""
	require.Error(t, cfg.Validate())
}
