package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CORRAL_AUTH_SECRET", "env-secret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "env-secret", cfg.Auth.Secret)
	require.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	require.Equal(t, 10*time.Second, cfg.Locks.LeaseTTL)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
  log_level: debug
database:
  driver: postgres
  host: db.internal
auth:
  secret: file-secret
locks:
  lease_ttl: 3s
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, "file-secret", cfg.Auth.Secret)
	require.Equal(t, 3*time.Second, cfg.Locks.LeaseTTL)
}
