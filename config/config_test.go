package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VINYL_AUTH_JWT_SECRET", secret)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, secret, cfg.Auth.JWTSecretKey)
	assert.Equal(t, 2*time.Hour, cfg.Auth.LoginTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, "token", cfg.Auth.SessionCookieName)
	assert.Equal(t, 10, cfg.Auth.LoginAttempts)
	assert.Equal(t, "cookie", cfg.Handshakes)
	assert.False(t, cfg.Auth.Production)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("VINYL_AUTH_JWT_SECRET", "")
	_, err := Load(nil)
	assert.ErrorContains(t, err, "jwt secret")

	t.Setenv("VINYL_AUTH_JWT_SECRET", "short")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "at least")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("VINYL_AUTH_JWT_SECRET", secret)
	t.Setenv("VINYL_AUTH_LOGIN_TOKEN_TTL", "30m")
	t.Setenv("VINYL_AUTH_PRODUCTION", "true")
	t.Setenv("VINYL_DISCOGS_CONSUMER_KEY", "ck")
	t.Setenv("VINYL_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LoginTokenTTL)
	assert.True(t, cfg.Auth.Production)
	assert.Equal(t, "ck", cfg.Discogs.ConsumerKey)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestFileAndFlags(t *testing.T) {
	t.Setenv("VINYL_AUTH_JWT_SECRET", secret)
	path := filepath.Join(t.TempDir(), "vinyl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
database:
  driver: postgres
  dsn: "host=db user=vinyl"
auth:
  refresh_token_ttl: 12h
`), 0o600))

	cfg, err := Load([]string{"--config", path, "--addr", ":9100", "--log-format", "json"})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr, "flags win over the file")
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "host=db user=vinyl", cfg.Database.DSN)
	assert.Equal(t, 12*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	t.Setenv("VINYL_AUTH_JWT_SECRET", secret)
	_, err := Load([]string{"--db-driver", "mongo"})
	assert.ErrorContains(t, err, "unknown driver")

	t.Setenv("VINYL_DATABASE_DRIVER", "datastore")
	_, err = Load(nil)
	assert.ErrorContains(t, err, "project is required")
}
