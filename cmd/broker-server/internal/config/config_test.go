package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coregx/broker/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 2000, cfg.Broker.CacheSize)
	assert.Equal(t, cache.PolicyFIFO, cfg.Broker.Policy())
	assert.Equal(t, 10000, cfg.Broker.DefaultMaxDepth)
	assert.Equal(t, time.Second, cfg.Broker.WorkerInterval)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("BROKER_SERVER_PORT", "9090")
	t.Setenv("BROKER_BROKER_CACHE_POLICY", "LRU")
	t.Setenv("BROKER_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, cache.PolicyLRU, cfg.Broker.Policy())
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeFile(t, "broker.yaml", `
server:
  port: 7000
database:
  url: sqlite://broker.db
broker:
  default_max_depth: 50
  worker_interval: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "sqlite://broker.db", cfg.Database.URL)
	assert.Equal(t, 50, cfg.Broker.DefaultMaxDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.WorkerInterval)
}

func TestLoad_RejectsSecretsInFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"jwt secret", "auth:\n  jwt_secret: nope\n"},
		{"database password", "database:\n  password: nope\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "broker.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not allowed in config files")
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port out of range", map[string]string{"BROKER_SERVER_PORT": "70000"}},
		{"unknown cache policy", map[string]string{"BROKER_BROKER_CACHE_POLICY": "random"}},
		{"zero cache size", map[string]string{"BROKER_BROKER_CACHE_SIZE": "0"}},
		{"unsupported database", map[string]string{"BROKER_DATABASE_URL": "oracle://db"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{URL: "postgres://broker@db:5432/broker?sslmode=disable"}
	dsn, err := d.DSN()
	require.NoError(t, err)
	assert.Equal(t, d.URL, dsn)

	d.Password = "p@ss"
	dsn, err = d.DSN()
	require.NoError(t, err)
	assert.Equal(t, "postgres://broker:p%40ss@db:5432/broker?sslmode=disable", dsn)
}
