package db

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "binaudit", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.NoError(t, cfg.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "testhost")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "audits")
	t.Setenv("DB_USER", "auditor")
	t.Setenv("DB_PASSWORD", "p@ss word")
	t.Setenv("DB_SSLMODE", "require")
	t.Setenv("DB_MAX_CONNS", "20")
	t.Setenv("DB_MIN_CONNS", "not-a-number")

	cfg := ConfigFromEnv()
	assert.Equal(t, "testhost", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "audits", cfg.Database)
	assert.Equal(t, "auditor", cfg.User)
	assert.Equal(t, "p@ss word", cfg.Password)
	assert.Equal(t, "require", cfg.SSLMode)
	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, int32(1), cfg.MinConns, "invalid numbers keep the default")
}

func TestConnectionString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "p@ss/word"

	u, err := url.Parse(cfg.ConnectionString())
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/binaudit", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"missing host":     func(c *Config) { c.Host = "" },
		"bad port":         func(c *Config) { c.Port = 70000 },
		"missing database": func(c *Config) { c.Database = "" },
		"missing user":     func(c *Config) { c.User = "" },
		"conns inverted":   func(c *Config) { c.MaxConns, c.MinConns = 1, 5 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConnect_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	_, err := Connect(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid config")
}

func TestConnectWithRetry_ContextCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = ""
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ConnectWithRetry(ctx, cfg, 3, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheck_NilPool(t *testing.T) {
	status := Check(context.Background(), nil)
	assert.False(t, status.Healthy)
	assert.Equal(t, "pool is nil", status.Error)
}

// integrationConfig returns a config for a live database, skipping the
// test unless DB_HOST is set.
func integrationConfig(t *testing.T) *Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	if os.Getenv("DB_HOST") == "" {
		t.Skip("DB_HOST not set")
	}
	return ConfigFromEnv()
}
