package app

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.RepoTimeout)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.Equal(t, "data/watportal.db", cfg.BoltPath)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("REPO_TIMEOUT", "750ms")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")

	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 750*time.Millisecond, cfg.RepoTimeout)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.DBMaxOpenConns)
}

func TestLoadConfigBoltStore(t *testing.T) {
	t.Setenv("STORE", "bolt")
	t.Setenv("BOLT_PATH", "/var/lib/watportal/wat.db")

	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)
	assert.Equal(t, StoreBolt, cfg.Store)
	assert.Equal(t, "/var/lib/watportal/wat.db", cfg.BoltPath)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"STORE": "sqlite"}},
		{name: "non-positive timeout", env: map[string]string{"REPO_TIMEOUT": "0s"}},
		{name: "production without secret", env: map[string]string{"APP_ENV": "production"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig(viper.New())
			require.Error(t, err)
		})
	}
}
