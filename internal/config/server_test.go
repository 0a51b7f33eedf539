package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/outlier/internal/factory"
)

func parse(t *testing.T, args ...string) (*Server, error) {
	t.Helper()
	cfg := &Server{}
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	require.NoError(t, fs.Parse(args))
	return cfg, Resolve(fs)
}

func TestDefaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, factory.StorageTypeMemory, cfg.Storage)
	assert.Equal(t, 8, cfg.MaxUpdateAttempts)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())

	fc := cfg.Factory()
	assert.Nil(t, fc.RedisConfig)
	assert.Nil(t, fc.OpenAIConfig)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("OUTLIER_PORT", "9090")
	t.Setenv("OUTLIER_STORAGE", "redis")
	t.Setenv("OUTLIER_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("OUTLIER_HUB_CLEANUP_INTERVAL", "5m")

	cfg, err := parse(t)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.HubCleanupInterval)

	fc := cfg.Factory()
	require.NotNil(t, fc.RedisConfig)
	assert.Equal(t, "redis://cache:6379/2", fc.RedisConfig.URL)
}

func TestFlagsWinOverEnvironment(t *testing.T) {
	t.Setenv("OUTLIER_PORT", "9090")

	cfg, err := parse(t, "--port", "7000", "--openai_key", "sk-test")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	fc := cfg.Factory()
	require.NotNil(t, fc.OpenAIConfig)
	assert.Equal(t, "sk-test", fc.OpenAIConfig.APIKey)
	assert.Equal(t, "gpt-4", fc.OpenAIConfig.Model)
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outlier.env")
	require.NoError(t, os.WriteFile(path, []byte("OUTLIER_PUBLIC_URL=https://play.example\nOUTLIER_LOG_FORMAT=text\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("OUTLIER_PUBLIC_URL")
		_ = os.Unsetenv("OUTLIER_LOG_FORMAT")
	})

	cfg, err := parse(t, "--env-file", path)
	require.NoError(t, err)

	assert.Equal(t, "https://play.example", cfg.PublicURL)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestResolveErrors(t *testing.T) {
	t.Run("missing env file", func(t *testing.T) {
		_, err := parse(t, "--env-file", filepath.Join(t.TempDir(), "nope.env"))
		assert.Error(t, err)
	})

	t.Run("malformed env value", func(t *testing.T) {
		t.Setenv("OUTLIER_PORT", "eighty")
		_, err := parse(t)
		assert.ErrorContains(t, err, "OUTLIER_PORT")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Server)
	}{
		{"port out of range", func(c *Server) { c.Port = 70000 }},
		{"unknown storage", func(c *Server) { c.Storage = "postgres" }},
		{"no update attempts", func(c *Server) { c.MaxUpdateAttempts = 0 }},
		{"no cleanup interval", func(c *Server) { c.HubCleanupInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parse(t)
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
