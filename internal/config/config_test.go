package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SUPABASE_URL", "SUPABASE_SERVICE_KEY", "SUPABASE_ANON_KEY", "SUPABASE_JWT_SECRET",
		"KV_BACKEND", "KV_TABLE", "DATABASE_URL", "REDIS_URL", "BOLT_PATH", "PORT",
		"LOG_LEVEL", "LOG_FORMAT", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"MODULES_CONFIG", "SHUTDOWN_TIMEOUT",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendSupabase, cfg.KVBackend)
	assert.Equal(t, "kv_store", cfg.KVTable)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
	assert.Equal(t, "commerce:kv:", cfg.RedisPrefix)
	assert.True(t, cfg.SupabaseResilience)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"KV_BACKEND=Redis",
		"REDIS_URL=redis://localhost:6379/0",
		"PORT=9090",
		"CORS_ALLOWED_ORIGINS=https://a.example.com, .example.org,",
	}, "\n")), 0o600))
	t.Cleanup(func() {
		for _, name := range []string{"KV_BACKEND", "REDIS_URL", "PORT", "CORS_ALLOWED_ORIGINS"} {
			os.Unsetenv(name)
		}
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.KVBackend)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", ".example.org"}, cfg.AllowedOrigins())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitEnvFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{KVBackend: BackendMemory, Port: 8080, RateLimitRPS: 1, RateLimitBurst: 1}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory ok", func(c *Config) {}, ""},
		{"supabase missing url", func(c *Config) { c.KVBackend = BackendSupabase; c.SupabaseServiceKey = "k" }, "SUPABASE_URL is required"},
		{"supabase relative url", func(c *Config) {
			c.KVBackend = BackendSupabase
			c.SupabaseURL = "project.supabase.co"
			c.SupabaseServiceKey = "k"
		}, "not an absolute URL"},
		{"supabase missing key", func(c *Config) { c.KVBackend = BackendSupabase; c.SupabaseURL = "https://x.supabase.co" }, "SUPABASE_SERVICE_KEY"},
		{"postgres", func(c *Config) { c.KVBackend = BackendPostgres }, "DATABASE_URL"},
		{"redis", func(c *Config) { c.KVBackend = BackendRedis }, "REDIS_URL"},
		{"bolt", func(c *Config) { c.KVBackend = BackendBolt }, "BOLT_PATH"},
		{"unknown backend", func(c *Config) { c.KVBackend = "dynamo" }, "unknown KV_BACKEND"},
		{"bad port", func(c *Config) { c.Port = 0 }, "PORT"},
		{"negative rate", func(c *Config) { c.RateLimitRPS = -1 }, "negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestModulesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  shipping:
    enabled: true
    base_path: /ship
  marketing:
    enabled: false
`), 0o600))

	cfg, err := LoadModulesConfigOrDefault(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled("shipping"))
	assert.False(t, cfg.IsEnabled("marketing"))
	assert.True(t, cfg.IsEnabled("crm"), "modules missing from the table stay enabled")
	assert.Equal(t, "/ship", cfg.BasePath("shipping"))
	assert.Equal(t, "", cfg.BasePath("crm"))
	assert.Equal(t, []string{"marketing", "shipping"}, cfg.Names())
}

func TestModulesConfig_DefaultWhenMissing(t *testing.T) {
	cfg, err := LoadModulesConfigOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Modules, 9)
	assert.True(t, cfg.IsEnabled("social-migration"))
}

func TestModulesConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("modules: [not, a, map]"), 0o600))
	_, err := LoadModulesConfigOrDefault(bad)
	assert.Error(t, err)

	relative := filepath.Join(dir, "relative.yaml")
	require.NoError(t, os.WriteFile(relative, []byte("modules:\n  crm:\n    enabled: true\n    base_path: crm\n"), 0o600))
	_, err = LoadModulesConfigOrDefault(relative)
	assert.ErrorContains(t, err, "base_path")
}

func TestModulesConfig_RepositoryFile(t *testing.T) {
	cfg, err := LoadModulesConfigFromPath(filepath.Join("..", "..", "config", "modules.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModulesConfig().Names(), cfg.Names())
}
