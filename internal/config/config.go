// Package config loads the service configuration from the environment (and
// an optional .env file) plus the YAML module table.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Store backends selectable with KV_BACKEND.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

// Config is the process configuration.
type Config struct {
	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`
	// SupabaseResilience enables retries and the circuit breaker on the
	// Supabase HTTP client.
	SupabaseResilience bool `env:"SUPABASE_RESILIENCE,default=true"`

	KVBackend   string `env:"KV_BACKEND,default=supabase"`
	KVTable     string `env:"KV_TABLE,default=kv_store"`
	DatabaseURL string `env:"DATABASE_URL"`
	// EnsureSchema creates the Postgres table on startup.
	EnsureSchema bool   `env:"KV_ENSURE_SCHEMA,default=false"`
	RedisURL     string `env:"REDIS_URL"`
	RedisPrefix  string `env:"REDIS_PREFIX,default=commerce:kv:"`
	BoltPath     string `env:"BOLT_PATH,default=data/commerce.db"`

	Port            int           `env:"PORT,default=8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	LogFormat       string        `env:"LOG_FORMAT,default=json"`

	CORSAllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       float64 `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST,default=40"`

	ModulesConfig       string `env:"MODULES_CONFIG,default=config/modules.yaml"`
	HealthCheckSchedule string `env:"HEALTH_CHECK_SCHEDULE,default=@every 30s"`
	LimiterCleanup      string `env:"LIMITER_CLEANUP_SCHEDULE,default=@every 5m"`
}

// Load reads envFile (when non-empty; otherwise an optional ./.env) into the
// process environment and decodes the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.KVBackend = strings.ToLower(strings.TrimSpace(cfg.KVBackend))
	return &cfg, nil
}

// Validate checks the values the selected backend needs.
func (c *Config) Validate() error {
	var errs []error

	needSupabase := c.KVBackend == BackendSupabase || c.SupabaseURL != ""
	if needSupabase {
		if c.SupabaseURL == "" {
			errs = append(errs, errors.New("SUPABASE_URL is required"))
		} else if u, err := url.Parse(c.SupabaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("SUPABASE_URL %q is not an absolute URL", c.SupabaseURL))
		}
		if c.SupabaseServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_SERVICE_KEY is required"))
		}
	}

	switch c.KVBackend {
	case BackendSupabase, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	case BackendBolt:
		if c.BoltPath == "" {
			errs = append(errs, errors.New("BOLT_PATH is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown KV_BACKEND %q", c.KVBackend))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit values must not be negative"))
	}
	return errors.Join(errs...)
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
