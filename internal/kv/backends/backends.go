// Package backends opens the kv.Store selected by configuration.
package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/R3E-Network/commerce_layer/internal/config"
	"github.com/R3E-Network/commerce_layer/internal/kv"
	"github.com/R3E-Network/commerce_layer/internal/kv/bolt"
	"github.com/R3E-Network/commerce_layer/internal/kv/memory"
	"github.com/R3E-Network/commerce_layer/internal/kv/postgres"
	"github.com/R3E-Network/commerce_layer/internal/kv/redis"
	"github.com/R3E-Network/commerce_layer/internal/kv/supabase"
	"github.com/R3E-Network/commerce_layer/supabase/client"
)

// SupabaseClient builds the Supabase client the store uses. It sends the
// service key.
func SupabaseClient(cfg *config.Config) (*client.Client, error) {
	return newSupabaseClient(supabaseConfig(cfg, cfg.SupabaseServiceKey))
}

// SupabaseAuthClient builds the client that verifies user tokens. It sends
// the anon key when one is configured and the service key otherwise.
func SupabaseAuthClient(cfg *config.Config) (*client.Client, error) {
	key := cfg.SupabaseAnonKey
	if key == "" {
		key = cfg.SupabaseServiceKey
	}
	return newSupabaseClient(supabaseConfig(cfg, key))
}

func supabaseConfig(cfg *config.Config, key string) client.Config {
	clientCfg := client.Config{
		URL:    cfg.SupabaseURL,
		APIKey: key,
	}
	if cfg.SupabaseResilience {
		resilience := client.DefaultResilienceConfig()
		clientCfg.Resilience = &resilience
	}
	return clientCfg
}

func newSupabaseClient(clientCfg client.Config) (*client.Client, error) {
	c, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return c, nil
}

// Open opens the backend named by cfg.KVBackend. When obs is non-nil every
// operation is reported to it.
func Open(ctx context.Context, cfg *config.Config, obs kv.Observer) (kv.Store, error) {
	var (
		store kv.Store
		err   error
	)
	switch cfg.KVBackend {
	case config.BackendSupabase, "":
		var c *client.Client
		if c, err = SupabaseClient(cfg); err != nil {
			return nil, err
		}
		store, err = supabase.New(c, supabase.Config{Table: cfg.KVTable})
	case config.BackendPostgres:
		store, err = postgres.Open(ctx, postgres.Config{
			DSN:          cfg.DatabaseURL,
			Table:        cfg.KVTable,
			EnsureSchema: cfg.EnsureSchema,
		})
	case config.BackendRedis:
		store, err = redis.Open(ctx, redis.Config{URL: cfg.RedisURL, Prefix: cfg.RedisPrefix})
	case config.BackendBolt:
		if dir := filepath.Dir(cfg.BoltPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create bolt directory: %w", err)
			}
		}
		store, err = bolt.Open(bolt.Config{Path: cfg.BoltPath})
	case config.BackendMemory:
		store = memory.New()
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.KVBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.KVBackend, err)
	}
	if obs != nil {
		store = kv.Observe(store, obs)
	}
	return store, nil
}
