package server

import (
	"context"
	"fmt"

	"github.com/R3E-Network/commerce_layer/internal/auth"
	"github.com/R3E-Network/commerce_layer/internal/config"
	"github.com/R3E-Network/commerce_layer/internal/inventory"
	"github.com/R3E-Network/commerce_layer/internal/kv/backends"
	"github.com/R3E-Network/commerce_layer/internal/logging"
	"github.com/R3E-Network/commerce_layer/internal/metrics"
	"github.com/R3E-Network/commerce_layer/internal/module"
	"github.com/R3E-Network/commerce_layer/internal/promotions"
	"github.com/R3E-Network/commerce_layer/internal/scaffold"
	"github.com/R3E-Network/commerce_layer/internal/shipping"
)

// AllModules returns every module the service knows about, before the
// module table is applied.
func AllModules() []module.Module {
	mods := []module.Module{
		shipping.Module(shipping.NewService(nil)),
		promotions.Module(promotions.NewService()),
		inventory.Module(inventory.NewService()),
	}
	return append(mods, scaffold.Modules()...)
}

// SelectModules drops disabled modules and applies base path and
// description overrides.
func SelectModules(all []module.Module, table *config.ModulesConfig) []module.Module {
	out := make([]module.Module, 0, len(all))
	for _, m := range all {
		if !table.IsEnabled(m.Name) {
			continue
		}
		if base := table.BasePath(m.Name); base != "" {
			m.BasePath = base
		}
		if desc := table.Description(m.Name); desc != "" {
			m.Description = desc
		}
		out = append(out, m)
	}
	return out
}

// NewGuard builds the identity guard. Without a Supabase URL there is no
// identity provider and every caller is anonymous.
func NewGuard(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*auth.Guard, error) {
	opts := []auth.Option{auth.WithLogger(logger), auth.WithObserver(m)}
	if cfg.SupabaseURL == "" {
		logger.Warn("SUPABASE_URL not set; protected endpoints will reject every caller")
		return auth.NewGuard(nil, opts...), nil
	}
	c, err := backends.SupabaseAuthClient(cfg)
	if err != nil {
		return nil, err
	}
	return auth.NewGuard(auth.NewSupabaseVerifier(c, cfg.SupabaseJWTSecret), opts...), nil
}

// Build opens the configured store and assembles a Server from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	table, err := config.LoadModulesConfigOrDefault(cfg.ModulesConfig)
	if err != nil {
		return nil, err
	}

	m := metrics.New(true)
	store, err := backends.Open(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	m.SetStoreUp(true)

	guard, err := NewGuard(cfg, logger, m)
	if err != nil {
		store.Close()
		return nil, err
	}

	srv, err := New(Options{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Guard:   guard,
		Metrics: m,
		Modules: SelectModules(AllModules(), table),
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"backend": cfg.KVBackend,
		"modules": len(srv.Registry().Modules()),
	}).Info("server assembled")
	return srv, nil
}
