package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModuleSettings is one entry of the module table.
type ModuleSettings struct {
	Enabled     bool   `yaml:"enabled"`
	BasePath    string `yaml:"base_path,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ModulesConfig lists the route modules and whether they are mounted.
type ModulesConfig struct {
	Modules map[string]*ModuleSettings `yaml:"modules"`
}

// LoadModulesConfigFromPath loads the module table from path.
func LoadModulesConfigFromPath(path string) (*ModulesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read modules config: %w", err)
	}

	var cfg ModulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse modules config: %w", err)
	}
	for name, settings := range cfg.Modules {
		if settings == nil {
			return nil, fmt.Errorf("module %s: settings are required", name)
		}
		if settings.BasePath != "" && settings.BasePath[0] != '/' {
			return nil, fmt.Errorf("module %s: base_path must start with /", name)
		}
	}
	return &cfg, nil
}

// LoadModulesConfigOrDefault loads path, falling back to the default table
// when the file does not exist. A file that exists but is invalid is an
// error.
func LoadModulesConfigOrDefault(path string) (*ModulesConfig, error) {
	cfg, err := LoadModulesConfigFromPath(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultModulesConfig(), nil
	}
	return cfg, err
}

// DefaultModulesConfig enables every known module.
func DefaultModulesConfig() *ModulesConfig {
	return &ModulesConfig{
		Modules: map[string]*ModuleSettings{
			"shipping":         {Enabled: true, Description: "Shipments, tracking numbers and cost quotes"},
			"promotions":       {Enabled: true, Description: "Promotion codes and redemptions"},
			"inventory":        {Enabled: true, Description: "Stock levels and reservations"},
			"billing":          {Enabled: true, Description: "Invoices and payments"},
			"crm":              {Enabled: true, Description: "Customer records"},
			"marketing":        {Enabled: true, Description: "Campaigns"},
			"social-migration": {Enabled: true, Description: "Social account imports"},
			"analytics":        {Enabled: true, Description: "Reporting"},
			"support":          {Enabled: true, Description: "Support tickets"},
		},
	}
}

// IsEnabled reports whether name is mounted. Modules missing from the table
// are enabled.
func (c *ModulesConfig) IsEnabled(name string) bool {
	if c == nil {
		return true
	}
	settings, ok := c.Modules[name]
	if !ok {
		return true
	}
	return settings.Enabled
}

// BasePath returns the configured base path override for name, if any.
func (c *ModulesConfig) BasePath(name string) string {
	if c == nil {
		return ""
	}
	if settings, ok := c.Modules[name]; ok {
		return settings.BasePath
	}
	return ""
}

// Description returns the configured description override for name, if any.
func (c *ModulesConfig) Description(name string) string {
	if c == nil {
		return ""
	}
	if settings, ok := c.Modules[name]; ok {
		return settings.Description
	}
	return ""
}

// Names returns the configured module names in order.
func (c *ModulesConfig) Names() []string {
	names := make([]string, 0, len(c.Modules))
	for name := range c.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
