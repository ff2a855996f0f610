package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FileName is the optional config file looked up in the working directory
const FileName = "deps-validator.toml"

// Config holds all configuration for the application
type Config struct {
	Workspace   string   `koanf:"workspace"`
	Port        int      `koanf:"port"`
	Verbosity   string   `koanf:"verbosity"`
	VerboseCnt  int      `koanf:"verbose"`
	JSONLogs    bool     `koanf:"json"`
	Exclude     []string `koanf:"exclude"`     // Extra glob patterns skipped by the enumerator
	Concurrency int      `koanf:"concurrency"` // Parallel snapshot builds at startup

	Engine   EngineConfig   `koanf:"engine"`
	Debounce DebounceConfig `koanf:"debounce"`
	Bulk     BulkConfig     `koanf:"bulk"`
	Scope    ScopeConfig    `koanf:"scope"`
	Cache    CacheConfig    `koanf:"cache"`
}

// EngineConfig configures the remote analysis engine
type EngineConfig struct {
	URL     string        `koanf:"url"`
	Modes   []string      `koanf:"modes"`
	Timeout time.Duration `koanf:"timeout"` // Per revalidation pass
	PerFile time.Duration `koanf:"perfile"` // Added per file for bulk passes
}

// DebounceConfig holds the trigger windows
type DebounceConfig struct {
	Save time.Duration `koanf:"save"` // Per-path save debounce
	Idle time.Duration `koanf:"idle"` // No-edit window before the staleness check
}

// BulkConfig decides when a burst of file events is treated as one batch
type BulkConfig struct {
	Threshold int           `koanf:"threshold"` // Distinct paths in one window
	Window    time.Duration `koanf:"window"`    // Quiet period used to collect a burst
	MaxWait   time.Duration `koanf:"maxwait"`
}

// ScopeConfig bounds scope resolution
type ScopeConfig struct {
	Limit int           `koanf:"limit"` // Maximum affected files per scope
	Depth int           `koanf:"depth"` // Transitive dependent depth for import/export changes
	Cost  time.Duration `koanf:"cost"`  // Estimated engine cost per file
}

// CacheConfig locates the persisted state
type CacheConfig struct {
	Dir string `koanf:"dir"` // Relative paths are resolved against the workspace
}

// Defaults returns the built-in configuration values as a flat koanf map
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"workspace":      ".",
		"port":           8080,
		"verbosity":      "",
		"verbose":        0,
		"json":           false,
		"exclude":        []string{},
		"concurrency":    8,
		"engine.url":     "http://127.0.0.1:7878",
		"engine.modes":   []string{"lint"},
		"engine.timeout": 30 * time.Second,
		"engine.perfile": 200 * time.Millisecond,
		"debounce.save":  300 * time.Millisecond,
		"debounce.idle":  30 * time.Second,
		"bulk.threshold": 10,
		"bulk.window":    150 * time.Millisecond,
		"bulk.maxwait":   2 * time.Second,
		"scope.limit":    50,
		"scope.depth":    2,
		"scope.cost":     100 * time.Millisecond,
		"cache.dir":      ".deps-validator",
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional) - deps-validator.toml or --config
	// We ignore errors here as the file might not exist
	path := FileName
	if f != nil {
		if p, err := f.GetString("config"); err == nil && p != "" {
			path = p
		}
	}
	_ = k.Load(file.Provider(path), toml.Parser())

	// 3. Environment Variables
	// Prefix: DEPS_VALIDATOR_ (e.g., DEPS_VALIDATOR_ENGINE_URL=http://host:9000)
	if err := k.Load(env.Provider("DEPS_VALIDATOR_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "DEPS_VALIDATOR_")), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, "engine-url" maps to "engine.url"
	if f != nil {
		provider := posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, interface{}) {
			if fl.Name == "config" {
				return "", nil
			}
			return strings.ReplaceAll(fl.Name, "-", "."), posflag.FlagVal(f, fl)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values the engine cannot work with
func (c *Config) Validate() error {
	switch {
	case c.Scope.Limit < 1:
		return fmt.Errorf("scope.limit must be positive, got %d", c.Scope.Limit)
	case c.Scope.Depth < 1:
		return fmt.Errorf("scope.depth must be positive, got %d", c.Scope.Depth)
	case c.Debounce.Save <= 0:
		return fmt.Errorf("debounce.save must be positive, got %s", c.Debounce.Save)
	case c.Debounce.Idle <= c.Debounce.Save:
		return fmt.Errorf("debounce.idle (%s) must exceed debounce.save (%s)", c.Debounce.Idle, c.Debounce.Save)
	case c.Bulk.Threshold < 2:
		return fmt.Errorf("bulk.threshold must be at least 2, got %d", c.Bulk.Threshold)
	case c.Engine.Timeout <= 0:
		return fmt.Errorf("engine.timeout must be positive, got %s", c.Engine.Timeout)
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	return nil
}

// CacheDir returns the absolute cache directory for the workspace
func (c *Config) CacheDir(root string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(root, c.Cache.Dir)
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

// Read unflattens dotted keys so "engine.url" lands in the engine section
func (p *mapProvider) Read() (map[string]interface{}, error) {
	return maps.Unflatten(p.m, "."), nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
