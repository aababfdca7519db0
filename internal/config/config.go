// Package config loads patternvault configuration from pvault.yaml with
// environment variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all patternvault configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Store configures the backing SQLite database and its connection pool.
	Store StoreConfig `yaml:"store"`

	// Tiers configures where the four persistence tiers live.
	Tiers TiersConfig `yaml:"tiers"`

	// Refine configures confidence evolution thresholds.
	Refine RefineConfig `yaml:"refine"`

	// Logging configures categorized file logging.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the pattern database and connection pool.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	PoolSize     int    `yaml:"pool_size"`
	PoolTimeout  string `yaml:"pool_timeout"` // Go duration string, e.g. "5s"
}

// TiersConfig configures the tier directory layout.
type TiersConfig struct {
	// Dir is the root directory holding all four tiers' canonical files.
	Dir string `yaml:"dir"`
}

// RefineConfig configures the pattern refinement thresholds.
type RefineConfig struct {
	PromotionThreshold float64 `yaml:"promotion_threshold"` // Confidence at or above which a pattern counts as promoted
	DemotionThreshold  float64 `yaml:"demotion_threshold"`  // Confidence at or below which a pattern counts as demoted
	ArchivalFloor      float64 `yaml:"archival_floor"`      // Confidence below which a pattern is advisory-archived
	RetentionRatio     float64 `yaml:"retention_ratio"`     // Fraction of top confidence retained in conflict resolution
	MinUsageCount      int     `yaml:"min_usage_count"`     // Minimum usage before effectiveness analysis trusts a pattern
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Name:    "patternvault",
		Version: "1.0.0",
		Store: StoreConfig{
			DatabasePath: filepath.Join(".patternvault", "patterns.db"),
			PoolSize:     5,
			PoolTimeout:  "5s",
		},
		Tiers: TiersConfig{
			Dir: ".patternvault",
		},
		Refine: RefineConfig{
			PromotionThreshold: 0.85,
			DemotionThreshold:  0.4,
			ArchivalFloor:      0.2,
			RetentionRatio:     0.7,
			MinUsageCount:      3,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from the given YAML file, applying defaults for
// anything unset and environment overrides on top. A missing file is not an
// error; defaults plus environment win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PVAULT_* environment variables over the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PVAULT_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
	if v := os.Getenv("PVAULT_TIER_DIR"); v != "" {
		cfg.Tiers.Dir = v
	}
	if v := os.Getenv("PVAULT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Store.PoolSize = n
		}
	}
	if v := os.Getenv("PVAULT_POOL_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.Store.PoolTimeout = v
		}
	}
	if v := os.Getenv("PVAULT_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.DebugMode = b
		}
	}
}

// Validate checks the configuration for values the store cannot run with.
func (c *Config) Validate() error {
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if c.Store.PoolSize < 1 {
		return fmt.Errorf("store.pool_size must be >= 1, got %d", c.Store.PoolSize)
	}
	if _, err := time.ParseDuration(c.Store.PoolTimeout); err != nil {
		return fmt.Errorf("store.pool_timeout is not a valid duration: %w", err)
	}
	if c.Refine.PromotionThreshold < 0 || c.Refine.PromotionThreshold > 1 {
		return fmt.Errorf("refine.promotion_threshold must be in [0,1]")
	}
	if c.Refine.RetentionRatio <= 0 || c.Refine.RetentionRatio > 1 {
		return fmt.Errorf("refine.retention_ratio must be in (0,1]")
	}
	return nil
}

// PoolTimeout returns the parsed pool acquisition timeout.
func (c *Config) PoolTimeout() time.Duration {
	d, err := time.ParseDuration(c.Store.PoolTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
