package rleconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the umbrella configuration object returned by Load, bundling
// the model registry together with retry, recursion, store, and timeout
// defaults.
type Config struct {
	configPath string

	Models       *ModelRegistry
	Retry        RetryConfig
	Recursion    RecursionConfig
	Store        StoreConfig
	Timeout      TimeoutConfig
	DefaultModel string
}

// fileFormat is the on-disk YAML shape Load parses before building the
// in-memory registries.
type fileFormat struct {
	DefaultModel string                  `yaml:"default_model"`
	Models       map[string]*ModelConfig `yaml:"models"`
	Retry        *RetryConfig            `yaml:"retry"`
	Recursion    *RecursionConfig        `yaml:"recursion"`
	Store        *StoreConfig            `yaml:"store"`
	Timeout      *TimeoutConfig          `yaml:"timeout"`
}

// Load reads a YAML configuration file and merges it over the built-in
// defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}

	cfg := &Config{
		configPath: path,
		Models:     NewModelRegistry(ff.Models),
		Retry:      DefaultRetryConfig(),
		Recursion:  DefaultRecursionConfig(),
		Timeout:    DefaultTimeoutConfig(),
		DefaultModel: ff.DefaultModel,
	}
	if ff.Retry != nil {
		cfg.Retry = *ff.Retry
	}
	if ff.Recursion != nil {
		cfg.Recursion = *ff.Recursion
	}
	if ff.Store != nil {
		cfg.Store = *ff.Store
	}
	if ff.Timeout != nil {
		cfg.Timeout = *ff.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants a caller would otherwise discover
// only at first use.
func (c *Config) Validate() error {
	if c.DefaultModel != "" {
		if _, ok := c.Models.Lookup(c.DefaultModel); !ok {
			return &ValidationError{Component: "config", Field: "default_model",
				Err: fmt.Errorf("%w: %s", ErrModelNotFound, c.DefaultModel)}
		}
	}
	if c.Store.BasePath == "" {
		return &ValidationError{Component: "config", Field: "store.base_path",
			Err: fmt.Errorf("%w: must be non-empty", ErrInvalidConfig)}
	}
	if c.Recursion.MaxDepth < 1 {
		return &ValidationError{Component: "config", Field: "recursion.max_depth",
			Err: fmt.Errorf("%w: must be >= 1", ErrInvalidConfig)}
	}
	return nil
}

// ConfigPath returns the path Load read the configuration from.
func (c *Config) ConfigPath() string { return c.configPath }
