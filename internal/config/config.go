package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ib-77/sieve/pkg/pipe"
	"github.com/ib-77/sieve/pkg/proc"
	"github.com/ib-77/sieve/pkg/sieve"
)

var ErrInvalid = errors.New("invalid config")

// Config holds all application configuration.
//
// Values are layered: Default, then an optional YAML or TOML file, then the
// environment. Command-line flags are applied last by the caller.
type Config struct {
	Sieve   SieveConfig  `yaml:"sieve" toml:"sieve"`
	Limits  LimitsConfig `yaml:"limits" toml:"limits"`
	Logging LogConfig    `yaml:"logging" toml:"logging"`
}

// SieveConfig holds the pipeline parameters.
type SieveConfig struct {
	Limit     int    `envconfig:"SIEVE_LIMIT" yaml:"limit" toml:"limit"`
	Transport string `envconfig:"SIEVE_TRANSPORT" yaml:"transport" toml:"transport"`
}

// LimitsConfig holds the process-system budgets.
type LimitsConfig struct {
	MaxProcs int `envconfig:"SIEVE_MAX_PROCS" yaml:"max_procs" toml:"max_procs"`
	MaxFiles int `envconfig:"SIEVE_MAX_FILES" yaml:"max_files" toml:"max_files"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Sieve: SieveConfig{
			Limit:     sieve.DefaultLimit,
			Transport: pipe.OSName,
		},
		Limits: LimitsConfig{
			MaxProcs: proc.DefaultMaxProcs,
			MaxFiles: proc.DefaultMaxFiles,
		},
		Logging: LogConfig{
			Level:       "warn",
			Development: false,
		},
	}
}

// Load builds the configuration from defaults, the file at path (if path is
// not empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	// no default tags: a missing variable leaves the file value alone
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile overlays the document at path onto cfg. Files ending in .toml are
// parsed as TOML, anything else as YAML.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		unmarshal = toml.Unmarshal
	}
	if err := unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Sieve.Limit > math.MaxInt32 || c.Sieve.Limit < math.MinInt32 {
		errs = append(errs, fmt.Errorf("%w: limit %d does not fit in 32 bits", ErrInvalid, c.Sieve.Limit))
	}
	if _, err := pipe.Lookup(c.Sieve.Transport); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if c.Limits.MaxProcs < 1 {
		errs = append(errs, fmt.Errorf("%w: max procs must be at least 1, got %d", ErrInvalid, c.Limits.MaxProcs))
	}
	if c.Limits.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("%w: max files must be at least 1, got %d", ErrInvalid, c.Limits.MaxFiles))
	}
	return errors.Join(errs...)
}
