package config

import (
	"fmt"
	"os"

	"github.com/andupopescu/ore-cli-extended-stats/internal/api"
	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/andupopescu/ore-cli-extended-stats/internal/logging"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/andupopescu/ore-cli-extended-stats/internal/monitoring"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "ORE"

// Config represents the application configuration
type Config struct {
	// LogLevel overrides logging.level when set.
	LogLevel string `yaml:"log_level"`

	Logging    logging.LogConfig        `yaml:"logging"`
	Service    api.Config               `yaml:"service"`
	Mining     mining.Config            `yaml:"mining"`
	Monitoring monitoring.MetricsConfig `yaml:"monitoring"`
	RPC        ledger.Config            `yaml:"rpc"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		Logging:    logging.DefaultLogConfig(),
		Service:    api.DefaultConfig(),
		Mining:     mining.DefaultConfig(),
		Monitoring: monitoring.DefaultMetricsConfig(),
		RPC:        ledger.DefaultConfig(),
	}
}

// LogConfig returns the logging section with log_level applied.
func (c *Config) LogConfig() logging.LogConfig {
	lc := c.Logging
	if c.LogLevel != "" {
		lc.Level = c.LogLevel
	}
	return lc
}

// Load reads path (if it exists) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := NewEnvLoader(EnvPrefix).Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
