package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/andupopescu/ore-cli-extended-stats/internal/api"
	"github.com/andupopescu/ore-cli-extended-stats/internal/ledger"
	"github.com/andupopescu/ore-cli-extended-stats/internal/logging"
	"github.com/andupopescu/ore-cli-extended-stats/internal/monitoring"
	"github.com/andupopescu/ore-cli-extended-stats/internal/oracle"
)

// Validator is responsible for validating the application's configuration.
type Validator struct{}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every section and reports the first failure.
func (v *Validator) Validate(cfg *Config) error {
	if err := v.validateLogging(cfg.LogConfig()); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := v.validateService(&cfg.Service); err != nil {
		return fmt.Errorf("service config: %w", err)
	}
	if err := cfg.Mining.Validate(); err != nil {
		return fmt.Errorf("mining config: %w", err)
	}
	if _, err := oracle.NewDrill(cfg.Mining.Oracle); err != nil {
		return fmt.Errorf("mining config: %w", err)
	}
	if err := v.validateMonitoring(&cfg.Monitoring); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}
	if err := v.validateRPC(&cfg.RPC); err != nil {
		return fmt.Errorf("rpc config: %w", err)
	}
	return nil
}

func (v *Validator) validateLogging(cfg logging.LogConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, strings.ToLower(cfg.Level)) {
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}
	if cfg.Encoding != "json" && cfg.Encoding != "console" {
		return fmt.Errorf("invalid encoding: %s", cfg.Encoding)
	}
	return nil
}

func (v *Validator) validateService(cfg *api.Config) error {
	if err := validateListenAddr(cfg.ListenAddr); err != nil {
		return err
	}
	if cfg.RateLimit < 0 {
		return errors.New("rate_limit cannot be negative")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		return errors.New("rate_burst must be positive when rate_limit is set")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	return nil
}

func (v *Validator) validateMonitoring(cfg *monitoring.MetricsConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if err := validateListenAddr(cfg.ListenAddr); err != nil {
		return err
	}
	if !strings.HasPrefix(cfg.MetricsPath, "/") {
		return fmt.Errorf("metrics_path must start with /: %s", cfg.MetricsPath)
	}
	return nil
}

func (v *Validator) validateRPC(cfg *ledger.Config) error {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid url: %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if _, err := ledger.ParseAddress(cfg.ProgramAddress); err != nil {
		return fmt.Errorf("program_address: %w", err)
	}
	if cfg.ConfigAddress != "" {
		if _, err := ledger.ParseAddress(cfg.ConfigAddress); err != nil {
			return fmt.Errorf("config_address: %w", err)
		}
	}
	for _, addr := range cfg.BusAddresses {
		if _, err := ledger.ParseAddress(addr); err != nil {
			return fmt.Errorf("bus_addresses: %w", err)
		}
	}
	if cfg.HistoryWindow <= 0 {
		return errors.New("history_window must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return errors.New("history_limit must be positive")
	}
	return nil
}

func validateListenAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", addr, err)
	}
	return nil
}
