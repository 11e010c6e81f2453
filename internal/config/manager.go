package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/andupopescu/ore-cli-extended-stats/internal/logging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manager holds the live configuration, reloads it from disk and notifies
// registered callbacks when a reload succeeds.
type Manager struct {
	logger     *zap.Logger
	configPath string

	config   *Config
	configMu sync.RWMutex

	watcher *ConfigWatcher

	onChangeCallbacks []func(*Config)
}

// NewManager creates a manager and performs the initial load.
func NewManager(logger *zap.Logger, configPath string) (*Manager, error) {
	m := &Manager{
		logger:     logger.Named("config_manager"),
		configPath: configPath,
	}

	if err := m.Load(); err != nil {
		return nil, fmt.Errorf("initial config load failed: %w", err)
	}

	return m, nil
}

// Load reads the configuration again. On failure the previous configuration stays live.
func (m *Manager) Load() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}

	m.configMu.Lock()
	m.config = cfg
	callbacks := make([]func(*Config), len(m.onChangeCallbacks))
	copy(callbacks, m.onChangeCallbacks)
	m.configMu.Unlock()

	for _, callback := range callbacks {
		callback(cfg)
	}

	m.logger.Debug("Configuration loaded", zap.String("path", m.configPath))
	return nil
}

// Save writes the current configuration to the file.
func (m *Manager) Save() error {
	m.configMu.RLock()
	data, err := yaml.Marshal(m.config)
	m.configMu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tempFile := m.configPath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write to temporary config file: %w", err)
	}
	if err := os.Rename(tempFile, m.configPath); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	m.logger.Info("Configuration saved", zap.String("path", m.configPath))
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.configMu.RLock()
	defer m.configMu.RUnlock()

	cfgCopy := *m.config
	cfgCopy.RPC.BusAddresses = append([]string(nil), m.config.RPC.BusAddresses...)
	return &cfgCopy
}

// OnChange registers a callback run after every successful reload.
func (m *Manager) OnChange(callback func(*Config)) {
	m.configMu.Lock()
	defer m.configMu.Unlock()
	m.onChangeCallbacks = append(m.onChangeCallbacks, callback)
}

// Watch reloads the configuration whenever the file changes.
func (m *Manager) Watch() error {
	watcher, err := NewConfigWatcher(m.logger, m.configPath)
	if err != nil {
		return err
	}

	err = watcher.Start(func() {
		logging.LogIf(m.logger, m.Load(), "Failed to reload configuration", zap.String("path", m.configPath))
	})
	if err != nil {
		return err
	}

	m.watcher = watcher
	return nil
}

// Close stops watching.
func (m *Manager) Close() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}
