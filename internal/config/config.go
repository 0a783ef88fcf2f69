// Package config loads the daemon configuration file and watches it for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/nightmode/internal/daemon"
	"github.com/eliteGoblin/focusd/nightmode/internal/infra"
)

// FileName is the config file name inside the data directory.
const FileName = "config.toml"

const (
	defaultOverlayTimeout = 5 * time.Second
	defaultLogLevel       = "info"
)

// Config is the daemon configuration. Preferences live in the encrypted store;
// this file only carries operational settings.
type Config struct {
	Monitor MonitorConfig `mapstructure:"monitor"`
	Overlay OverlayConfig `mapstructure:"overlay"`
	Logging LoggingConfig `mapstructure:"logging"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
}

type MonitorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ExemptApps   []string      `mapstructure:"exempt_apps"`
}

// OverlayConfig holds the shell hooks that render the overlay.
type OverlayConfig struct {
	DimInCommand  string        `mapstructure:"dim_in_command"`
	DimOutCommand string        `mapstructure:"dim_out_command"`
	StyleCommand  string        `mapstructure:"style_command"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type DaemonConfig struct {
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	GuardianCheckInterval time.Duration `mapstructure:"guardian_check_interval"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	service := daemon.DefaultServiceConfig()
	guardian := daemon.DefaultGuardianConfig()
	return &Config{
		Monitor: MonitorConfig{
			PollInterval: service.PollInterval,
			ExemptApps:   []string{},
		},
		Overlay: OverlayConfig{
			Timeout: defaultOverlayTimeout,
		},
		Logging: LoggingConfig{
			Level: defaultLogLevel,
		},
		Daemon: DaemonConfig{
			HeartbeatInterval:     service.HeartbeatInterval,
			GuardianCheckInterval: guardian.ServiceCheckInterval,
		},
	}
}

// Service converts to the service daemon configuration.
func (c *Config) Service(execPath string) daemon.ServiceConfig {
	return daemon.ServiceConfig{
		PollInterval:      c.Monitor.PollInterval,
		HeartbeatInterval: c.Daemon.HeartbeatInterval,
		ExemptApps:        append([]string(nil), c.Monitor.ExemptApps...),
		ExecPath:          execPath,
	}
}

// Guardian converts to the guardian daemon configuration.
func (c *Config) Guardian() daemon.GuardianConfig {
	return daemon.GuardianConfig{
		ServiceCheckInterval: c.Daemon.GuardianCheckInterval,
		HeartbeatInterval:    c.Daemon.HeartbeatInterval,
	}
}

// OverlayHooks converts to the overlay hook set.
func (c *Config) OverlayHooks() infra.OverlayHooks {
	return infra.OverlayHooks{
		DimIn:   c.Overlay.DimInCommand,
		DimOut:  c.Overlay.DimOutCommand,
		Style:   c.Overlay.StyleCommand,
		Timeout: c.Overlay.Timeout,
	}
}

// LogLevel parses the configured level, falling back to info.
func (c *Config) LogLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// Manager handles configuration loading, watching, and reloading.
type Manager struct {
	dir       string
	config    *Config
	viper     *viper.Viper
	logger    *zap.Logger
	mu        sync.RWMutex
	callbacks []func(*Config)
	watching  bool
}

// NewManager creates a manager for the config file in dir.
func NewManager(dir string) *Manager {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("toml")
	v.AddConfigPath(dir)

	// NIGHTMODE_MONITOR_POLL_INTERVAL overrides monitor.poll_interval, etc.
	v.SetEnvPrefix("NIGHTMODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Manager{
		dir:    dir,
		viper:  v,
		logger: zap.NewNop(),
	}
}

// SetLogger sets the logger used for reload diagnostics.
func (m *Manager) SetLogger(logger *zap.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Load reads the config file, writing one with defaults if it is missing.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setDefaults()

	if err := m.readConfigFile(); err != nil {
		return err
	}

	config, err := m.unmarshalConfig()
	if err != nil {
		return err
	}
	normalizeConfig(config)
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	return nil
}

// Get returns the current configuration, defaults if Load has not succeeded.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return DefaultConfig()
	}
	c := *m.config
	c.Monitor.ExemptApps = append([]string(nil), m.config.Monitor.ExemptApps...)
	return &c
}

// Watch starts watching the config file for changes and reloads automatically.
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching {
		return nil
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.mu.Lock()
		logger := m.logger
		logger.Debug("config change detected",
			zap.String("op", e.Op.String()),
			zap.String("file", e.Name))

		if err := m.reload(); err != nil {
			m.mu.Unlock()
			logger.Warn("failed to reload config, keeping previous", zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("file", e.Name))
		m.notifyCallbacksLocked()
	})
	m.viper.WatchConfig()

	m.watching = true
	return nil
}

// OnConfigChange registers a callback function to be called when config changes.
func (m *Manager) OnConfigChange(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callbacks = append(m.callbacks, callback)
}

// notifyCallbacksLocked copies callbacks and config, releases lock, then notifies.
// Must be called with m.mu held for write.
func (m *Manager) notifyCallbacksLocked() {
	config := m.config
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, callback := range callbacks {
		callback(config)
	}
}

// reload re-reads the file. Must be called with the lock held for write.
func (m *Manager) reload() error {
	if err := m.viper.ReadInConfig(); err != nil {
		return err
	}
	config, err := m.unmarshalConfig()
	if err != nil {
		return err
	}
	normalizeConfig(config)
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	m.config = config
	return nil
}

func (m *Manager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config file at %s: %w", m.Path(), err)
	}

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := m.viper.SafeWriteConfigAs(m.Path()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	if err := m.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read newly created config file: %w", err)
	}
	return nil
}

func (m *Manager) unmarshalConfig() (*Config, error) {
	config := &Config{}
	if err := m.viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file at %s: %w", m.Path(), err)
	}
	return config, nil
}

func (m *Manager) setDefaults() {
	defaults := DefaultConfig()

	m.viper.SetDefault("monitor.poll_interval", defaults.Monitor.PollInterval.String())
	m.viper.SetDefault("monitor.exempt_apps", defaults.Monitor.ExemptApps)

	m.viper.SetDefault("overlay.dim_in_command", defaults.Overlay.DimInCommand)
	m.viper.SetDefault("overlay.dim_out_command", defaults.Overlay.DimOutCommand)
	m.viper.SetDefault("overlay.style_command", defaults.Overlay.StyleCommand)
	m.viper.SetDefault("overlay.timeout", defaults.Overlay.Timeout.String())

	m.viper.SetDefault("logging.level", defaults.Logging.Level)

	m.viper.SetDefault("daemon.heartbeat_interval", defaults.Daemon.HeartbeatInterval.String())
	m.viper.SetDefault("daemon.guardian_check_interval", defaults.Daemon.GuardianCheckInterval.String())
}

func normalizeConfig(config *Config) {
	defaults := DefaultConfig()

	if config.Monitor.PollInterval <= 0 {
		config.Monitor.PollInterval = defaults.Monitor.PollInterval
	}
	if config.Overlay.Timeout <= 0 {
		config.Overlay.Timeout = defaults.Overlay.Timeout
	}
	if config.Daemon.HeartbeatInterval <= 0 {
		config.Daemon.HeartbeatInterval = defaults.Daemon.HeartbeatInterval
	}
	if config.Daemon.GuardianCheckInterval <= 0 {
		config.Daemon.GuardianCheckInterval = defaults.Daemon.GuardianCheckInterval
	}

	config.Logging.Level = strings.ToLower(strings.TrimSpace(config.Logging.Level))
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}

	apps := config.Monitor.ExemptApps[:0]
	for _, app := range config.Monitor.ExemptApps {
		if app = strings.TrimSpace(app); app != "" {
			apps = append(apps, app)
		}
	}
	config.Monitor.ExemptApps = apps
}

func validateConfig(config *Config) error {
	if _, err := zapcore.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if config.Monitor.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("monitor.poll_interval must be at least 10ms, got %s", config.Monitor.PollInterval)
	}
	return nil
}
