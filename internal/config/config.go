// Package config provides configuration management for parley.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38585

	// DefaultMaxConns is the default database connection pool size.
	DefaultMaxConns = 4

	// DriverSQLite selects the embedded SQLite backend.
	DriverSQLite = "sqlite"

	// DriverPostgres selects the PostgreSQL backend.
	DriverPostgres = "postgres"
)

// Config holds the application configuration.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// settings file in the data directory, then PARLEY_* environment variables.
type Config struct {
	WorkerPort int    `yaml:"worker_port" env:"PARLEY_WORKER_PORT"`
	DBDriver   string `yaml:"db_driver" env:"PARLEY_DB_DRIVER"`
	DBPath     string `yaml:"db_path" env:"PARLEY_DB_PATH"`
	// DatabaseURL is the PostgreSQL DSN, used when DBDriver is "postgres".
	DatabaseURL string `yaml:"database_url" env:"PARLEY_DATABASE_URL"`
	MaxConns    int    `yaml:"max_conns" env:"PARLEY_MAX_CONNS"`
	LogLevel    string `yaml:"log_level" env:"PARLEY_LOG_LEVEL"`
	// DefaultConversation labels statements created without a conversation.
	DefaultConversation string `yaml:"default_conversation" env:"PARLEY_DEFAULT_CONVERSATION"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.parley).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".parley")
}

// DBPath returns the default database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "parley.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:          DefaultWorkerPort,
		DBDriver:            DriverSQLite,
		DBPath:              DBPath(),
		MaxConns:            DefaultMaxConns,
		LogLevel:            "info",
		DefaultConversation: "default",
	}
}

// Load resolves the configuration from defaults, the settings file at
// path (skipped when absent) and environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.WorkerPort <= 0 {
		cfg.WorkerPort = DefaultWorkerPort
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.DBDriver != DriverSQLite && cfg.DBDriver != DriverPostgres {
		return nil, fmt.Errorf("unknown db_driver %q", cfg.DBDriver)
	}
	if cfg.DBDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("db_driver is postgres but database_url is empty")
	}

	return cfg, nil
}

// Get returns the global configuration, loading it on first use.
// A broken settings file falls back to defaults rather than aborting.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load(SettingsPath())
		if err != nil {
			cfg = Default()
		}
		configMu.Lock()
		globalConfig = cfg
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Reload re-reads the settings file and replaces the global config.
func Reload() (*Config, error) {
	cfg, err := Load(SettingsPath())
	if err != nil {
		return nil, err
	}
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := fmt.Sprintf(`worker_port: %d
db_driver: sqlite
max_conns: %d
log_level: info
default_conversation: default
`, DefaultWorkerPort, DefaultMaxConns)

	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}
