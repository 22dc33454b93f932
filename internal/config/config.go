package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/livinlefevreloca/powa-collector/internal/db"
	"github.com/livinlefevreloca/powa-collector/internal/policy"
	"github.com/livinlefevreloca/powa-collector/internal/scheduler"
	"github.com/livinlefevreloca/powa-collector/internal/stats"
)

// Config represents the application configuration
type Config struct {
	Database db.Config         `toml:"database"`
	Powa     PowaConfig        `toml:"powa"`
	Snapshot db.SnapshotConfig `toml:"snapshot"`
	Stats    stats.Config      `toml:"stats"`
	HTTP     HTTPConfig        `toml:"http"`
	Metrics  MetricsConfig     `toml:"metrics"`
	Logging  LoggingConfig     `toml:"logging"`
}

// PowaConfig holds the collector settings. Everything here is re-read on reload.
type PowaConfig struct {
	// Frequency is the snapshot interval in milliseconds, -1 disables snapshots
	Frequency           int    `toml:"frequency"`
	MinFrequency        int    `toml:"min_frequency"`
	FrequencyValidation string `toml:"frequency_validation"`
	CatchUp             string `toml:"catch_up"`

	Retention    time.Duration `toml:"retention"`
	Coalesce     int           `toml:"coalesce"`
	IgnoredUsers []string      `toml:"ignored_users"`
	Debug        bool          `toml:"debug"`

	// Database is where the snapshot procedure lives. Empty keeps the DSN's database.
	Database string `toml:"database"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "postgres",
			DSN:             "postgres://localhost:5432/powa?sslmode=disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Powa: PowaConfig{
			Frequency:           int(policy.DefaultFrequency),
			MinFrequency:        int(policy.DefaultMinFrequency),
			FrequencyValidation: policy.ValidationReject.String(),
			CatchUp:             policy.CatchUpReplay.String(),
			Retention:           policy.DefaultRetention,
			Coalesce:            policy.DefaultCoalesce,
			Database:            "powa",
		},
		Snapshot: db.DefaultSnapshotConfig(),
		Stats:    stats.DefaultConfig(),
		HTTP: HTTPConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undecoded)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return defaults
	if configPath == "" {
		return DefaultConfig(), nil
	}

	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Collector validation
	if err := c.Powa.Validate(); err != nil {
		return err
	}

	if c.Snapshot.Query == "" {
		return fmt.Errorf("snapshot query must not be empty")
	}

	if c.Stats.FetchTimeout < 0 {
		return fmt.Errorf("stats fetch_timeout must not be negative")
	}
	if c.Stats.MaxRows < 0 {
		return fmt.Errorf("stats max_rows must not be negative")
	}

	// HTTP validation
	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return fmt.Errorf("HTTP port must be between 1 and 65535")
		}
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// Validate checks the collector settings
func (p PowaConfig) Validate() error {
	return p.validate(true)
}

// validate checks the collector settings. The interval floor is only
// enforced when checkFloor is set and the validation mode is reject; in
// fatal mode a too-low interval is accepted and the worker stops when it
// tries to use it.
func (p PowaConfig) validate(checkFloor bool) error {
	if p.MinFrequency <= 0 {
		return fmt.Errorf("powa min_frequency must be positive")
	}

	validation, err := policy.ParseValidation(p.FrequencyValidation)
	if err != nil {
		return err
	}
	if _, err := policy.ParseCatchUp(p.CatchUp); err != nil {
		return err
	}

	if p.Frequency != int(policy.Disabled) && p.Frequency <= 0 {
		return fmt.Errorf("powa frequency must be positive or -1, got %d", p.Frequency)
	}

	if err := p.Knobs().Validate(); err != nil {
		return err
	}

	if checkFloor && validation == policy.ValidationReject {
		pol := policy.Policy{MinInterval: policy.Frequency(p.MinFrequency)}
		if !pol.Validate(policy.Frequency(p.Frequency)) {
			return fmt.Errorf("%w: frequency %d ms (minimum %d ms)",
				policy.ErrFrequencyTooLow, p.Frequency, p.MinFrequency)
		}
	}

	return nil
}

// Knobs returns the settings forwarded to the snapshot procedure
func (p PowaConfig) Knobs() policy.Knobs {
	return policy.Knobs{
		Retention:    p.Retention,
		Coalesce:     p.Coalesce,
		IgnoredUsers: append([]string(nil), p.IgnoredUsers...),
	}
}

// Settings converts the collector section into scheduler settings
func (p PowaConfig) Settings() (scheduler.Settings, error) {
	validation, err := policy.ParseValidation(p.FrequencyValidation)
	if err != nil {
		return scheduler.Settings{}, err
	}
	catchUp, err := policy.ParseCatchUp(p.CatchUp)
	if err != nil {
		return scheduler.Settings{}, err
	}

	return scheduler.Settings{
		Frequency:    policy.Frequency(p.Frequency),
		MinFrequency: policy.Frequency(p.MinFrequency),
		Validation:   validation,
		CatchUp:      catchUp,
		Knobs:        p.Knobs(),
		Debug:        p.Debug,
	}, nil
}

// ErrNoConfigFile is returned when reloading without a config file
var ErrNoConfigFile = errors.New("config: no configuration file to reload")

// FileSource re-reads the configuration file on every reload
type FileSource struct {
	path string
}

// NewFileSource creates a source reading path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load implements scheduler.ConfigSource. A frequency below the floor is
// passed through: the reconfiguration controller decides what to do with it
// according to the validation mode.
func (s *FileSource) Load() (scheduler.Settings, error) {
	if s.path == "" {
		return scheduler.Settings{}, ErrNoConfigFile
	}

	cfg, err := LoadFromFile(s.path)
	if err != nil {
		return scheduler.Settings{}, err
	}

	if err := cfg.Powa.validate(false); err != nil {
		return scheduler.Settings{}, err
	}

	return cfg.Powa.Settings()
}
