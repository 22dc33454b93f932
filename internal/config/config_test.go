package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Database defaults
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected driver postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxOpenConns != 4 {
		t.Errorf("expected max_open_conns 4, got %d", cfg.Database.MaxOpenConns)
	}

	// Collector defaults
	if cfg.Powa.Frequency != 300000 {
		t.Errorf("expected frequency 300000, got %d", cfg.Powa.Frequency)
	}
	if cfg.Powa.MinFrequency != 5000 {
		t.Errorf("expected min_frequency 5000, got %d", cfg.Powa.MinFrequency)
	}
	if cfg.Powa.Retention != 24*time.Hour {
		t.Errorf("expected retention 24h, got %v", cfg.Powa.Retention)
	}
	if cfg.Powa.Coalesce != 100 {
		t.Errorf("expected coalesce 100, got %d", cfg.Powa.Coalesce)
	}
	if cfg.Powa.Database != "powa" {
		t.Errorf("expected database powa, got %s", cfg.Powa.Database)
	}
	if cfg.Powa.FrequencyValidation != "reject" || cfg.Powa.CatchUp != "replay" {
		t.Errorf("unexpected modes: %s / %s", cfg.Powa.FrequencyValidation, cfg.Powa.CatchUp)
	}

	// Snapshot defaults
	if cfg.Snapshot.Query != "SELECT public.powa_take_snapshot()" {
		t.Errorf("unexpected snapshot query: %s", cfg.Snapshot.Query)
	}
	if cfg.Snapshot.ApplicationName != "PoWA - collector" {
		t.Errorf("unexpected application name: %s", cfg.Snapshot.ApplicationName)
	}

	// HTTP defaults
	if !cfg.HTTP.Enabled {
		t.Error("expected HTTP enabled by default")
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected HTTP port 8080, got %d", cfg.HTTP.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := writeConfig(t, `
[database]
driver = "postgres"
dsn = "postgres://localhost/powa"
max_open_conns = 8

[powa]
frequency = 60000
catch_up = "collapse"
retention = "2h"
coalesce = 20
ignored_users = ["replicator", "backup"]
debug = true

[snapshot]
apply_settings = false

[stats]
fetch_timeout = "5s"

[http]
enabled = false
port = 9000
`)

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Check overridden values
	if cfg.Database.MaxOpenConns != 8 {
		t.Errorf("expected max_open_conns 8, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Powa.Frequency != 60000 {
		t.Errorf("expected frequency 60000, got %d", cfg.Powa.Frequency)
	}
	if cfg.Powa.Retention != 2*time.Hour {
		t.Errorf("expected retention 2h, got %v", cfg.Powa.Retention)
	}
	if len(cfg.Powa.IgnoredUsers) != 2 || cfg.Powa.IgnoredUsers[1] != "backup" {
		t.Errorf("unexpected ignored users: %v", cfg.Powa.IgnoredUsers)
	}
	if cfg.Snapshot.ApplySettings {
		t.Error("expected apply_settings disabled")
	}
	if cfg.Stats.FetchTimeout != 5*time.Second {
		t.Errorf("expected fetch_timeout 5s, got %v", cfg.Stats.FetchTimeout)
	}
	if cfg.HTTP.Enabled {
		t.Error("expected HTTP disabled")
	}

	// Check default values still present
	if cfg.Database.MaxIdleConns != 2 {
		t.Errorf("expected max_idle_conns default 2, got %d", cfg.Database.MaxIdleConns)
	}
	if cfg.Powa.MinFrequency != 5000 {
		t.Errorf("expected min_frequency default 5000, got %d", cfg.Powa.MinFrequency)
	}
	if cfg.Snapshot.Query != "SELECT public.powa_take_snapshot()" {
		t.Errorf("expected default snapshot query, got %s", cfg.Snapshot.Query)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_UnknownKey(t *testing.T) {
	configPath := writeConfig(t, `
[powa]
frequncy = 60000
`)

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	configPath := writeConfig(t, `[powa
frequency = `)

	if _, err := LoadFromFile(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error for empty config path, got %v", err)
	}

	// Should return defaults
	if cfg.Powa.Frequency != int(policy.DefaultFrequency) {
		t.Errorf("expected default frequency, got %d", cfg.Powa.Frequency)
	}
}

func TestValidate_Success(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"invalid driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty driver", func(c *Config) { c.Database.Driver = "" }},
		{"empty DSN", func(c *Config) { c.Database.DSN = "" }},
		{"zero frequency", func(c *Config) { c.Powa.Frequency = 0 }},
		{"negative frequency", func(c *Config) { c.Powa.Frequency = -5 }},
		{"zero min frequency", func(c *Config) { c.Powa.MinFrequency = 0 }},
		{"bad validation mode", func(c *Config) { c.Powa.FrequencyValidation = "ignore" }},
		{"bad catch up mode", func(c *Config) { c.Powa.CatchUp = "burst" }},
		{"low coalesce", func(c *Config) { c.Powa.Coalesce = 4 }},
		{"negative retention", func(c *Config) { c.Powa.Retention = -time.Minute }},
		{"empty snapshot query", func(c *Config) { c.Snapshot.Query = "" }},
		{"negative max rows", func(c *Config) { c.Stats.MaxRows = -1 }},
		{"invalid HTTP port", func(c *Config) { c.HTTP.Port = 99999 }},
		{"invalid metrics port", func(c *Config) { c.Metrics.Port = 0 }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_DisabledFrequency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Powa.Frequency = -1

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected -1 to be accepted, got %v", err)
	}
}

func TestValidate_FrequencyFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Powa.Frequency = 1000

	err := cfg.Validate()
	if !errors.Is(err, policy.ErrFrequencyTooLow) {
		t.Fatalf("expected ErrFrequencyTooLow in reject mode, got %v", err)
	}

	cfg.Powa.FrequencyValidation = "fatal"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected fatal mode to defer the check, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Powa.Frequency = 60000
	cfg.Powa.CatchUp = "collapse"
	cfg.Powa.FrequencyValidation = "fatal"
	cfg.Powa.IgnoredUsers = []string{"replicator"}
	cfg.Powa.Debug = true

	settings, err := cfg.Powa.Settings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if settings.Frequency != 60000 || settings.MinFrequency != 5000 {
		t.Errorf("unexpected frequencies: %v / %v", settings.Frequency, settings.MinFrequency)
	}
	if settings.CatchUp != policy.CatchUpCollapse || settings.Validation != policy.ValidationFatal {
		t.Errorf("unexpected modes: %v / %v", settings.CatchUp, settings.Validation)
	}
	if !settings.Debug {
		t.Error("expected debug to be carried")
	}
	if settings.Knobs.IgnoredUsersList() != "replicator" {
		t.Errorf("unexpected knobs: %+v", settings.Knobs)
	}

	// The settings own their slice
	cfg.Powa.IgnoredUsers[0] = "changed"
	if settings.Knobs.IgnoredUsers[0] != "replicator" {
		t.Error("expected knobs not to alias the config")
	}
}

// FileSource Tests

func TestFileSource_Load(t *testing.T) {
	configPath := writeConfig(t, `
[powa]
frequency = -1
coalesce = 50
`)
	source := NewFileSource(configPath)

	settings, err := source.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Frequency != policy.Disabled {
		t.Errorf("expected disabled, got %v", settings.Frequency)
	}
	if settings.Knobs.Coalesce != 50 {
		t.Errorf("expected coalesce 50, got %d", settings.Knobs.Coalesce)
	}

	// The file is re-read on every load
	if err := os.WriteFile(configPath, []byte("[powa]\nfrequency = 60000\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	settings, err = source.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.Frequency != 60000 {
		t.Errorf("expected reloaded frequency 60000, got %v", settings.Frequency)
	}
}

func TestFileSource_PassesLowFrequencyThrough(t *testing.T) {
	configPath := writeConfig(t, `
[powa]
frequency = 1000
`)

	settings, err := NewFileSource(configPath).Load()
	if err != nil {
		t.Fatalf("expected the floor to be left to the reconfiguration controller, got %v", err)
	}
	if settings.Frequency != 1000 {
		t.Errorf("expected frequency 1000, got %v", settings.Frequency)
	}
}

func TestFileSource_Errors(t *testing.T) {
	if _, err := NewFileSource("").Load(); !errors.Is(err, ErrNoConfigFile) {
		t.Errorf("expected ErrNoConfigFile, got %v", err)
	}

	configPath := writeConfig(t, `
[powa]
catch_up = "sometimes"
`)
	if _, err := NewFileSource(configPath).Load(); err == nil {
		t.Error("expected error for invalid catch_up")
	}
}
