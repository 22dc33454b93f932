package stats

import "time"

// Config defines configuration for the statistics exporter
type Config struct {
	// FetchTimeout bounds a single namespace read, 0 = no limit
	FetchTimeout time.Duration `toml:"fetch_timeout"`

	// MaxRows caps the rows of one export, 0 = no limit
	MaxRows int `toml:"max_rows"`
}

// DefaultConfig returns default exporter configuration
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 30 * time.Second,
		MaxRows:      0,
	}
}
