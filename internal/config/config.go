package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration.
type Config struct {
	Console   ConsoleConfig
	Board     BoardConfig
	Serial    SerialConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ConsoleConfig holds the HTTP console listener configuration.
type ConsoleConfig struct {
	Port     string `envconfig:"EMBER_PORT" default:"8000"`
	Host     string `envconfig:"EMBER_HOST" default:"0.0.0.0"`
	MaxConns int    `envconfig:"EMBER_MAX_CONNS" default:"256"`
}

// Addr returns the host:port the console listens on.
func (c ConsoleConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// BoardConfig locates the board description and application images.
type BoardConfig struct {
	// File is the board description (TOML or YAML). Empty means the
	// built-in demo board.
	File string `envconfig:"EMBER_BOARD" default:""`
	// ImageDirs are scanned for .img and .eab files referenced by
	// bare name from the board file.
	ImageDirs []string `envconfig:"EMBER_IMAGE_DIRS" default:"./images"`
}

// SerialConfig holds the pty serial console configuration.
type SerialConfig struct {
	Enabled bool `envconfig:"EMBER_SERIAL" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"EMBER_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"EMBER_LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the console's
// mutating endpoints.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"EMBER_RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"EMBER_RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"EMBER_RATE_LIMIT_ENABLED" default:"true"`
}

// Load reads configuration from EMBER_-prefixed environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns
// the defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the built-in defaults, ignoring the environment.
func Default() *Config {
	return &Config{
		Console: ConsoleConfig{
			Port:     "8000",
			Host:     "0.0.0.0",
			MaxConns: 256,
		},
		Board: BoardConfig{
			ImageDirs: []string{"./images"},
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
