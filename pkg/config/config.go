package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskble/internal/desk"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	// Backend is the BLE stack to use; empty selects the platform default.
	Backend string `yaml:"backend"`
	// Address is the preferred desk when several are in range.
	Address string `yaml:"address"`

	ScanTimeout         time.Duration `yaml:"scan_timeout" default:"10s"`
	ValidateTimeout     time.Duration `yaml:"validate_timeout" default:"10s"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" default:"10s"`
	NotificationTimeout time.Duration `yaml:"notification_timeout" default:"5s"`
	WakeRepeats         int           `yaml:"wake_repeats" default:"3"`
	WakeInterval        time.Duration `yaml:"wake_interval" default:"100ms"`

	OutputFormat string `yaml:"output_format" default:"table"` // table, json
}

var (
	backends      = []string{"", "go-ble", "tinygo"}
	outputFormats = []string{"table", "json"}
)

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns ~/.config/deskble/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "deskble", "config.yaml")
}

// Load reads a YAML file over the defaults. When path is empty the default
// path is used, and a missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if !oneOf(c.Backend, backends) {
		return fmt.Errorf("backend must be go-ble or tinygo, got %q", c.Backend)
	}
	if !oneOf(c.OutputFormat, outputFormats) {
		return fmt.Errorf("output_format must be table or json, got %q", c.OutputFormat)
	}

	for name, d := range map[string]time.Duration{
		"scan_timeout":     c.ScanTimeout,
		"validate_timeout": c.ValidateTimeout,
		"connect_timeout":  c.ConnectTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", name, d)
		}
	}
	if c.NotificationTimeout < 0 {
		return fmt.Errorf("notification_timeout must not be negative, got %s", c.NotificationTimeout)
	}
	if c.WakeInterval < 0 {
		return fmt.Errorf("wake_interval must not be negative, got %s", c.WakeInterval)
	}
	if c.WakeRepeats < 0 {
		return fmt.Errorf("wake_repeats must not be negative, got %d", c.WakeRepeats)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Level returns the parsed log level, Info when it cannot be parsed.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// SessionOptions maps the desk-related settings onto desk.Options.
func (c *Config) SessionOptions() *desk.Options {
	opts := desk.DefaultOptions()
	opts.ConnectTimeout = c.ConnectTimeout
	opts.NotificationTimeout = c.NotificationTimeout
	opts.WakeRepeats = c.WakeRepeats
	opts.WakeInterval = c.WakeInterval
	return opts
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
