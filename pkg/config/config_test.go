package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "", cfg.Backend, "empty backend MUST mean platform default")
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 10*time.Second, cfg.ValidateTimeout)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.NotificationTimeout)
	assert.Equal(t, 3, cfg.WakeRepeats)
	assert.Equal(t, 100*time.Millisecond, cfg.WakeInterval)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "go-ble", cfg.Backend)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Address)
	assert.Equal(t, 3*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.NotificationTimeout)
	assert.Equal(t, 5, cfg.WakeRepeats)
	assert.Equal(t, "json", cfg.OutputFormat)

	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout, "unset fields MUST keep their defaults")
	assert.Equal(t, 100*time.Millisecond, cfg.WakeInterval)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing explicit file", filepath.Join(dir, "nope.yaml"), "reading config file"},
		{"malformed yaml", write("bad.yaml", "scan_timeout: [1"), "parsing config file"},
		{"bad duration", write("dur.yaml", "scan_timeout: soon"), "parsing config file"},
		{"invalid value", write("fmt.yaml", "output_format: csv"), "output_format must be table or json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.path)
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unknown backend", func(c *Config) { c.Backend = "bluez" }, `backend must be go-ble or tinygo, got "bluez"`},
		{"zero scan timeout", func(c *Config) { c.ScanTimeout = 0 }, "scan_timeout must be > 0"},
		{"negative validate timeout", func(c *Config) { c.ValidateTimeout = -time.Second }, "validate_timeout must be > 0"},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }, "connect_timeout must be > 0"},
		{"negative notification timeout", func(c *Config) { c.NotificationTimeout = -1 }, "notification_timeout must not be negative"},
		{"negative wake repeats", func(c *Config) { c.WakeRepeats = -1 }, "wake_repeats must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("zero notification timeout is allowed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.NotificationTimeout = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfig_SessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NotificationTimeout = 2 * time.Second
	cfg.WakeRepeats = 1

	opts := cfg.SessionOptions()

	assert.Equal(t, 2*time.Second, opts.NotificationTimeout)
	assert.Equal(t, 1, opts.WakeRepeats)
	assert.Equal(t, cfg.ConnectTimeout, opts.ConnectTimeout)
	assert.Equal(t, cfg.WakeInterval, opts.WakeInterval)
	assert.Equal(t, 64, opts.EventBuffer)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with info level", "info", logrus.InfoLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"creates logger with error level", "error", logrus.ErrorLevel},
		{"falls back to info", "bogus", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
