// Package config handles configuration loading, validation, and management for chordd.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"chordd/internal/timing"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Chord holds the chord/rollover classifier thresholds.
	Chord ChordConfig `toml:"chord" json:"chord" yaml:"chord"`

	// Library locates the chord library.
	Library LibraryConfig `toml:"library" json:"library" yaml:"library"`

	// Inject configures text injection.
	Inject InjectConfig `toml:"inject" json:"inject" yaml:"inject"`

	// Bus configures the D-Bus publisher.
	Bus BusConfig `toml:"bus" json:"bus" yaml:"bus"`

	// Metrics configures the metrics endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// ChordConfig holds the timing thresholds.
type ChordConfig struct {
	// BaseWindowMs is the nominal chord window in milliseconds.
	BaseWindowMs int `toml:"base_window_ms" json:"base_window_ms" yaml:"base_window_ms"`

	// RollThreshold is the roll score below which a key group is a chord.
	RollThreshold float64 `toml:"roll_threshold" json:"roll_threshold" yaml:"roll_threshold"`

	// TypingSpeedFactor scales how much the measured typing speed adjusts
	// the score and the window.
	TypingSpeedFactor float64 `toml:"typing_speed_factor" json:"typing_speed_factor" yaml:"typing_speed_factor"`

	// MinOverlapRatio is the minimum overlap/window ratio for a pair of
	// keys to count as simultaneous.
	MinOverlapRatio float64 `toml:"min_overlap_ratio" json:"min_overlap_ratio" yaml:"min_overlap_ratio"`
}

// LibraryConfig locates the chord library.
type LibraryConfig struct {
	// Path is the .zc library file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Watch reloads the library when the file changes.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`
}

// InjectConfig configures text injection.
type InjectConfig struct {
	// Backend is "ydotool" or "log" (log only, nothing typed).
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// SocketPath is the ydotoold socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// QueueSize bounds pending injections.
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`

	// StartDaemon starts ydotoold if it is not running.
	StartDaemon bool `toml:"start_daemon" json:"start_daemon" yaml:"start_daemon"`
}

// BusConfig configures the D-Bus publisher.
type BusConfig struct {
	// Enabled publishes each chord as a signal on the session bus.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	// Enabled serves metrics over HTTP.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Listen is the HTTP listen address.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	t := timing.DefaultConfig()

	return &Config{
		Version: Version,
		Chord: ChordConfig{
			BaseWindowMs:      int(t.BaseChordWindow / time.Millisecond),
			RollThreshold:     t.RollThreshold,
			TypingSpeedFactor: t.TypingSpeedFactor,
			MinOverlapRatio:   t.MinOverlapRatio,
		},
		Library: LibraryConfig{
			Path:  DefaultLibraryPath(),
			Watch: true,
		},
		Inject: InjectConfig{
			Backend:     "ydotool",
			SocketPath:  "/tmp/.ydotool_socket",
			QueueSize:   32,
			StartDaemon: true,
		},
		Bus: BusConfig{
			Enabled: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9187",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.ExpandPaths()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with CHORDD_.
func (c *Config) ApplyEnvOverrides() {
	// Library overrides
	if v := os.Getenv("CHORDD_LIBRARY"); v != "" {
		c.Library.Path = v
	}

	// Chord overrides
	if v := os.Getenv("CHORDD_BASE_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chord.BaseWindowMs = n
		}
	}
	if v := os.Getenv("CHORDD_ROLL_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Chord.RollThreshold = f
		}
	}

	// Inject overrides
	if v := os.Getenv("CHORDD_INJECT_BACKEND"); v != "" {
		c.Inject.Backend = v
	}
	if v := os.Getenv("YDOTOOL_SOCKET"); v != "" {
		c.Inject.SocketPath = v
	}
	if v := os.Getenv("CHORDD_YDOTOOL_SOCKET"); v != "" {
		c.Inject.SocketPath = v
	}

	// Metrics overrides
	if v := os.Getenv("CHORDD_METRICS_LISTEN"); v != "" {
		c.Metrics.Enabled = true
		c.Metrics.Listen = v
	}

	// Logging overrides
	if v := os.Getenv("CHORDD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CHORDD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("CHORDD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// ExpandPaths resolves a leading ~ in configured paths against the
// effective user's home.
func (c *Config) ExpandPaths() {
	c.Library.Path = expandPath(c.Library.Path)
	c.Inject.SocketPath = expandPath(c.Inject.SocketPath)
	c.Logging.FilePath = expandPath(c.Logging.FilePath)
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Timing returns the classifier thresholds.
func (c *Config) Timing() timing.Config {
	return timing.Config{
		BaseChordWindow:   time.Duration(c.Chord.BaseWindowMs) * time.Millisecond,
		RollThreshold:     c.Chord.RollThreshold,
		TypingSpeedFactor: c.Chord.TypingSpeedFactor,
		MinOverlapRatio:   c.Chord.MinOverlapRatio,
	}
}

// EncodeTOML renders the configuration as a TOML document.
func (c *Config) EncodeTOML() ([]byte, error) {
	var b bytes.Buffer
	enc := toml.NewEncoder(&b)
	enc.Indent = ""
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode TOML: %w", err)
	}
	return b.Bytes(), nil
}
