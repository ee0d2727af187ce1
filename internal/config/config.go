// Package config provides TOML configuration file loading and parsing for the console.
// The configuration file lives at ~/.devconsole/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/pseudocoder/console/internal/errors"
)

// Config represents the console configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// GatewayAddr is the host:port of the session gateway.
	// Default: 127.0.0.1:7443
	GatewayAddr string `toml:"gateway_addr"`

	// TLS selects wss:// instead of ws://.
	// Default: false
	TLS bool `toml:"tls"`

	// DeviceID is the device to open sessions on when no --device flag is given.
	DeviceID string `toml:"device_id"`

	// DeviceSecret signs the auth frame (HMAC-SHA256). Empty sends an
	// unsigned auth frame.
	DeviceSecret string `toml:"device_secret"`

	// ConnectTimeoutMs bounds each dial in milliseconds.
	// Default: 10000
	ConnectTimeoutMs int `toml:"connect_timeout_ms"`

	// HeartbeatIntervalMs is the interval between heartbeat frames.
	// Default: 30000
	HeartbeatIntervalMs int `toml:"heartbeat_interval_ms"`

	// ReconnectBaseDelayMs is the delay before the first retry; each
	// further retry doubles it.
	// Default: 1000
	ReconnectBaseDelayMs int `toml:"reconnect_base_delay_ms"`

	// ReconnectMaxDelayMs caps the retry delay.
	// Default: 300000
	ReconnectMaxDelayMs int `toml:"reconnect_max_delay_ms"`

	// MaxReconnectAttempts bounds automatic retries after a failure.
	// Default: 5
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`

	// QueueCapacity is the number of frames held per session while offline.
	// Default: 100
	QueueCapacity int `toml:"queue_capacity"`

	// QueueMaxRetries is how many failed redeliveries a queued frame survives.
	// 0 selects the default; -1 allows none.
	// Default: 3
	QueueMaxRetries int `toml:"queue_max_retries"`

	// OperationRetentionMs is how long finished file operations stay queryable.
	// Default: 30000
	OperationRetentionMs int `toml:"operation_retention_ms"`

	// CommandRate is the sustained number of commands per second.
	// Default: 10
	CommandRate float64 `toml:"command_rate"`

	// CommandBurst is the number of commands allowed in a burst.
	// Default: 5
	CommandBurst int `toml:"command_burst"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// LogFormat is "console" or "json".
	// Default: console
	LogFormat string `toml:"log_format"`

	// LogFile receives logs instead of stderr when set.
	LogFile string `toml:"log_file"`

	// MetricsAddr exposes Prometheus metrics on host:port/metrics when set.
	// Default: "" (disabled)
	MetricsAddr string `toml:"metrics_addr"`

	// StorePath is the SQLite database of recent connections.
	// Default: ~/.devconsole/console.db
	StorePath string `toml:"store_path"`
}

// DefaultConfigPath returns the default config file location: ~/.devconsole/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, "config.toml"), nil
}

// DefaultStorePath returns ~/.devconsole/console.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultDirName, "console.db"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.devconsole/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in config file %s", undecoded[0].String(), path)
	}

	return cfg, nil
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.GatewayAddr == "" {
		c.GatewayAddr = DefaultGatewayAddr
	}
	if c.ConnectTimeoutMs == 0 {
		c.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.ReconnectBaseDelayMs == 0 {
		c.ReconnectBaseDelayMs = DefaultReconnectBaseDelayMs
	}
	if c.ReconnectMaxDelayMs == 0 {
		c.ReconnectMaxDelayMs = DefaultReconnectMaxDelayMs
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.QueueMaxRetries == 0 {
		c.QueueMaxRetries = DefaultQueueMaxRetries
	}
	if c.OperationRetentionMs == 0 {
		c.OperationRetentionMs = DefaultOperationRetentionMs
	}
	if c.CommandRate == 0 {
		c.CommandRate = DefaultCommandRate
	}
	if c.CommandBurst == 0 {
		c.CommandBurst = DefaultCommandBurst
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.StorePath == "" {
		if p, err := DefaultStorePath(); err == nil {
			c.StorePath = p
		}
	}
	return c
}

// Validate rejects values that cannot be used. It is meant to run after
// WithDefaults and after CLI overrides were applied.
func (c Config) Validate() error {
	if c.GatewayAddr == "" {
		return apperrors.ConfigInvalid("gateway_addr", "must not be empty")
	}

	positive := []struct {
		field string
		value int
	}{
		{"connect_timeout_ms", c.ConnectTimeoutMs},
		{"heartbeat_interval_ms", c.HeartbeatIntervalMs},
		{"reconnect_base_delay_ms", c.ReconnectBaseDelayMs},
		{"reconnect_max_delay_ms", c.ReconnectMaxDelayMs},
		{"queue_capacity", c.QueueCapacity},
		{"operation_retention_ms", c.OperationRetentionMs},
		{"command_burst", c.CommandBurst},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return apperrors.ConfigInvalid(p.field, fmt.Sprintf("must be positive, got %d", p.value))
		}
	}

	if c.MaxReconnectAttempts < 0 {
		return apperrors.ConfigInvalid("max_reconnect_attempts", "must not be negative")
	}
	if c.QueueMaxRetries < -1 {
		return apperrors.ConfigInvalid("queue_max_retries", "must be -1 or more")
	}
	if c.CommandRate <= 0 {
		return apperrors.ConfigInvalid("command_rate", "must be positive")
	}
	if c.ReconnectMaxDelayMs < c.ReconnectBaseDelayMs {
		return apperrors.ConfigInvalid("reconnect_max_delay_ms", "must not be below reconnect_base_delay_ms")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.ConfigInvalid("log_level", fmt.Sprintf("unknown level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return apperrors.ConfigInvalid("log_format", fmt.Sprintf("unknown format %q", c.LogFormat))
	}
	return nil
}

// ConnectTimeout returns ConnectTimeoutMs as a duration.
func (c Config) ConnectTimeout() time.Duration { return ms(c.ConnectTimeoutMs) }

// HeartbeatInterval returns HeartbeatIntervalMs as a duration.
func (c Config) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }

// ReconnectBaseDelay returns ReconnectBaseDelayMs as a duration.
func (c Config) ReconnectBaseDelay() time.Duration { return ms(c.ReconnectBaseDelayMs) }

// ReconnectMaxDelay returns ReconnectMaxDelayMs as a duration.
func (c Config) ReconnectMaxDelay() time.Duration { return ms(c.ReconnectMaxDelayMs) }

// OperationRetention returns OperationRetentionMs as a duration.
func (c Config) OperationRetention() time.Duration { return ms(c.OperationRetentionMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
