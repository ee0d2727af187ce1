package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/pseudocoder/console/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	return path
}

// TestLoad_AllFields verifies that all config fields are parsed correctly from TOML.
func TestLoad_AllFields(t *testing.T) {
	path := writeConfig(t, `
gateway_addr = "gw.example.com:443"
tls = true
device_id = "dev-42"
device_secret = "hunter2"
connect_timeout_ms = 5000
heartbeat_interval_ms = 15000
reconnect_base_delay_ms = 500
reconnect_max_delay_ms = 60000
max_reconnect_attempts = 8
queue_capacity = 50
queue_max_retries = 2
operation_retention_ms = 10000
command_rate = 2.5
command_burst = 3
log_level = "debug"
log_format = "json"
log_file = "/var/log/devconsole.log"
metrics_addr = "127.0.0.1:9102"
store_path = "/tmp/console.db"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.GatewayAddr != "gw.example.com:443" {
		t.Errorf("GatewayAddr = %q", cfg.GatewayAddr)
	}
	if !cfg.TLS {
		t.Error("TLS = false, want true")
	}
	if cfg.DeviceID != "dev-42" || cfg.DeviceSecret != "hunter2" {
		t.Errorf("device = %q/%q", cfg.DeviceID, cfg.DeviceSecret)
	}
	if cfg.ConnectTimeoutMs != 5000 {
		t.Errorf("ConnectTimeoutMs = %d, want 5000", cfg.ConnectTimeoutMs)
	}
	if cfg.HeartbeatIntervalMs != 15000 {
		t.Errorf("HeartbeatIntervalMs = %d, want 15000", cfg.HeartbeatIntervalMs)
	}
	if cfg.ReconnectBaseDelayMs != 500 || cfg.ReconnectMaxDelayMs != 60000 {
		t.Errorf("reconnect delays = %d/%d", cfg.ReconnectBaseDelayMs, cfg.ReconnectMaxDelayMs)
	}
	if cfg.MaxReconnectAttempts != 8 {
		t.Errorf("MaxReconnectAttempts = %d, want 8", cfg.MaxReconnectAttempts)
	}
	if cfg.QueueCapacity != 50 || cfg.QueueMaxRetries != 2 {
		t.Errorf("queue = %d/%d", cfg.QueueCapacity, cfg.QueueMaxRetries)
	}
	if cfg.OperationRetentionMs != 10000 {
		t.Errorf("OperationRetentionMs = %d", cfg.OperationRetentionMs)
	}
	if cfg.CommandRate != 2.5 || cfg.CommandBurst != 3 {
		t.Errorf("command limits = %v/%d", cfg.CommandRate, cfg.CommandBurst)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.LogFile != "/var/log/devconsole.log" {
		t.Errorf("logging = %q/%q/%q", cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	}
	if cfg.MetricsAddr != "127.0.0.1:9102" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.StorePath != "/tmp/console.db" {
		t.Errorf("StorePath = %q", cfg.StorePath)
	}

	if err := cfg.WithDefaults().Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

// TestLoad_PartialConfig verifies that missing fields stay zero and are
// filled by WithDefaults.
func TestLoad_PartialConfig(t *testing.T) {
	path := writeConfig(t, `gateway_addr = "10.0.0.5:7443"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HeartbeatIntervalMs != 0 {
		t.Errorf("HeartbeatIntervalMs = %d, want 0 before defaults", cfg.HeartbeatIntervalMs)
	}

	d := cfg.WithDefaults()
	if d.GatewayAddr != "10.0.0.5:7443" {
		t.Errorf("GatewayAddr overwritten: %q", d.GatewayAddr)
	}
	if d.HeartbeatInterval() != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", d.HeartbeatInterval())
	}
	if d.ConnectTimeout() != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", d.ConnectTimeout())
	}
	if d.ReconnectBaseDelay() != time.Second || d.ReconnectMaxDelay() != 5*time.Minute {
		t.Errorf("reconnect delays = %v/%v", d.ReconnectBaseDelay(), d.ReconnectMaxDelay())
	}
	if d.MaxReconnectAttempts != 5 || d.QueueCapacity != 100 || d.QueueMaxRetries != 3 {
		t.Errorf("defaults = %+v", d)
	}
	if d.OperationRetention() != 30*time.Second {
		t.Errorf("OperationRetention = %v", d.OperationRetention())
	}
	if d.LogLevel != "info" || d.LogFormat != "console" {
		t.Errorf("logging defaults = %q/%q", d.LogLevel, d.LogFormat)
	}
	if err := d.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

// TestLoad_ExplicitPath_NotFound verifies that a missing explicit file is an error.
func TestLoad_ExplicitPath_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing explicit path")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %v", err)
	}
}

// TestLoad_EmptyPath_NoDefaultFile verifies that a missing default file is fine.
func TestLoad_EmptyPath_NoDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.GatewayAddr != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

// TestLoad_EmptyPath_DefaultFileExists verifies the default location is read.
func TestLoad_EmptyPath_DefaultFileExists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, DefaultDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`device_id = "from-default"`), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.DeviceID != "from-default" {
		t.Errorf("DeviceID = %q, want from-default", cfg.DeviceID)
	}
}

// TestLoad_InvalidTOML verifies parse errors are reported.
func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, `gateway_addr = [unterminated`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on invalid TOML")
	}
}

// TestLoad_UnknownKey verifies typos in the file are not silently ignored.
func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `heartbeat_interval = 5`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "heartbeat_interval") {
		t.Fatalf("Load() error = %v, want unknown key error", err)
	}
}

// TestDefaultConfigPath verifies the default location under $HOME.
func TestDefaultConfigPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("DefaultConfigPath() error: %v", err)
	}
	if want := filepath.Join(home, ".devconsole", "config.toml"); path != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", path, want)
	}

	store, _ := DefaultStorePath()
	if want := filepath.Join(home, ".devconsole", "console.db"); store != want {
		t.Errorf("DefaultStorePath() = %q, want %q", store, want)
	}
}

// TestValidate rejects out of range values with config.invalid.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, "max_reconnect_attempts"},
		{"zero capacity", func(c *Config) { c.QueueCapacity = -5 }, "queue_capacity"},
		{"negative timeout", func(c *Config) { c.ConnectTimeoutMs = -1 }, "connect_timeout_ms"},
		{"negative rate", func(c *Config) { c.CommandRate = -1 }, "command_rate"},
		{"retries below -1", func(c *Config) { c.QueueMaxRetries = -2 }, "queue_max_retries"},
		{"max below base", func(c *Config) { c.ReconnectBaseDelayMs = 5000; c.ReconnectMaxDelayMs = 1000 }, "reconnect_max_delay_ms"},
		{"bad level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{}.WithDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Fatalf("Validate() = %v, want config.invalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err.Error(), tt.field)
			}
		})
	}
}

// TestValidate_Valid_EmptyConfig verifies defaults alone are valid.
func TestValidate_Valid_EmptyConfig(t *testing.T) {
	if err := (Config{}).WithDefaults().Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

// TestValidate_NoQueueRetries verifies -1 is accepted and kept by
// WithDefaults, so a configuration can turn redelivery retries off.
func TestValidate_NoQueueRetries(t *testing.T) {
	cfg := Config{QueueMaxRetries: -1}.WithDefaults()
	if cfg.QueueMaxRetries != -1 {
		t.Fatalf("QueueMaxRetries = %d, want -1", cfg.QueueMaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}
