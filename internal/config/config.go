// Package config loads the server configuration from an optional yaml file
// and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/zulfikawr/beam/internal/protocol"
)

// Config represents the server configuration.
type Config struct {
	Host              string  `mapstructure:"host"`
	Port              int     `mapstructure:"port"`
	SessionTTLMs      int64   `mapstructure:"session_ttl_ms"`
	MaxFileSizeBytes  int64   `mapstructure:"max_file_size_bytes"`
	MaxTotalBytes     int64   `mapstructure:"max_total_bytes"`
	CleanupIntervalMs int64   `mapstructure:"cleanup_interval_ms"`
	RPCTimeoutMs      int64   `mapstructure:"rpc_timeout_ms"`
	FramesPerSecond   float64 `mapstructure:"frames_per_second"` // 0 = no limit
	EnableHTTP3       bool    `mapstructure:"enable_http3"`
	EnableMDNS        bool    `mapstructure:"enable_mdns"`
	NoQR              bool    `mapstructure:"no_qr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              3000,
		SessionTTLMs:      protocol.DefaultSessionTTL.Milliseconds(),
		MaxFileSizeBytes:  protocol.DefaultMaxFileSize,
		MaxTotalBytes:     protocol.DefaultMaxTotal,
		CleanupIntervalMs: protocol.DefaultCleanupInterval.Milliseconds(),
		RPCTimeoutMs:      protocol.DefaultRPCTimeout.Milliseconds(),
		FramesPerSecond:   0,
		EnableHTTP3:       true,
		EnableMDNS:        true,
		NoQR:              false,
	}
}

// envBindings maps config keys to the environment variables that override
// them. The names are part of the deployment contract.
var envBindings = map[string]string{
	"host":                "HOST",
	"port":                "PORT",
	"session_ttl_ms":      "SESSION_TTL_MS",
	"max_file_size_bytes": "MAX_FILE_SIZE_BYTES",
	"max_total_bytes":     "MAX_TOTAL_BYTES",
	"cleanup_interval_ms": "CLEANUP_INTERVAL_MS",
	"rpc_timeout_ms":      "RPC_TIMEOUT_MS",
}

// Load reads configuration from file (if present) and the environment.
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("beam")
	v.SetConfigType("yaml")
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "beam"))
	}
	v.AddConfigPath("/etc/beam")
	v.AddConfigPath(".")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A config file exists but is broken; surface that instead of
			// silently running on defaults.
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SessionTTLMs <= 0 {
		return fmt.Errorf("session TTL must be positive, got %dms", c.SessionTTLMs)
	}
	if c.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("max file size must be positive, got %d", c.MaxFileSizeBytes)
	}
	if c.MaxTotalBytes < c.MaxFileSizeBytes {
		return fmt.Errorf("total byte budget %d is smaller than the per-file cap %d", c.MaxTotalBytes, c.MaxFileSizeBytes)
	}
	if c.CleanupIntervalMs <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %dms", c.CleanupIntervalMs)
	}
	if c.RPCTimeoutMs <= 0 {
		return fmt.Errorf("rpc timeout must be positive, got %dms", c.RPCTimeoutMs)
	}
	return nil
}

// SessionTTL returns the session time-to-live as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMs) * time.Millisecond
}

// CleanupInterval returns the cleanup tick period as a duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// RPCTimeout returns the client-side ack deadline as a duration.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}
