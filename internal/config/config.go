package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatkit/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// Server endpoints.
	APIBaseURL string `toml:"api_base_url"`
	SocketURL  string `toml:"socket_url"`

	// Live channel tuning. Zero values fall back to the defaults below.
	AckTimeoutSeconds     int `toml:"ack_timeout_seconds"`
	ReconnectAttempts     int `toml:"reconnect_attempts"`
	ReconnectDelaySeconds int `toml:"reconnect_delay_seconds"`

	// Client behavior.
	TypingTTLSeconds  int `toml:"typing_ttl_seconds"`
	PageSize          int `toml:"page_size"`
	OutboxMaxAttempts int `toml:"outbox_max_attempts"`
}

// Default returns the built-in configuration for a local dev server.
func Default() *Config {
	return &Config{
		APIBaseURL:            "http://localhost:8080",
		SocketURL:             "ws://localhost:8080/ws",
		AckTimeoutSeconds:     10,
		ReconnectAttempts:     5,
		ReconnectDelaySeconds: 2,
		TypingTTLSeconds:      3,
		PageSize:              50,
		OutboxMaxAttempts:     5,
	}
}

// AckTimeout returns the ack timeout as a duration.
func (c *Config) AckTimeout() time.Duration {
	return secondsOr(c.AckTimeoutSeconds, 10)
}

// ReconnectDelay returns the fixed delay between reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return secondsOr(c.ReconnectDelaySeconds, 2)
}

// TypingTTL returns the typing indicator expiry window.
func (c *Config) TypingTTL() time.Duration {
	return secondsOr(c.TypingTTLSeconds, 3)
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
