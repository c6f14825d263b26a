package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Load when the file omits a value.
const (
	DefaultDialTimeout      = 15 * time.Second
	DefaultReconnectBase    = 500 * time.Millisecond
	DefaultReconnectMax     = 30 * time.Second
	DefaultReconnectRetries = 10
	DefaultSendRate         = 5.0 // messages per second
	DefaultSendBurst        = 10
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the REST base, e.g. "https://chat.example.com".
	// SocketURL is the event channel endpoint; derived from ServerURL when empty.
	ServerURL string `toml:"server_url"`
	SocketURL string `toml:"socket_url"`

	// CredentialPath points at a file holding the bearer token. When empty the
	// CHATD_TOKEN environment variable is used instead.
	CredentialPath string `toml:"credential_path"`

	// MetricsAddr enables the Prometheus endpoint when non-empty, e.g. "127.0.0.1:9390".
	MetricsAddr string `toml:"metrics_addr"`

	DialTimeoutSeconds  int     `toml:"dial_timeout_seconds"`
	ReconnectBaseMillis int     `toml:"reconnect_base_millis"`
	ReconnectMaxSeconds int     `toml:"reconnect_max_seconds"`
	ReconnectRetries    int     `toml:"reconnect_retries"`
	SendRatePerSecond   float64 `toml:"send_rate_per_second"`
	SendBurst           int     `toml:"send_burst"`
}

// Load reads config from the given path and fills defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
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

// Default returns a config with all defaults applied and no server configured.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ReconnectRetries == 0 {
		c.ReconnectRetries = DefaultReconnectRetries
	}
	if c.SendRatePerSecond == 0 {
		c.SendRatePerSecond = DefaultSendRate
	}
	if c.SendBurst == 0 {
		c.SendBurst = DefaultSendBurst
	}
}

// DialTimeout returns the connection attempt timeout.
func (c *Config) DialTimeout() time.Duration {
	if c.DialTimeoutSeconds > 0 {
		return time.Duration(c.DialTimeoutSeconds) * time.Second
	}
	return DefaultDialTimeout
}

// ReconnectBase returns the initial reconnect backoff delay.
func (c *Config) ReconnectBase() time.Duration {
	if c.ReconnectBaseMillis > 0 {
		return time.Duration(c.ReconnectBaseMillis) * time.Millisecond
	}
	return DefaultReconnectBase
}

// SocketEndpoint returns the websocket base URL, deriving it from the REST
// base when socket_url is not set.
func (c *Config) SocketEndpoint() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://")
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://")
	}
	return c.ServerURL
}

// ReconnectMax returns the backoff ceiling.
func (c *Config) ReconnectMax() time.Duration {
	if c.ReconnectMaxSeconds > 0 {
		return time.Duration(c.ReconnectMaxSeconds) * time.Second
	}
	return DefaultReconnectMax
}
