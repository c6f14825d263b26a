package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "work",
		ServerURL:      "https://chat.example.com",
		MetricsAddr:    "127.0.0.1:9390",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DialTimeout() != DefaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", cfg.DialTimeout(), DefaultDialTimeout)
	}
	if cfg.ReconnectBase() != DefaultReconnectBase {
		t.Errorf("ReconnectBase = %v, want %v", cfg.ReconnectBase(), DefaultReconnectBase)
	}
	if cfg.ReconnectMax() != DefaultReconnectMax {
		t.Errorf("ReconnectMax = %v, want %v", cfg.ReconnectMax(), DefaultReconnectMax)
	}
	if cfg.ReconnectRetries != DefaultReconnectRetries {
		t.Errorf("ReconnectRetries = %d, want %d", cfg.ReconnectRetries, DefaultReconnectRetries)
	}
	if cfg.SendRatePerSecond != DefaultSendRate {
		t.Errorf("SendRatePerSecond = %v, want %v", cfg.SendRatePerSecond, DefaultSendRate)
	}
}

func TestExplicitTimeouts(t *testing.T) {
	cfg := &Config{
		DialTimeoutSeconds:  5,
		ReconnectBaseMillis: 250,
		ReconnectMaxSeconds: 60,
	}
	if cfg.DialTimeout() != 5*time.Second {
		t.Errorf("DialTimeout = %v, want 5s", cfg.DialTimeout())
	}
	if cfg.ReconnectBase() != 250*time.Millisecond {
		t.Errorf("ReconnectBase = %v, want 250ms", cfg.ReconnectBase())
	}
	if cfg.ReconnectMax() != time.Minute {
		t.Errorf("ReconnectMax = %v, want 1m", cfg.ReconnectMax())
	}
}

func TestSocketEndpointDerivedFromServerURL(t *testing.T) {
	cases := []struct {
		server, socket, want string
	}{
		{"https://chat.example.com", "", "wss://chat.example.com"},
		{"http://localhost:8080", "", "ws://localhost:8080"},
		{"https://chat.example.com", "wss://push.example.com", "wss://push.example.com"},
	}
	for _, tc := range cases {
		cfg := &Config{ServerURL: tc.server, SocketURL: tc.socket}
		if got := cfg.SocketEndpoint(); got != tc.want {
			t.Errorf("SocketEndpoint(%q, %q) = %q, want %q", tc.server, tc.socket, got, tc.want)
		}
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
