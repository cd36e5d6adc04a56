package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"
  allowed_origins:
    - "http://tv.local"
hub:
  write_timeout: 2s
  send_buffer: 16
  max_connections: 50
storage:
  driver: memory
display:
  default_ticker: "Добро пожаловать!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://tv.local" {
		t.Errorf("Server.AllowedOrigins = %v, want [http://tv.local]", cfg.Server.AllowedOrigins)
	}
	if cfg.Hub.WriteTimeout != 2*time.Second {
		t.Errorf("Hub.WriteTimeout = %v, want 2s", cfg.Hub.WriteTimeout)
	}
	if cfg.Hub.SendBuffer != 16 {
		t.Errorf("Hub.SendBuffer = %d, want 16", cfg.Hub.SendBuffer)
	}
	if cfg.Hub.MaxConnections != 50 {
		t.Errorf("Hub.MaxConnections = %d, want 50", cfg.Hub.MaxConnections)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Display.DefaultTicker != "Добро пожаловать!" {
		t.Errorf("Display.DefaultTicker = %q", cfg.Display.DefaultTicker)
	}

	// Defaults should still be applied for unspecified fields.
	if cfg.Hub.PingInterval != 30*time.Second {
		t.Errorf("Hub.PingInterval = %v, want default 30s", cfg.Hub.PingInterval)
	}
	if cfg.Display.UnassignedDoctor != "No doctor assigned" {
		t.Errorf("Display.UnassignedDoctor = %q, want default", cfg.Display.UnassignedDoctor)
	}
	if cfg.Relay.Enabled() {
		t.Error("Relay should be disabled without redis_url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() on missing file should return error")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want default 8000", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("Storage.Driver = %q, want default sqlite", cfg.Storage.Driver)
	}
	if cfg.Admin.Username != "admin" {
		t.Errorf("Admin.Username = %q, want default admin", cfg.Admin.Username)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, ":::not valid yaml")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() with invalid YAML should return error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TABLO_PORT", "9999")
	t.Setenv("TABLO_DATABASE_PATH", "/var/lib/tablo/board.db")
	t.Setenv("TABLO_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("ADMIN_USERNAME", "reception")
	t.Setenv("ADMIN_PASSWORD", "s3cret")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want env override 9999", cfg.Server.Port)
	}
	if cfg.Storage.Path != "/var/lib/tablo/board.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if !cfg.Relay.Enabled() {
		t.Error("Relay should be enabled by TABLO_REDIS_URL")
	}
	if cfg.Admin.Username != "reception" || cfg.Admin.Password != "s3cret" {
		t.Errorf("Admin = %+v, want env credentials", cfg.Admin)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestEnvOverrideInvalidPort(t *testing.T) {
	t.Setenv("TABLO_PORT", "not-a-number")
	if _, err := LoadOrDefault("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for non-numeric TABLO_PORT")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"write timeout", func(c *Config) { c.Hub.WriteTimeout = 0 }, "hub.write_timeout"},
		{"ping not shorter than pong", func(c *Config) { c.Hub.PingInterval = c.Hub.PongTimeout }, "hub.ping_interval"},
		{"send buffer", func(c *Config) { c.Hub.SendBuffer = 0 }, "hub.send_buffer"},
		{"negative max connections", func(c *Config) { c.Hub.MaxConnections = -1 }, "hub.max_connections"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"memory without path", func(c *Config) { c.Storage.Driver = DriverMemory; c.Storage.Path = "" }, ""},
		{"relay without channel", func(c *Config) { c.Relay.RedisURL = "redis://x"; c.Relay.Channel = "" }, "relay.channel"},
		{"empty admin password", func(c *Config) { c.Admin.Password = "" }, "admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddr(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8123
	if got := cfg.Addr(); got != "127.0.0.1:8123" {
		t.Errorf("Addr() = %q", got)
	}
}
