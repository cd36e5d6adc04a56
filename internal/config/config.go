package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Hub     HubConfig     `yaml:"hub"`
	Storage StorageConfig `yaml:"storage"`
	Relay   RelayConfig   `yaml:"relay"`
	Admin   AdminConfig   `yaml:"admin"`
	Display DisplayConfig `yaml:"display"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HubConfig bounds every display connection. WriteTimeout caps a single
// frame write so one stalled peer cannot hold up the others.
type HubConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
	MaxConnections int           `yaml:"max_connections"` // 0 = unlimited
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// RelayConfig enables cross-instance fan-out when RedisURL is set.
type RelayConfig struct {
	RedisURL       string        `yaml:"redis_url"`
	Channel        string        `yaml:"channel"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	QueueSize      int           `yaml:"queue_size"`
}

func (r RelayConfig) Enabled() bool {
	return r.RedisURL != ""
}

type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DisplayConfig struct {
	DefaultTicker    string `yaml:"default_ticker"`
	UnassignedDoctor string `yaml:"unassigned_doctor"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envOverrides are read from the process environment (and .env) after
// the yaml file. Unset variables leave the file value in place.
type envOverrides struct {
	Port          int    `env:"TABLO_PORT"`
	StorageDriver string `env:"TABLO_STORAGE_DRIVER"`
	DatabasePath  string `env:"TABLO_DATABASE_PATH"`
	RedisURL      string `env:"TABLO_REDIS_URL"`
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			Host:            "0.0.0.0",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Hub: HubConfig{
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			SendBuffer:   64,
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   "tablo.db",
		},
		Relay: RelayConfig{
			Channel:        "tablo:events",
			PublishTimeout: 2 * time.Second,
			QueueSize:      256,
		},
		Admin: AdminConfig{
			Username: "admin",
			Password: "admin123",
		},
		Display: DisplayConfig{
			DefaultTicker:    "Welcome!",
			UnassignedDoctor: "No doctor assigned",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the yaml file at path over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(defaultConfig())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var o envOverrides
	if err := env.Load(&o, nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.StorageDriver != "" {
		cfg.Storage.Driver = o.StorageDriver
	}
	if o.DatabasePath != "" {
		cfg.Storage.Path = o.DatabasePath
	}
	if o.RedisURL != "" {
		cfg.Relay.RedisURL = o.RedisURL
	}
	if o.AdminUsername != "" {
		cfg.Admin.Username = o.AdminUsername
	}
	if o.AdminPassword != "" {
		cfg.Admin.Password = o.AdminPassword
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}
	if c.Hub.WriteTimeout <= 0 {
		return errors.New("hub.write_timeout must be positive")
	}
	if c.Hub.PingInterval <= 0 || c.Hub.PongTimeout <= 0 {
		return errors.New("hub.ping_interval and hub.pong_timeout must be positive")
	}
	if c.Hub.PingInterval >= c.Hub.PongTimeout {
		return fmt.Errorf("hub.ping_interval (%v) must be shorter than hub.pong_timeout (%v)",
			c.Hub.PingInterval, c.Hub.PongTimeout)
	}
	if c.Hub.SendBuffer <= 0 {
		return errors.New("hub.send_buffer must be positive")
	}
	if c.Hub.MaxConnections < 0 {
		return errors.New("hub.max_connections must not be negative")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Relay.Enabled() {
		if c.Relay.Channel == "" {
			return errors.New("relay.channel is required when relay.redis_url is set")
		}
		if c.Relay.PublishTimeout <= 0 || c.Relay.QueueSize <= 0 {
			return errors.New("relay.publish_timeout and relay.queue_size must be positive")
		}
	}

	if c.Admin.Username == "" || c.Admin.Password == "" {
		return errors.New("admin.username and admin.password are required")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
