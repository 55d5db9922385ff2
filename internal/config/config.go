package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Media    MediaConfig    `yaml:"media"`
	LogLevel string         `yaml:"log_level"`
	// LogFile is where logs are written; empty means stderr.
	LogFile string `yaml:"log_file"`
}

type TelegramConfig struct {
	APIID   int    `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
	// MaxInFlight bounds concurrent session operations.
	MaxInFlight  int           `yaml:"max_in_flight"`
	PingInterval time.Duration `yaml:"ping_interval"`
	// AllowedOrigins are host patterns accepted for cross-origin WebSocket
	// upgrades; empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type SessionConfig struct {
	Backend string `yaml:"backend"`
	// Path is the session file for the file backend.
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
	// Name keys the session row for the postgres backend.
	Name string `yaml:"name"`
}

type TimeoutsConfig struct {
	Default  time.Duration `yaml:"default"`
	Messages time.Duration `yaml:"messages"`
	Search   time.Duration `yaml:"search"`
	Photo    time.Duration `yaml:"photo"`
}

type MediaConfig struct {
	MaxInlineBytes int64 `yaml:"max_inline_bytes"`
	MaxPhotoBytes  int64 `yaml:"max_photo_bytes"`
}

func Dir() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		cfgDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(cfgDir, "telecharm")
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			BasePath:     "/api",
			MaxInFlight:  16,
			PingInterval: 30 * time.Second,
		},
		Session: SessionConfig{
			Backend: BackendFile,
			Path:    filepath.Join(Dir(), "session.json"),
			Name:    "default",
		},
		Timeouts: TimeoutsConfig{
			Default:  30 * time.Second,
			Messages: 120 * time.Second,
			Search:   60 * time.Second,
			Photo:    30 * time.Second,
		},
		Media: MediaConfig{
			MaxInlineBytes: 5 << 20,
			MaxPhotoBytes:  2 << 20,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from defaults and environment variables
// alone.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides credentials and the database URL from
// TELECHARM_API_ID, TELECHARM_API_HASH and TELECHARM_DATABASE_URL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TELECHARM_API_ID"); ok && v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TELECHARM_API_ID: %w", err)
		}
		c.Telegram.APIID = id
	}
	if v, ok := lookup("TELECHARM_API_HASH"); ok && v != "" {
		c.Telegram.APIHash = v
	}
	if v, ok := lookup("TELECHARM_DATABASE_URL"); ok && v != "" {
		c.Session.DatabaseURL = v
		c.Session.Backend = BackendPostgres
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.APIID == 0 {
		errs = append(errs, errors.New("telegram.api_id is required"))
	}
	if c.Telegram.APIHash == "" {
		errs = append(errs, errors.New("telegram.api_hash is required"))
	}
	switch c.Session.Backend {
	case BackendFile:
		if c.Session.Path == "" {
			errs = append(errs, errors.New("session.path is required for the file backend"))
		}
	case BackendPostgres:
		if c.Session.DatabaseURL == "" {
			errs = append(errs, errors.New("session.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session backend %q", c.Session.Backend))
	}
	if c.Media.MaxInlineBytes <= 0 || c.Media.MaxPhotoBytes <= 0 {
		errs = append(errs, errors.New("media caps must be positive"))
	}
	if c.Timeouts.Default <= 0 || c.Timeouts.Messages <= 0 || c.Timeouts.Search <= 0 || c.Timeouts.Photo <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	return errors.Join(errs...)
}
