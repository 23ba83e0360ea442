// Package config handles YAML configuration for armoryx.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Metrics  MetricsServer `yaml:"metrics"`
	Storage  StorageConfig `yaml:"storage"`
	Log      LogConfig     `yaml:"log"`
	OTEL     OTELConfig    `yaml:"otel"`
	Auth     AuthConfig    `yaml:"auth"`
	Export   ExportConfig  `yaml:"export"`
	Detail   DetailConfig  `yaml:"detail"`
	AWS      AWSConfig     `yaml:"aws"`
	TimeZone string        `yaml:"time_zone"`
	Language string        `yaml:"language"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// MetricsServer holds the Prometheus scrape endpoint settings.
type MetricsServer struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StorageConfig holds the bbolt database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds OTLP metrics push settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig holds the known users and the permission policy.
type AuthConfig struct {
	Users      []User `yaml:"users"`
	PolicyFile string `yaml:"policy_file"`
}

// User is a configured principal. Token is used for bearer auth, Password
// for HTTP basic auth.
type User struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Token       string   `yaml:"token"`
	Staff       bool     `yaml:"staff"`
	Superuser   bool     `yaml:"superuser"`
	Permissions []string `yaml:"permissions"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	CellErrorDetail *bool `yaml:"cell_error_detail"`
	Spreadsheet     *bool `yaml:"spreadsheet"`
}

// DetailConfig holds detail view settings.
type DetailConfig struct {
	TemplateDir string `yaml:"template_dir"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions []string `yaml:"regions"`
	Profile string   `yaml:"profile"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "armoryx.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "armoryx"
	}
	if cfg.Export.CellErrorDetail == nil {
		cfg.Export.CellErrorDetail = boolPtr(true)
	}
	if cfg.Export.Spreadsheet == nil {
		cfg.Export.Spreadsheet = boolPtr(true)
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "UTC"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
}

func boolPtr(b bool) *bool { return &b }

// Location returns the configured display time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Language {
	case "en", "zh", "zh-Hans", "zh-CN":
	default:
		return fmt.Errorf("language: unsupported %q (want en or zh)", c.Language)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log: format must be json or console (got %q)", c.Log.Format)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}

	seen := make(map[string]bool, len(c.Auth.Users))
	tokens := make(map[string]bool, len(c.Auth.Users))
	for i, u := range c.Auth.Users {
		if u.Username == "" {
			return fmt.Errorf("auth: users[%d]: username required", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("auth: duplicate user %q", u.Username)
		}
		seen[u.Username] = true
		if u.Token == "" && u.Password == "" {
			return fmt.Errorf("auth: user %q needs a token or a password", u.Username)
		}
		if u.Token != "" {
			if tokens[u.Token] {
				return fmt.Errorf("auth: user %q reuses a token", u.Username)
			}
			tokens[u.Token] = true
		}
	}
	return nil
}
