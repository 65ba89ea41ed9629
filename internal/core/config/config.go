package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level application config.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Control  ControlConfig  `koanf:"control"`
	Query    QueryConfig    `koanf:"query"`
}

type ServerConfig struct {
	Port          int    `koanf:"port"`
	Host          string `koanf:"host"`
	MaxBodySizeMB int    `koanf:"max_body_size_mb"`
	Mode          string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// ControlConfig governs operator-initiated disconnects.
type ControlConfig struct {
	DisconnectTimeout string `koanf:"disconnect_timeout"` // ticket lifetime before it fails
	SweepInterval     string `koanf:"sweep_interval"`     // how often expired tickets are failed
	NASEndpoint       string `koanf:"nas_endpoint"`       // NAS admin endpoint base URL
	NASTimeout        string `koanf:"nas_timeout"`        // per-command timeout
	TicketRetention   string `koanf:"ticket_retention"`   // how long resolved tickets stay pollable
}

// QueryConfig bounds the read API.
type QueryConfig struct {
	DefaultPageSize int    `koanf:"default_page_size"`
	MaxPageSize     int    `koanf:"max_page_size"`
	CacheTTL        string `koanf:"cache_ttl"` // 0 disables report caching
	ReportTimezone  string `koanf:"report_timezone"`
}

func (c ControlConfig) DisconnectTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.DisconnectTimeout)
}

func (c ControlConfig) SweepIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.SweepInterval)
}

func (c ControlConfig) NASTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.NASTimeout)
}

func (c ControlConfig) TicketRetentionDuration() (time.Duration, error) {
	return time.ParseDuration(c.TicketRetention)
}

func (c QueryConfig) CacheTTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.CacheTTL)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("server.max_body_size_mb must be > 0")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	timeout, err := c.Control.DisconnectTimeoutDuration()
	if err != nil {
		return fmt.Errorf("invalid control.disconnect_timeout %q: %w", c.Control.DisconnectTimeout, err)
	}
	if timeout <= 0 {
		return fmt.Errorf("control.disconnect_timeout must be > 0")
	}
	sweep, err := c.Control.SweepIntervalDuration()
	if err != nil {
		return fmt.Errorf("invalid control.sweep_interval %q: %w", c.Control.SweepInterval, err)
	}
	if sweep <= 0 {
		return fmt.Errorf("control.sweep_interval must be > 0")
	}
	if _, err := c.Control.NASTimeoutDuration(); err != nil {
		return fmt.Errorf("invalid control.nas_timeout %q: %w", c.Control.NASTimeout, err)
	}
	retention, err := c.Control.TicketRetentionDuration()
	if err != nil {
		return fmt.Errorf("invalid control.ticket_retention %q: %w", c.Control.TicketRetention, err)
	}
	if retention <= 0 {
		return fmt.Errorf("control.ticket_retention must be > 0")
	}

	if c.Query.DefaultPageSize <= 0 {
		return fmt.Errorf("query.default_page_size must be > 0")
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("query.max_page_size must be >= query.default_page_size")
	}
	ttl, err := c.Query.CacheTTLDuration()
	if err != nil {
		return fmt.Errorf("invalid query.cache_ttl %q: %w", c.Query.CacheTTL, err)
	}
	if ttl < 0 {
		return fmt.Errorf("query.cache_ttl must be >= 0")
	}
	if _, err := time.LoadLocation(c.Query.ReportTimezone); err != nil {
		return fmt.Errorf("invalid query.report_timezone %q: %w", c.Query.ReportTimezone, err)
	}

	return nil
}

// Load parses config from defaults, then an optional yaml file, then
// RADACCT_-prefixed environment variables, and validates the result.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                8080,
		"server.host":                "0.0.0.0",
		"server.max_body_size_mb":    1,
		"server.mode":                "release",
		"database.dsn":               "",
		"database.max_open_conns":    25,
		"database.max_idle_conns":    25,
		"database.auto_migrate":      true,
		"control.disconnect_timeout": "30s",
		"control.sweep_interval":     "5s",
		"control.nas_endpoint":       "",
		"control.nas_timeout":        "5s",
		"control.ticket_retention":   "5m",
		"query.default_page_size":    25,
		"query.max_page_size":        200,
		"query.cache_ttl":            "0s",
		"query.report_timezone":      "UTC",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("RADACCT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RADACCT_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
