// Package config loads application configuration from defaults, an optional
// YAML file and STATIONPULSE_-prefixed environment variables, in that order.
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
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Collector CollectorConfig `koanf:"collector"`
	Analytics AnalyticsConfig `koanf:"analytics"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type CollectorConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DiscoveryURL string `koanf:"discovery_url"`
	Interval     string `koanf:"interval"`
	HTTPTimeout  string `koanf:"http_timeout"`
}

type AnalyticsConfig struct {
	Enabled          bool   `koanf:"enabled"`
	CronInterval     string `koanf:"cron_interval"`
	HourlyDelay      string `koanf:"hourly_delay"`
	DailyDelay       string `koanf:"daily_delay"`
	RankingDays      int    `koanf:"ranking_days"`
	AlertWindowHours int    `koanf:"alert_window_hours"`
	LockTTL          string `koanf:"lock_ttl"`
	ThresholdRuleDir string `koanf:"threshold_rule_dir"`

	Retention RetentionConfig `koanf:"retention"`
}

type RetentionConfig struct {
	RawDays            int `koanf:"raw_days"`
	HourlyDays         int `koanf:"hourly_days"`
	AlertDays          int `koanf:"alert_days"`
	VacuumIntervalDays int `koanf:"vacuum_interval_days"`
}

// durationField parses a validated duration field. Validate has already
// rejected malformed values, so parse errors here mean a programming error.
func durationField(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Sprintf("duration field %q not validated: %v", v, err))
	}
	return d
}

func (c CollectorConfig) IntervalDuration() time.Duration    { return durationField(c.Interval) }
func (c CollectorConfig) HTTPTimeoutDuration() time.Duration { return durationField(c.HTTPTimeout) }

func (a AnalyticsConfig) CronIntervalDuration() time.Duration { return durationField(a.CronInterval) }
func (a AnalyticsConfig) HourlyDelayDuration() time.Duration  { return durationField(a.HourlyDelay) }
func (a AnalyticsConfig) DailyDelayDuration() time.Duration   { return durationField(a.DailyDelay) }
func (a AnalyticsConfig) LockTTLDuration() time.Duration      { return durationField(a.LockTTL) }

func validDuration(name, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be > 0", name)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
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

	if c.Collector.Enabled {
		if strings.TrimSpace(c.Collector.DiscoveryURL) == "" {
			return fmt.Errorf("collector.discovery_url is required when collector is enabled")
		}
	}
	if err := validDuration("collector.interval", c.Collector.Interval); err != nil {
		return err
	}
	if err := validDuration("collector.http_timeout", c.Collector.HTTPTimeout); err != nil {
		return err
	}

	if err := validDuration("analytics.cron_interval", c.Analytics.CronInterval); err != nil {
		return err
	}
	if err := validDuration("analytics.hourly_delay", c.Analytics.HourlyDelay); err != nil {
		return err
	}
	if err := validDuration("analytics.daily_delay", c.Analytics.DailyDelay); err != nil {
		return err
	}
	if err := validDuration("analytics.lock_ttl", c.Analytics.LockTTL); err != nil {
		return err
	}
	if c.Analytics.RankingDays <= 0 {
		return fmt.Errorf("analytics.ranking_days must be > 0")
	}
	if c.Analytics.AlertWindowHours <= 0 {
		return fmt.Errorf("analytics.alert_window_hours must be > 0")
	}
	if c.Analytics.LockTTLDuration() <= c.Analytics.CronIntervalDuration() {
		return fmt.Errorf("analytics.lock_ttl must exceed analytics.cron_interval")
	}

	r := c.Analytics.Retention
	if r.RawDays <= 0 || r.HourlyDays <= 0 || r.AlertDays <= 0 || r.VacuumIntervalDays <= 0 {
		return fmt.Errorf("analytics.retention windows must all be > 0")
	}

	return nil
}

// Load parses config from defaults, an optional file and the environment.
// Env keys follow STATIONPULSE_SECTION__KEY, e.g. STATIONPULSE_DATABASE__DSN.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port": 8080,
		"server.host": "0.0.0.0",
		"server.mode": "release",

		"database.dsn":            "postgres://localhost:5432/stationpulse?sslmode=disable",
		"database.max_open_conns": 25,
		"database.max_idle_conns": 25,
		"database.auto_migrate":   true,

		"collector.enabled":       true,
		"collector.discovery_url": "https://zaragoza.publicbikesystem.net/customer/gbfs/v2/gbfs.json",
		"collector.interval":      "10m",
		"collector.http_timeout":  "30s",

		"analytics.enabled":            true,
		"analytics.cron_interval":      "5m",
		"analytics.hourly_delay":       "10m",
		"analytics.daily_delay":        "90m",
		"analytics.ranking_days":       14,
		"analytics.alert_window_hours": 3,
		"analytics.lock_ttl":           "55m",
		"analytics.threshold_rule_dir": "./config/thresholds",

		"analytics.retention.raw_days":             30,
		"analytics.retention.hourly_days":          365,
		"analytics.retention.alert_days":           14,
		"analytics.retention.vacuum_interval_days": 7,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("STATIONPULSE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "STATIONPULSE_")), "__", ".", -1)
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
