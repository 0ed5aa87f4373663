// Package config handles TOML configuration for cheapskate.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	AWS      AWSConfig      `toml:"aws"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Cache    CacheConfig    `toml:"cache"`
	Schedule ScheduleConfig `toml:"schedule"`
	Daemon   DaemonConfig   `toml:"daemon"`
	OTEL     OTELConfig     `toml:"otel"`
	Log      LogConfig      `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region"`
	Profile string `toml:"profile"`
}

// CatalogConfig points at the price catalog file.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// CacheConfig holds inventory cache settings. An empty Path keeps the
// cache in memory.
type CacheConfig struct {
	TTLStr string `toml:"ttl"`
	TTL    time.Duration
	Path   string `toml:"path"`
}

// ScheduleConfig holds the scheduling rules.
type ScheduleConfig struct {
	CostThreshold     float64  `toml:"cost_threshold"`
	BusinessHourStart string   `toml:"business_hour_start"`
	BusinessHourEnd   string   `toml:"business_hour_end"`
	BusinessDays      []string `toml:"business_days"`
	Timezone          string   `toml:"timezone"`
	TagKey            string   `toml:"tag_key"`
	SystemUser        string   `toml:"system_user"`
}

// DaemonConfig holds settings for the periodic evaluator.
type DaemonConfig struct {
	IntervalStr  string `toml:"interval"`
	Interval     time.Duration
	Listen       string `toml:"listen"`
	LookaheadStr string `toml:"lookahead"`
	Lookahead    time.Duration
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{AWS: AWSConfig{Region: os.Getenv("AWS_REGION")}}
	applyDefaults(cfg)
	if err := parseDurations(cfg); err != nil {
		panic(fmt.Sprintf("config: built-in defaults: %v", err))
	}
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "ec2prices.json"
	}
	if cfg.Cache.TTLStr == "" {
		cfg.Cache.TTLStr = "15m"
	}
	if cfg.Schedule.CostThreshold == 0 {
		cfg.Schedule.CostThreshold = 20
	}
	if cfg.Schedule.BusinessHourStart == "" {
		cfg.Schedule.BusinessHourStart = "06:30"
	}
	if cfg.Schedule.BusinessHourEnd == "" {
		cfg.Schedule.BusinessHourEnd = "18:30"
	}
	if cfg.Schedule.BusinessDays == nil {
		cfg.Schedule.BusinessDays = []string{"mon", "tue", "wed", "thu", "fri"}
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "Local"
	}
	if cfg.Schedule.TagKey == "" {
		cfg.Schedule.TagKey = "cheapskate"
	}
	if cfg.Schedule.SystemUser == "" {
		cfg.Schedule.SystemUser = "Cheapskate"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "5m"
	}
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = ":9090"
	}
	if cfg.Daemon.LookaheadStr == "" {
		cfg.Daemon.LookaheadStr = "0h"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "cheapskate"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"cache.ttl", cfg.Cache.TTLStr, &cfg.Cache.TTL},
		{"daemon.interval", cfg.Daemon.IntervalStr, &cfg.Daemon.Interval},
		{"daemon.lookahead", cfg.Daemon.LookaheadStr, &cfg.Daemon.Lookahead},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("aws: region required")
	}
	if c.Schedule.CostThreshold <= 0 {
		return fmt.Errorf("schedule: cost_threshold must be positive (got %v)", c.Schedule.CostThreshold)
	}
	start, err := ParseTimeOfDay(c.Schedule.BusinessHourStart)
	if err != nil {
		return fmt.Errorf("schedule: business_hour_start: %w", err)
	}
	end, err := ParseTimeOfDay(c.Schedule.BusinessHourEnd)
	if err != nil {
		return fmt.Errorf("schedule: business_hour_end: %w", err)
	}
	if start >= end {
		return fmt.Errorf("schedule: business_hour_start must be before business_hour_end")
	}
	if _, err := c.Weekdays(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive")
	}
	if c.Daemon.Interval <= 0 {
		return fmt.Errorf("daemon: interval must be positive")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Weekdays returns the configured business days.
func (c *Config) Weekdays() ([]time.Weekday, error) {
	days := make([]time.Weekday, 0, len(c.Schedule.BusinessDays))
	for _, name := range c.Schedule.BusinessDays {
		key := strings.ToLower(name)
		if len(key) > 3 {
			key = key[:3]
		}
		d, ok := weekdays[key]
		if !ok {
			return nil, fmt.Errorf("unknown business day %q", name)
		}
		days = append(days, d)
	}
	return days, nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}
