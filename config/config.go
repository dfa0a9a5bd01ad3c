// Package config loads dropbot settings from a TOML file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal container images

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "DROPBOT_"

const (
	DefaultTimezone  = "America/Toronto"
	DefaultScrapeURL = "https://sneakernews.com/release-dates/"
	DefaultDataDir   = "data"
)

// Config holds every setting the reminder pass, scraper and server read.
// Durations are whole seconds, as in the TOML file.
type Config struct {
	// NotificationTarget is a webhook URL or a shoutrrr service URL. Empty disables reminders.
	NotificationTarget string   `toml:"notification_target" env:"NOTIFICATION_TARGET"`
	BrandFilters       []string `toml:"brand_filters"       env:"BRAND_FILTERS" envSeparator:","`
	Timezone           string   `toml:"timezone"            env:"TIMEZONE"`
	DefaultUser        string   `toml:"default_user"        env:"USER"`

	// Bucket selects Cloud Storage; DataDir is used only when Bucket is empty.
	DataDir               string `toml:"data_dir"                env:"DATA_DIR"`
	Bucket                string `toml:"bucket"                  env:"BUCKET"`
	GoogleCredentialsJSON string `toml:"google_credentials_json" env:"GOOGLE_CREDENTIALS_JSON"`

	RequestTimeout int  `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	Concurrency    int  `toml:"concurrency"     env:"CONCURRENCY"`
	LoopInterval   int  `toml:"loop_interval"   env:"LOOP_INTERVAL"`
	MockNotify     bool `toml:"mock_notify"     env:"MOCK_NOTIFY"`

	ScrapeURL   string `toml:"scrape_url"   env:"SCRAPE_URL"`
	ScrapeLimit int    `toml:"scrape_limit" env:"SCRAPE_LIMIT"`

	ListenAddr string `toml:"listen_addr" env:"LISTEN_ADDR"`
	LogLevel   string `toml:"log_level"   env:"LOG_LEVEL"`

	location *time.Location
}

// Default returns a Config with every optional field populated.
func Default() Config {
	return Config{
		Timezone:       DefaultTimezone,
		DataDir:        DefaultDataDir,
		RequestTimeout: 10,
		Concurrency:    4,
		LoopInterval:   60,
		ScrapeURL:      DefaultScrapeURL,
		ScrapeLimit:    20,
		ListenAddr:     ":8080",
		LogLevel:       "info",
	}
}

// Load reads path (a missing file yields defaults), applies DROPBOT_* environment
// overrides, then normalizes and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.NotificationTarget = strings.TrimSpace(c.NotificationTarget)
	c.Timezone = strings.TrimSpace(c.Timezone)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))

	filters := c.BrandFilters[:0:0]
	for _, f := range c.BrandFilters {
		if f = strings.TrimSpace(f); f != "" {
			filters = append(filters, f)
		}
	}
	c.BrandFilters = filters

	c.Bucket = strings.TrimSpace(c.Bucket)
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
}

// Validate ensures the configuration is usable and resolves the timezone.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	c.location = loc

	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.LoopInterval <= 0 {
		return errors.New("loop_interval must be positive")
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.ScrapeLimit < 0 {
		return errors.New("scrape_limit must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// Enabled reports whether a notification target is configured.
func (c *Config) Enabled() bool {
	return c.NotificationTarget != "" || c.MockNotify
}

// Location returns the configured zone, UTC before Validate has run.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// RequestTimeoutDuration is the per-call notification and scrape timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// LoopIntervalDuration is the pause between passes in loop mode.
func (c *Config) LoopIntervalDuration() time.Duration {
	return time.Duration(c.LoopInterval) * time.Second
}
