// Package config loads pipeline configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	GA4        GA4Config        `yaml:"ga4"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GA4Config holds the analytics source credentials and pacing limits.
type GA4Config struct {
	PropertyID     string  `yaml:"property_id"`
	AccessToken    string  `yaml:"access_token"`
	BaseURL        string  `yaml:"base_url"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	MaxRetries     int     `yaml:"max_retries"`
	RetryBaseDelay string  `yaml:"retry_base_delay"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// BaseDelay parses RetryBaseDelay, defaulting to 1s.
func (g GA4Config) BaseDelay() time.Duration {
	if d, err := time.ParseDuration(g.RetryBaseDelay); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// Timeout returns the per-request timeout, defaulting to 60s.
func (g GA4Config) Timeout() time.Duration {
	if g.TimeoutSeconds > 0 {
		return time.Duration(g.TimeoutSeconds) * time.Second
	}
	return 60 * time.Second
}

// DatabaseConfig selects the storage engine and its location.
// Engine is "postgres" (client-server, production) or "sqlite"
// (embedded single file, local/dev).
type DatabaseConfig struct {
	Engine       string `yaml:"engine"`
	URL          string `yaml:"url"`
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds recency-cache settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	TTLDays   int    `yaml:"ttl_days"`
}

// TTL returns the trailing-window duration, defaulting to 14 days.
func (r RedisConfig) TTL() time.Duration {
	days := r.TTLDays
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

// ExtractionConfig holds ingestion policy knobs.
type ExtractionConfig struct {
	// ChannelDelayDays is the fixed reporting delay before channel and
	// campaign attribution stabilizes upstream.
	ChannelDelayDays int `yaml:"channel_delay_days"`
	// MaxBackfillDays caps a single backfill request.
	MaxBackfillDays int `yaml:"max_backfill_days"`
}

// DelayDays returns the dimension reporting delay, defaulting to 2.
func (e ExtractionConfig) DelayDays() int {
	if e.ChannelDelayDays > 0 {
		return e.ChannelDelayDays
	}
	return 2
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		GA4: GA4Config{
			BaseURL:        "https://analyticsdata.googleapis.com",
			RateLimitRPS:   9,
			MaxRetries:     3,
			RetryBaseDelay: "1s",
			TimeoutSeconds: 60,
		},
		Database: DatabaseConfig{
			Engine:       "sqlite",
			Path:         "data/ga4_data.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        1,
			KeyPrefix: "ga4:metrics:",
			TTLDays:   14,
		},
		Extraction: ExtractionConfig{
			ChannelDelayDays: 2,
			MaxBackfillDays:  90,
		},
	}
}

// Load reads configuration from a YAML file on top of defaults.
// A missing file is not an error; env overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromEnv loads configuration from file and environment, reading a
// local .env file first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()
	return Load(path)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("GA4_PROPERTY_ID"); v != "" {
		c.GA4.PropertyID = v
	}
	if v := os.Getenv("GA4_ACCESS_TOKEN"); v != "" {
		c.GA4.AccessToken = v
	}
	if v := os.Getenv("GA4_BASE_URL"); v != "" {
		c.GA4.BaseURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Engine = "postgres"
		c.Database.URL = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Engine = "sqlite"
		c.Database.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("CACHE_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.TTLDays = n
		}
	}
}
