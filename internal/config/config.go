// Package config loads runtime settings from SVEZINA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all runtime settings. Command-line flags override the
// corresponding fields after Load.
type Config struct {
	DBPath     string `env:"SVEZINA_DB" env-default:"svezina.sqlite3" env-description:"SQLite database path"`
	Addr       string `env:"SVEZINA_ADDR" env-default:":8080" env-description:"HTTP listen address"`
	LogPath    string `env:"SVEZINA_LOG" env-description:"optional log file"`
	DateLayout string `env:"SVEZINA_DATE_LAYOUT" env-default:"2006-01-02" env-description:"Go layout of stored dates"`
	TimeZone   string `env:"SVEZINA_TZ" env-default:"Local" env-description:"time zone dates are interpreted in"`

	TokenTTL time.Duration `env:"SVEZINA_TOKEN_TTL" env-default:"168h" env-description:"lifetime of API tokens"`

	Jobs    JobsConfig
	Vault   VaultConfig
	Webhook WebhookConfig
	Redis   RedisConfig

	CORSOrigins []string `env:"SVEZINA_CORS_ORIGINS" env-separator:"," env-description:"allowed CORS origins"`
	AdminEmails []string `env:"SVEZINA_ADMIN_EMAILS" env-separator:"," env-description:"accounts allowed to clear data"`
}

// JobsConfig tunes the deferred alert runner.
type JobsConfig struct {
	PollInterval time.Duration `env:"SVEZINA_POLL_INTERVAL" env-default:"30s"`
	MaxAttempts  int           `env:"SVEZINA_MAX_ATTEMPTS" env-default:"5"`
	Backoff      time.Duration `env:"SVEZINA_RETRY_BACKOFF" env-default:"1m"`
}

// VaultConfig tunes password hashing.
type VaultConfig struct {
	Iterations int `env:"SVEZINA_KDF_ITERATIONS" env-default:"65536"`
}

// WebhookConfig enables the webhook notification sink when URL is set.
type WebhookConfig struct {
	URL      string        `env:"SVEZINA_WEBHOOK_URL"`
	RetryMax int           `env:"SVEZINA_WEBHOOK_RETRIES" env-default:"3"`
	Timeout  time.Duration `env:"SVEZINA_WEBHOOK_TIMEOUT" env-default:"10s"`
}

// RedisConfig enables notification dedupe when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"SVEZINA_REDIS_ADDR"`
	Password string        `env:"SVEZINA_REDIS_PASSWORD"`
	DB       int           `env:"SVEZINA_REDIS_DB" env-default:"0"`
	TTL      time.Duration `env:"SVEZINA_DEDUPE_TTL" env-default:"72h"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.DateLayout == "" {
		return errors.New("date layout is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Jobs.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Jobs.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if c.Vault.Iterations < 1 {
		return errors.New("KDF iterations must be at least 1")
	}
	return nil
}

// Location resolves TimeZone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Usage describes the supported environment variables.
func Usage() string {
	text, err := cleanenv.GetDescription(&Config{}, nil)
	if err != nil {
		return ""
	}
	return text
}
