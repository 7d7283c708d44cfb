/*
config.go - Runtime configuration

PURPOSE:
  Collects everything the server needs at startup into one validated value.

SOURCES (later wins):
  1. Built-in defaults
  2. YAML file named by TILL_CONFIG (optional)
  3. Environment variables, including a .env file in the working directory

KEYS:
  http_addr              TILL_HTTP_ADDR            ":8080"
  sqlite_path            TILL_SQLITE_PATH          "till.db"
  sale_source            TILL_SALE_SOURCE          "local" | "postgres"
  postgres_dsn           TILL_POSTGRES_DSN         required for postgres
  jwt_secret             TILL_JWT_SECRET           empty = X-Operator-ID header
  rate_limit_per_minute  TILL_RATE_LIMIT           0 disables limiting
  cors_origins           TILL_CORS_ORIGINS         comma separated
  catalog_path           TILL_CATALOG              optional seed file
  session_max_age        TILL_SESSION_MAX_AGE      "12h"
  monitor_interval       TILL_MONITOR_INTERVAL     "5m", 0 disables
  log_level              TILL_LOG_LEVEL            zerolog level name
  denominations          TILL_DENOMINATIONS        e.g. "100,50,20,10,5,1,0.25"
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	SaleSourceLocal    = "local"
	SaleSourcePostgres = "postgres"
)

// Config holds application runtime configuration.
type Config struct {
	HTTPAddr           string        `yaml:"http_addr"`
	SQLitePath         string        `yaml:"sqlite_path"`
	SaleSource         string        `yaml:"sale_source"`
	PostgresDSN        string        `yaml:"postgres_dsn"`
	JWTSecret          string        `yaml:"jwt_secret"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	CatalogPath        string        `yaml:"catalog_path"`
	SessionMaxAge      time.Duration `yaml:"session_max_age"`
	MonitorInterval    time.Duration `yaml:"monitor_interval"`
	LogLevel           string        `yaml:"log_level"`
	Denominations      []string      `yaml:"denominations"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		SQLitePath:         "till.db",
		SaleSource:         SaleSourceLocal,
		RateLimitPerMinute: 300,
		CORSOrigins:        []string{"*"},
		SessionMaxAge:      12 * time.Hour,
		MonitorInterval:    5 * time.Minute,
		LogLevel:           "info",
		ShutdownTimeout:    30 * time.Second,
	}
}

// Load reads defaults, the optional YAML file, .env (if present) and the
// environment, then validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("TILL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitCSV(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("TILL_HTTP_ADDR", &c.HTTPAddr)
	str("TILL_SQLITE_PATH", &c.SQLitePath)
	str("TILL_SALE_SOURCE", &c.SaleSource)
	str("TILL_POSTGRES_DSN", &c.PostgresDSN)
	str("TILL_JWT_SECRET", &c.JWTSecret)
	str("TILL_CATALOG", &c.CatalogPath)
	str("TILL_LOG_LEVEL", &c.LogLevel)
	list("TILL_CORS_ORIGINS", &c.CORSOrigins)
	list("TILL_DENOMINATIONS", &c.Denominations)

	if v, ok := lookup("TILL_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TILL_RATE_LIMIT: %w", err)
		}
		c.RateLimitPerMinute = n
	}
	if err := dur("TILL_SESSION_MAX_AGE", &c.SessionMaxAge); err != nil {
		return err
	}
	if err := dur("TILL_MONITOR_INTERVAL", &c.MonitorInterval); err != nil {
		return err
	}
	return dur("TILL_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch c.SaleSource {
	case SaleSourceLocal:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required"))
		}
	case SaleSourcePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required when sale_source is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("sale_source must be %q or %q, got %q", SaleSourceLocal, SaleSourcePostgres, c.SaleSource))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit_per_minute must not be negative"))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("session_max_age must be positive"))
	}
	if c.MonitorInterval < 0 {
		errs = append(errs, errors.New("monitor_interval must not be negative"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := c.DenominationValues(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DenominationValues parses the configured face values.
func (c Config) DenominationValues() ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(c.Denominations))
	for _, raw := range c.Denominations {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("denomination %q: %w", raw, err)
		}
		if !d.IsPositive() {
			return nil, fmt.Errorf("denomination %q must be positive", raw)
		}
		out = append(out, d)
	}
	return out, nil
}

// Level returns the configured log level, info when unparseable.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func parseDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err == nil {
		return d, nil
	}
	// Bare integers are seconds.
	if secs, convErr := strconv.Atoi(v); convErr == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, err
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
