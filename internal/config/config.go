// Package config loads configuration for the loader and provisioner binaries.
// Sources are applied in order: struct defaults, YAML file, .env and process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendMemory     = "memory"
)

// Log configures the zerolog logger.
type Log struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
}

// Metrics configures the Pushgateway push at exit. An empty PushURL disables it.
type Metrics struct {
	PushURL string `yaml:"push_url" validate:"omitempty,url"`
	Job     string `yaml:"job" default:"stock_price_loader" validate:"required"`
}

// Table identifies the destination and staging tables.
// Catalog only labels the table in logs: both SQL backends resolve tables in
// the database named by their DSN.
type Table struct {
	Catalog string `yaml:"catalog"`
	Schema  string `yaml:"schema" default:"stock"`
	Name    string `yaml:"name" default:"daily_stock_price" validate:"required"`
	Staging string `yaml:"staging" default:"daily_stock_price_staging" validate:"required,nefield=Name"`
}

// Source configures the upstream market data client.
type Source struct {
	BaseURL    string        `yaml:"base_url" default:"https://query1.finance.yahoo.com" validate:"required,url"`
	Timeout    time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	MaxRetries int           `yaml:"max_retries" default:"0" validate:"gte=0"`
}

// Window configures the default date window when no dates are given.
type Window struct {
	LookbackDays int `yaml:"lookback_days" default:"0" validate:"gte=0"`
}

// Loader is the configuration of cmd/loader.
type Loader struct {
	Environment string   `yaml:"environment" default:"development" validate:"required"`
	Log         Log      `yaml:"log"`
	Backend     string   `yaml:"backend" default:"postgres" validate:"oneof=postgres clickhouse memory"`
	Postgres    DSN      `yaml:"postgres"`
	ClickHouse  DSN      `yaml:"clickhouse"`
	Table       Table    `yaml:"table"`
	Source      Source   `yaml:"source"`
	Window      Window   `yaml:"window"`
	Symbols     []string `yaml:"symbols"`
	Metrics     Metrics  `yaml:"metrics"`
}

// DSN holds a database connection string.
type DSN struct {
	DSN string `yaml:"dsn"`
}

// Provisioner is the configuration of cmd/provisioner.
type Provisioner struct {
	Environment  string        `yaml:"environment" default:"development" validate:"required"`
	Log          Log           `yaml:"log"`
	Region       string        `yaml:"region"`
	Template     string        `yaml:"template" default:"load-stock-price-template" validate:"required"`
	Zone         string        `yaml:"zone"`
	NamePrefix   string        `yaml:"name_prefix" default:"load-stock-price" validate:"required,hostname_rfc1123"`
	UniqueSuffix bool          `yaml:"unique_suffix"`
	WaitTimeout  time.Duration `yaml:"wait_timeout" default:"5m" validate:"gt=0"`
	Schedule     string        `yaml:"schedule" default:"0 0 22 * * 1-5" validate:"required"`
	Metrics      Metrics       `yaml:"metrics"`
}

var validate = validator.New()

// LoadLoader reads loader configuration. An empty path skips the YAML file.
// The result is not validated: callers apply command-line overrides first
// and then call Validate.
func LoadLoader(path string) (*Loader, error) {
	var c Loader
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	return &c, nil
}

// LoadProvisioner reads provisioner configuration. An empty path skips the YAML file.
func LoadProvisioner(path string) (*Provisioner, error) {
	var c Provisioner
	if err := load(path, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func load(path string, dst any) error {
	// .env is optional
	_ = godotenv.Load()

	if err := defaults.Set(dst); err != nil {
		return fmt.Errorf("set defaults: %w", err)
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the loader configuration.
func (c *Loader) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Backend {
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for the postgres backend")
		}
	case BackendClickHouse:
		if c.ClickHouse.DSN == "" {
			return errors.New("clickhouse.dsn is required for the clickhouse backend")
		}
	}
	return nil
}

// Validate checks the provisioner configuration.
func (c *Provisioner) Validate() error {
	return validate.Struct(c)
}

func (c *Loader) applyEnv() {
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Backend, "BACKEND")
	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.ClickHouse.DSN, "CLICKHOUSE_DSN")
	setString(&c.Table.Catalog, "TABLE_CATALOG")
	setString(&c.Table.Schema, "TABLE_SCHEMA")
	setString(&c.Table.Name, "TABLE_NAME")
	setString(&c.Table.Staging, "STAGING_TABLE_NAME")
	setString(&c.Source.BaseURL, "SOURCE_BASE_URL")
	setInt(&c.Window.LookbackDays, "LOOKBACK_DAYS")
	setString(&c.Metrics.PushURL, "PUSHGATEWAY_URL")
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
}

func (c *Provisioner) applyEnv() {
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Region, "AWS_REGION")
	setString(&c.Template, "LAUNCH_TEMPLATE")
	setString(&c.Zone, "AVAILABILITY_ZONE")
	setString(&c.NamePrefix, "INSTANCE_NAME_PREFIX")
	setString(&c.Schedule, "SCHEDULE")
	setString(&c.Metrics.PushURL, "PUSHGATEWAY_URL")
	if v := os.Getenv("UNIQUE_SUFFIX"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.UniqueSuffix = b
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
