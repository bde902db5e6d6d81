package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "AUDITGRID_"

// Config is the root configuration. Values come from defaults, then the YAML
// file, then AUDITGRID_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	License   LicenseConfig   `yaml:"license"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains listener settings for the HTTP and gRPC surfaces.
type ServerConfig struct {
	HTTPAddr     string        `yaml:"http_addr"`
	GRPCAddr     string        `yaml:"grpc_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig contains the PostgreSQL DSN and pool sizing.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AuthConfig contains token signing material. Issuer, Audience and SigningKey
// are not validated at load time; the login path reports their absence.
type AuthConfig struct {
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
	SigningKey    string `yaml:"signing_key"`
	ExpiryMinutes int    `yaml:"expiry_minutes"`
	GrantType     string `yaml:"grant_type"`
	// AuditTimeout bounds the session audit step of a login.
	AuditTimeout time.Duration `yaml:"audit_timeout"`
}

// LicenseConfig contains the envelope master key and the project connection template.
type LicenseConfig struct {
	MasterKey          string `yaml:"master_key"`
	ConnectionTemplate string `yaml:"connection_template"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig throttles requests per client IP.
type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	Burst     int  `yaml:"burst"`
	PerSecond int  `yaml:"per_second"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Environment string `yaml:"environment"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:     ":8080",
			GRPCAddr:     ":9090",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			ExpiryMinutes: 60,
			GrantType:     "password",
			AuditTimeout:  5 * time.Second,
		},
		License: LicenseConfig{
			ConnectionTemplate: "Host=db;Database={0};Username={1};Password={2}",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			Burst:     20,
			PerSecond: 10,
		},
		Tracing: TracingConfig{
			Environment: "development",
		},
	}
}

// Load reads path (optional, empty means defaults only) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
		}
		*dst = n
		return nil
	}

	str("SERVER_HTTP_ADDR", &c.Server.HTTPAddr)
	str("SERVER_GRPC_ADDR", &c.Server.GRPCAddr)
	str("DATABASE_DSN", &c.Database.DSN)
	str("AUTH_ISSUER", &c.Auth.Issuer)
	str("AUTH_AUDIENCE", &c.Auth.Audience)
	str("AUTH_SIGNING_KEY", &c.Auth.SigningKey)
	str("AUTH_GRANT_TYPE", &c.Auth.GrantType)
	str("LICENSE_MASTER_KEY", &c.License.MasterKey)
	str("LICENSE_CONNECTION_TEMPLATE", &c.License.ConnectionTemplate)
	str("LOGGING_LEVEL", &c.Logging.Level)
	str("LOGGING_FORMAT", &c.Logging.Format)
	str("TRACING_ENDPOINT", &c.Tracing.Endpoint)
	str("TRACING_ENVIRONMENT", &c.Tracing.Environment)

	if err := num("AUTH_EXPIRY_MINUTES", &c.Auth.ExpiryMinutes); err != nil {
		return err
	}
	if err := num("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns); err != nil {
		return err
	}
	if err := num("RATE_LIMIT_BURST", &c.RateLimit.Burst); err != nil {
		return err
	}
	if err := num("RATE_LIMIT_PER_SECOND", &c.RateLimit.PerSecond); err != nil {
		return err
	}
	if v, ok := lookup(envPrefix + "AUTH_AUDIT_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sAUTH_AUDIT_TIMEOUT: %w", envPrefix, err)
		}
		c.Auth.AuditTimeout = d
	}
	if v, ok := lookup(envPrefix + "RATE_LIMIT_ENABLED"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sRATE_LIMIT_ENABLED: %w", envPrefix, err)
		}
		c.RateLimit.Enabled = b
	}
	return nil
}

// Validate checks structural settings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		errs = append(errs, errors.New("server.http_addr is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Auth.ExpiryMinutes <= 0 {
		errs = append(errs, errors.New("auth.expiry_minutes must be positive"))
	}
	if strings.TrimSpace(c.Auth.GrantType) == "" {
		errs = append(errs, errors.New("auth.grant_type is required"))
	}
	if c.Auth.AuditTimeout <= 0 {
		errs = append(errs, errors.New("auth.audit_timeout must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0) {
		errs = append(errs, errors.New("rate_limit.burst and rate_limit.per_second must be positive"))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database pool sizes must not be negative"))
	}
	return errors.Join(errs...)
}
