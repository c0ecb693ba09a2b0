// Package config loads the openrated service configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"openrate/gateway/middleware"
	"openrate/observability/logging"
	"openrate/observability/otel"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultListen  = ":8085"
	defaultService = "openrated"
)

// Config captures the runtime settings of the openrated daemon.
type Config struct {
	Service         string                          `yaml:"service"`
	Env             string                          `yaml:"env"`
	Listen          string                          `yaml:"listen"`
	ParamsPath      string                          `yaml:"params"`
	ExportDir       string                          `yaml:"exportDir"`
	ShutdownTimeout time.Duration                   `yaml:"shutdownTimeout"`
	Database        DatabaseConfig                  `yaml:"database"`
	Redis           RedisConfig                     `yaml:"redis"`
	Auth            AuthConfig                      `yaml:"auth"`
	Operator        OperatorConfig                  `yaml:"operator"`
	RateLimits      map[string]middleware.RateLimit `yaml:"rateLimits"`
	CORS            middleware.CORSConfig           `yaml:"cors"`
	Logging         LoggingConfig                   `yaml:"logging"`
	Telemetry       otel.Config                     `yaml:"telemetry"`
}

// DatabaseConfig selects the ledger store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	Serializable bool   `yaml:"serializable"`
	Retries      int    `yaml:"retries"`
}

// RedisConfig enables the shared market sequencer when Addr is set.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	TLS           bool          `yaml:"tls"`
	LockTTL       time.Duration `yaml:"lockTTL"`
	RetryInterval time.Duration `yaml:"retryInterval"`
}

// Enabled reports whether a Redis sequencer is configured.
func (c RedisConfig) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// AuthConfig tunes signed-request verification.
type AuthConfig struct {
	TimestampSkew time.Duration `yaml:"timestampSkew"`
	NonceTTL      time.Duration `yaml:"nonceTTL"`
	NonceCapacity int           `yaml:"nonceCapacity"`
	// NonceDB is the LevelDB directory for replay protection. Empty keeps
	// nonces in memory only.
	NonceDB string `yaml:"nonceDB"`
}

// OperatorConfig configures bearer tokens for the /ops routes.
type OperatorConfig struct {
	JWTSecret string        `yaml:"jwtSecret"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clockSkew"`
}

// Enabled reports whether operator routes are mounted.
func (c OperatorConfig) Enabled() bool { return strings.TrimSpace(c.JWTSecret) != "" }

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
	LogRequests bool   `yaml:"logRequests"`
}

// LoggingOptions converts the logging section into logger options.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Service:    c.Service,
		Env:        c.Env,
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

// Defaults returns a configuration that runs against a local SQLite file.
func Defaults() Config {
	return Config{
		Service:         defaultService,
		Listen:          defaultListen,
		ExportDir:       "exports",
		ShutdownTimeout: 10 * time.Second,
		Database: DatabaseConfig{
			Driver:  DriverSQLite,
			DSN:     "openrate.db",
			Retries: 3,
		},
		Redis: RedisConfig{
			LockTTL:       30 * time.Second,
			RetryInterval: 25 * time.Millisecond,
		},
		Auth: AuthConfig{
			TimestampSkew: 2 * time.Minute,
			NonceTTL:      10 * time.Minute,
			NonceCapacity: 4096,
		},
		RateLimits: map[string]middleware.RateLimit{
			"public": {RequestsPerMinute: 600, Burst: 60},
			"signed": {RequestsPerMinute: 120, Burst: 20},
			"ops":    {RequestsPerMinute: 30, Burst: 5},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path over the defaults, loads a .env file from
// the working directory when present, then applies OPENRATE_* overrides. An
// empty path skips the file.
func Load(path string) (Config, error) {
	return LoadWithEnv(path)
}

// LoadWithEnv is Load with explicit .env files. Missing files are ignored.
func LoadWithEnv(path string, envFiles ...string) (Config, error) {
	cfg := Defaults()
	if path = strings.TrimSpace(path); path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.Service = strings.TrimSpace(cfg.Service)
	if cfg.Service == "" {
		cfg.Service = defaultService
	}
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	cfg.ExportDir = strings.TrimSpace(cfg.ExportDir)
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	cfg.Auth.NonceDB = strings.TrimSpace(cfg.Auth.NonceDB)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.Service
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = cfg.Env
	}
}

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	switch cfg.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database: unsupported driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return errors.New("database: dsn required")
	}
	if cfg.Database.Retries < 0 {
		return errors.New("database: retries must not be negative")
	}
	if cfg.Database.Serializable && cfg.Database.Driver != DriverPostgres {
		return errors.New("database: serializable isolation requires postgres")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("shutdownTimeout must be positive")
	}
	for name, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			return fmt.Errorf("rateLimits.%s: values must not be negative", name)
		}
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry: sampleRatio must be within [0, 1]")
	}
	return nil
}

// Sanitized returns a copy safe to log.
func (cfg Config) Sanitized() Config {
	out := cfg
	out.Database.DSN = logging.MaskValue(cfg.Database.DSN)
	out.Redis.Password = logging.MaskValue(cfg.Redis.Password)
	out.Operator.JWTSecret = logging.MaskValue(cfg.Operator.JWTSecret)
	if len(cfg.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(cfg.Telemetry.Headers))
		for k, v := range cfg.Telemetry.Headers {
			out.Telemetry.Headers[k] = logging.MaskValue(v)
		}
	}
	if cfg.RateLimits != nil {
		out.RateLimits = make(map[string]middleware.RateLimit, len(cfg.RateLimits))
		for k, v := range cfg.RateLimits {
			out.RateLimits[k] = v
		}
	}
	return out
}
