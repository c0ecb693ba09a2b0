package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"openrate/observability/otel"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "OPENRATE_"

// applyEnvOverrides lets deployments inject secrets and endpoints without
// editing the YAML file. Unset or empty variables leave the field untouched.
func applyEnvOverrides(cfg *Config) error {
	o := overrides{}
	o.str(&cfg.Env, "ENV")
	o.str(&cfg.Listen, "LISTEN")
	o.str(&cfg.ParamsPath, "PARAMS")
	o.str(&cfg.ExportDir, "EXPORT_DIR")
	o.duration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	o.str(&cfg.Database.Driver, "DATABASE_DRIVER")
	o.str(&cfg.Database.DSN, "DATABASE_DSN")
	o.boolean(&cfg.Database.Serializable, "DATABASE_SERIALIZABLE")
	o.integer(&cfg.Database.Retries, "DATABASE_RETRIES")

	o.str(&cfg.Redis.Addr, "REDIS_ADDR")
	o.str(&cfg.Redis.Password, "REDIS_PASSWORD")
	o.integer(&cfg.Redis.DB, "REDIS_DB")
	o.boolean(&cfg.Redis.TLS, "REDIS_TLS")

	o.duration(&cfg.Auth.TimestampSkew, "AUTH_TIMESTAMP_SKEW")
	o.duration(&cfg.Auth.NonceTTL, "AUTH_NONCE_TTL")
	o.str(&cfg.Auth.NonceDB, "AUTH_NONCE_DB")

	o.str(&cfg.Operator.JWTSecret, "OPERATOR_JWT_SECRET")
	o.str(&cfg.Operator.Issuer, "OPERATOR_ISSUER")
	o.str(&cfg.Operator.Audience, "OPERATOR_AUDIENCE")

	o.str(&cfg.Logging.Level, "LOG_LEVEL")
	o.str(&cfg.Logging.File, "LOG_FILE")

	o.str(&cfg.Telemetry.Endpoint, "OTEL_ENDPOINT")
	o.boolean(&cfg.Telemetry.Traces, "OTEL_TRACES")
	o.boolean(&cfg.Telemetry.Metrics, "OTEL_METRICS")
	if raw := lookup("OTEL_HEADERS"); raw != "" {
		cfg.Telemetry.Headers = otel.ParseHeaders(raw)
	}
	return o.err
}

type overrides struct {
	err error
}

func lookup(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func (o *overrides) fail(name, raw string, err error) {
	if o.err == nil {
		o.err = fmt.Errorf("env %s%s=%q: %w", EnvPrefix, name, raw, err)
	}
}

func (o *overrides) str(dst *string, name string) {
	if v := lookup(name); v != "" {
		*dst = v
	}
}

func (o *overrides) integer(dst *int, name string) {
	raw := lookup(name)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = v
}

func (o *overrides) boolean(dst *bool, name string) {
	raw := lookup(name)
	if raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = v
}

func (o *overrides) duration(dst *time.Duration, name string) {
	raw := lookup(name)
	if raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		o.fail(name, raw, err)
		return
	}
	*dst = v
}
