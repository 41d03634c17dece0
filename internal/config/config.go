package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ApplicabilityRule selects how SAME_PRICE_PRODUCT vouchers match order lines.
type ApplicabilityRule string

const (
	// ApplicabilityAtLeastOne accepts a voucher when at least one order line
	// references an applicable product.
	ApplicabilityAtLeastOne ApplicabilityRule = "at_least_one"
	// ApplicabilityAll requires every order line to reference an applicable product.
	ApplicabilityAll ApplicabilityRule = "all"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string
	MigrationsDir      string

	UnpaidOrderTTL      time.Duration
	ApplicabilityRule   ApplicabilityRule
	VoucherApplyPerMin  int
	BusinessDayStartHr  int
	AttachLockTTL       time.Duration
	AttachLockBackoff   time.Duration
	CancelQueueName     string
	CancelMaxRetry      int
	RescanOnStartup     bool
	ShutdownGracePeriod time.Duration

	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsEnabled   bool
	TracingEnabled   bool
	TracingEndpoint  string
	TracingSampling  float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrationsDir:      valueOrDefault(k.String("MIGRATIONS_DIR"), "migrations"),

		UnpaidOrderTTL:      parseDuration(k.String("UNPAID_ORDER_TTL"), "15m"),
		ApplicabilityRule:   parseApplicability(k.String("VOUCHER_APPLICABILITY_RULE")),
		VoucherApplyPerMin:  intOrDefault(k.Int("VOUCHER_APPLY_RATE_LIMIT"), 30),
		BusinessDayStartHr:  intOrDefault(k.Int("BUSINESS_DAY_START_HOUR"), 7),
		AttachLockTTL:       parseDuration(k.String("ATTACH_LOCK_TTL"), "10s"),
		AttachLockBackoff:   parseDuration(k.String("ATTACH_LOCK_BACKOFF"), "50ms"),
		CancelQueueName:     valueOrDefault(k.String("CANCEL_QUEUE_NAME"), "orders"),
		CancelMaxRetry:      intOrDefault(k.Int("CANCEL_MAX_RETRY"), 5),
		RescanOnStartup:     boolOrDefault(k.String("CANCEL_RESCAN_ON_STARTUP"), true),
		ShutdownGracePeriod: parseDuration(k.String("SHUTDOWN_GRACE_PERIOD"), "15s"),

		LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "resto"),
		MetricsEnabled:   boolOrDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		TracingEnabled:   boolOrDefault(k.String("OBS_ENABLE_TRACING"), false),
		TracingEndpoint:  strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling:  floatOrDefault(k.Float64("OBS_TRACING_SAMPLING_RATIO"), 1.0),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.BusinessDayStartHr < 0 || cfg.BusinessDayStartHr > 23 {
		return nil, fmt.Errorf("BUSINESS_DAY_START_HOUR out of range: %d", cfg.BusinessDayStartHr)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func parseApplicability(value string) ApplicabilityRule {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "all":
		return ApplicabilityAll
	default:
		return ApplicabilityAtLeastOne
	}
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func boolOrDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
