package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// CarrierCredentials holds per-carrier API access settings.
type CarrierCredentials struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	APIKey       string
	Username     string
	Password     string
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	LogFormat   string
	LogLevel    string
	DatabaseURL string
	RedisURL    string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	UPS   CarrierCredentials
	DHL   CarrierCredentials
	FedEx CarrierCredentials
	AFS   CarrierCredentials

	GLSTrackingURL    string
	AFSLabelTemplates []string

	CarrierTimeout      time.Duration
	CarrierMaxAttempts  int
	CarrierRateWindow   time.Duration
	CarrierRateMax      int
	BatchPerCarrier     int64
	BatchLockTTL        time.Duration
	BatchCron           string
	TrackCacheTTL       time.Duration
	HTTPRatePerMinute   int64
	ShutdownGracePeriod time.Duration

	RunMigrations bool
	OTLPEndpoint  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	cfg, err := LoadCarriers()
	if err != nil {
		return nil, err
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

	return cfg, nil
}

// LoadCarriers reads configuration without requiring the service-only
// settings. The lookup CLI uses it so a one-off query needs no database,
// Redis or JWT configuration.
func LoadCarriers() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:      valueOrDefault(k.String("APP_ENV"), "development"),
		Port:        valueOrDefault(k.String("PORT"), "8080"),
		LogFormat:   valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:    valueOrDefault(k.String("LOG_LEVEL"), "info"),
		DatabaseURL: k.String("DATABASE_URL"),
		RedisURL:    k.String("REDIS_URL"),

		JWTSecret:   k.String("JWT_SECRET"),
		JWTIssuer:   valueOrDefault(k.String("JWT_ISSUER"), "parcelhub"),
		JWTAudience: strings.TrimSpace(k.String("JWT_AUDIENCE")),

		UPS: CarrierCredentials{
			BaseURL:      valueOrDefault(k.String("UPS_BASE_URL"), "https://onlinetools.ups.com"),
			TokenURL:     valueOrDefault(k.String("UPS_TOKEN_URL"), "https://onlinetools.ups.com/security/v1/oauth/token"),
			ClientID:     k.String("UPS_CLIENT_ID"),
			ClientSecret: k.String("UPS_CLIENT_SECRET"),
		},
		DHL: CarrierCredentials{
			BaseURL: valueOrDefault(k.String("DHL_BASE_URL"), "https://api-eu.dhl.com"),
			APIKey:  k.String("DHL_API_KEY"),
		},
		FedEx: CarrierCredentials{
			BaseURL:      valueOrDefault(k.String("FEDEX_BASE_URL"), "https://apis.fedex.com"),
			TokenURL:     valueOrDefault(k.String("FEDEX_TOKEN_URL"), "https://apis.fedex.com/oauth/token"),
			ClientID:     k.String("FEDEX_CLIENT_ID"),
			ClientSecret: k.String("FEDEX_CLIENT_SECRET"),
		},
		AFS: CarrierCredentials{
			BaseURL:  k.String("AFS_BASE_URL"),
			Username: k.String("AFS_USERNAME"),
			Password: k.String("AFS_PASSWORD"),
		},

		GLSTrackingURL:    valueOrDefault(k.String("GLS_TRACKING_URL"), "https://gls-group.eu/track"),
		AFSLabelTemplates: splitAndTrim(k.String("AFS_LABEL_URL_TEMPLATES")),

		CarrierTimeout:      parseDuration(k.String("CARRIER_TIMEOUT"), "20s"),
		CarrierMaxAttempts:  parseInt(k.String("CARRIER_MAX_ATTEMPTS"), 3),
		CarrierRateWindow:   parseDuration(k.String("CARRIER_RATE_WINDOW"), "1m"),
		CarrierRateMax:      parseInt(k.String("CARRIER_RATE_MAX"), 0),
		BatchPerCarrier:     int64(parseInt(k.String("BATCH_PER_CARRIER"), 4)),
		BatchLockTTL:        parseDuration(k.String("BATCH_LOCK_TTL"), "15m"),
		BatchCron:           valueOrDefault(k.String("BATCH_CRON"), "0 6,12,18 * * *"),
		TrackCacheTTL:       parseDuration(k.String("TRACK_CACHE_TTL"), "5m"),
		HTTPRatePerMinute:   int64(parseInt(k.String("HTTP_RATE_PER_MINUTE"), 120)),
		ShutdownGracePeriod: parseDuration(k.String("SHUTDOWN_GRACE_PERIOD"), "15s"),

		RunMigrations: parseBool(valueOrDefault(k.String("RUN_MIGRATIONS"), "true")),
		OTLPEndpoint:  strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
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

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
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
