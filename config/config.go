package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration values, loaded once at startup.
type Config struct {
	// Server
	Addr            string
	Env             string
	GracefulTimeout time.Duration

	// Redis (config/counters/totals/sticky/tokens/pricing-cache store)
	RedisURL string

	// Secrets
	ProvisioningAPIKeySecretName string
	ProvisioningAPIKey           string // resolved value, read once at startup
	TokenSigningSecretName       string
	TokenSigningSecret           string

	// AWS (inference-profile describe calls, §4.E)
	AWSRegion string

	// Pricing
	PricebookPath string

	// Metering defaults (shard count and tight-mode threshold are overridable
	// per org/app via the ShardCount and TightModeThresholdPct fields of
	// store.OrgConfig and store.AppConfig)
	RetentionDays         int
	DefaultShardCount     int
	TightModeThresholdPct float64

	// Token lifetimes
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Body limits
	MaxBodyBytes int64

	// RequestTimeout bounds the deadline attached to every inbound request;
	// outbound calls (e.g. inference-profile describe) inherit it via
	// context cancellation (spec §5).
	RequestTimeout time.Duration

	// CORSAllowedOrigins lists origins the server accepts cross-origin
	// requests from; "*" allows any origin.
	CORSAllowedOrigins []string

	LogLevel string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	gracefulSec := getEnvInt("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15)

	cfg := &Config{
		Addr:                         getEnv("GATEWAY_ADDR", ":8080"),
		Env:                          getEnv("ENV", "development"),
		GracefulTimeout:              time.Duration(gracefulSec) * time.Second,
		RedisURL:                     getEnv("REDIS_URL", "redis://redis:6379"),
		ProvisioningAPIKeySecretName: getEnv("PROVISIONING_API_KEY_SECRET_NAME", "provisioning-api-key"),
		ProvisioningAPIKey:           getEnv("PROVISIONING_API_KEY", ""),
		TokenSigningSecretName:       getEnv("TOKEN_SIGNING_SECRET_NAME", "token-signing-secret"),
		TokenSigningSecret:           getEnv("TOKEN_SIGNING_SECRET", ""),
		AWSRegion:                    getEnv("AWS_REGION", "us-east-1"),
		PricebookPath:                getEnv("PRICEBOOK_PATH", "pricebook.json"),
		RetentionDays:                getEnvInt("RETENTION_DAYS", 32),
		DefaultShardCount:            getEnvInt("DEFAULT_SHARD_COUNT", 8),
		TightModeThresholdPct:        getEnvFloat("TIGHT_MODE_THRESHOLD_PCT", 0.95),
		AccessTokenTTL:               time.Duration(getEnvInt("ACCESS_TOKEN_TTL_SEC", 3600)) * time.Second,
		RefreshTokenTTL:              time.Duration(getEnvInt("REFRESH_TOKEN_TTL_SEC", 30*24*3600)) * time.Second,
		MaxBodyBytes:                 int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
		RequestTimeout:               time.Duration(getEnvInt("GATEWAY_REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		CORSAllowedOrigins:           getEnvList("GATEWAY_CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
