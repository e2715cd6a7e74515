package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	MongoDB MongoDBConfig
	Redis   RedisConfig
	Daraja  DarajaConfig
	Webhook WebhookConfig
	JWT     JWTConfig
	S3      S3Config
	Billing BillingConfig
	OTEL    OTELConfig
}

// ServerConfig holds HTTP server configuration. PublicBaseURL is the
// externally reachable origin Daraja calls back on.
type ServerConfig struct {
	Port          string
	PublicBaseURL string
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
}

// DarajaConfig holds the M-Pesa Daraja API credentials. With no consumer key
// configured the service runs against the mock gateway.
type DarajaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	BaseURL        string
}

// WebhookConfig holds inbound webhook verification settings. An empty secret
// disables signature verification; that is only acceptable alongside the
// mock gateway.
type WebhookConfig struct {
	Secret string
}

// JWTConfig holds the operator API token settings
type JWTConfig struct {
	Secret   string
	TTLHours int64
}

// S3Config holds the S3-compatible object store used for batch exports.
// An empty endpoint disables exports.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// BillingConfig holds platform billing defaults
type BillingConfig struct {
	DefaultCommissionRate float64
	PollTimeoutMinutes    int64
	StaleSessionMinutes   int64
}

// OTELConfig holds OpenTelemetry export settings (Grafana Cloud OTLP)
type OTELConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	InstanceID     string
	Token          string
}

// Load reads configuration from environment variables
// It attempts to load from .env file first, then falls back to system env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "nurubill"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Daraja: DarajaConfig{
			ConsumerKey:    getEnv("DARAJA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("DARAJA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("DARAJA_SHORTCODE", "174379"),
			Passkey:        getEnv("DARAJA_PASSKEY", ""),
			BaseURL:        getEnv("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("MPESA_WEBHOOK_SECRET", ""),
		},
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", ""),
			TTLHours: getEnvAsInt64("JWT_TTL_HOURS", 72),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Bucket:    getEnv("S3_BUCKET", "nurubill-exports"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Billing: BillingConfig{
			DefaultCommissionRate: getEnvAsFloat64("DEFAULT_COMMISSION_RATE", 0.10),
			PollTimeoutMinutes:    getEnvAsInt64("POLL_TIMEOUT_MINUTES", 10),
			StaleSessionMinutes:   getEnvAsInt64("STALE_SESSION_MINUTES", 30),
		},
		OTEL: OTELConfig{
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "nurubill-api"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getEnv("OTEL_ENVIRONMENT", "development"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			InstanceID:     getEnv("OTEL_INSTANCE_ID", ""),
			Token:          getEnv("OTEL_TOKEN", ""),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Daraja.ConsumerKey != "" {
		if c.Daraja.Passkey == "" {
			return fmt.Errorf("DARAJA_PASSKEY is required when DARAJA_CONSUMER_KEY is set")
		}
		if c.Webhook.Secret == "" {
			return fmt.Errorf("MPESA_WEBHOOK_SECRET is required when DARAJA_CONSUMER_KEY is set")
		}
	}
	if c.Billing.DefaultCommissionRate < 0 || c.Billing.DefaultCommissionRate > 1 {
		return fmt.Errorf("DEFAULT_COMMISSION_RATE must be between 0 and 1")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt64 retrieves an environment variable as int64 or returns a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat64 retrieves an environment variable as float64 or returns a default value
func getEnvAsFloat64(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
