package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Analyzer modes
const (
	AnalyzerMock    = "mock"
	AnalyzerWebhook = "webhook"
)

// Config holds all configuration for the application
type Config struct {
	Env Environment

	// Server configuration
	ServerPort  string
	ServerHost  string
	CORSOrigins []string
	LogLevel    string

	// Analysis configuration
	AnalyzerMode    string
	WebhookURL      string
	WebhookToken    string
	AnalysisTimeout time.Duration
	MockLatency     time.Duration
	MaxUploadBytes  int64

	// Session configuration
	SessionSecret    string
	SessionTTL       time.Duration
	AnalyzeRateLimit int

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisURL      string

	// Image storage
	S3BucketName string
	AWSRegion    string
	// S3ImageExpiryDays installs a bucket lifecycle rule expiring meal images.
	// 0 leaves the bucket's lifecycle configuration alone.
	S3ImageExpiryDays int
}

// LoadConfig creates a new Config instance with values from environment variables or secrets
func LoadConfig() (*Config, error) {
	env := GetEnvironment()
	loadDotEnv(env)

	cfg := defaults()
	cfg.Env = env

	switch env {
	case CI, Development, Test:
		if err := loadEnvConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s configuration: %w", env, err)
		}
	case Production:
		if err := loadProdConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to load production configuration: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown environment: %s", env)
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:       "8080",
		ServerHost:       "0.0.0.0",
		CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
		LogLevel:         "info",
		AnalyzerMode:     AnalyzerMock,
		AnalysisTimeout:  60 * time.Second,
		MockLatency:      2 * time.Second,
		MaxUploadBytes:   10 << 20,
		SessionTTL:       2 * time.Hour,
		AnalyzeRateLimit: 20,
		RedisPort:        "6379",
		AWSRegion:        "us-east-1",

		S3ImageExpiryDays: 1,
	}
}

// loadEnvConfig reads every value from the process environment. Secrets may
// still be supplied as Docker secrets outside of CI.
func loadEnvConfig(cfg *Config) error {
	if err := applyEnv(cfg); err != nil {
		return err
	}

	if cfg.Env != CI {
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = readSecret("session_secret")
		}
		if cfg.WebhookToken == "" {
			cfg.WebhookToken = readSecret("webhook_token")
		}
		if cfg.RedisPassword == "" {
			cfg.RedisPassword = readSecret("redis_password")
		}
	}

	// Local runs get a throwaway signing key so the server starts without setup
	if cfg.SessionSecret == "" && (cfg.Env == Development || cfg.Env == Test) {
		cfg.SessionSecret = "dev-session-secret"
	}
	return nil
}

// loadProdConfig loads plain settings from the environment and secrets ONLY from Docker secrets
func loadProdConfig(cfg *Config) error {
	if err := applyEnv(cfg); err != nil {
		return err
	}
	cfg.SessionSecret = readSecret("session_secret")
	cfg.WebhookToken = readSecret("webhook_token")
	cfg.RedisPassword = readSecret("redis_password")
	if url := readSecret("redis_url"); url != "" {
		cfg.RedisURL = url
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ServerPort, "SERVER_PORT")
	setString(&cfg.ServerHost, "SERVER_HOST")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.AnalyzerMode, "ANALYZER_MODE")
	setString(&cfg.WebhookURL, "WEBHOOK_URL")
	setString(&cfg.WebhookToken, "WEBHOOK_TOKEN")
	setString(&cfg.SessionSecret, "SESSION_SECRET")
	setString(&cfg.RedisHost, "REDIS_HOST")
	setString(&cfg.RedisPort, "REDIS_PORT")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.S3BucketName, "S3_BUCKET_NAME")
	setString(&cfg.AWSRegion, "AWS_REGION")

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	durations := map[string]*time.Duration{
		"ANALYSIS_TIMEOUT": &cfg.AnalysisTimeout,
		"MOCK_LATENCY":     &cfg.MockLatency,
		"SESSION_TTL":      &cfg.SessionTTL,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return ValidationError{Field: key, Message: fmt.Sprintf("invalid duration %q", v)}
		}
		*dst = d
	}

	ints := map[string]*int{
		"REDIS_DB":             &cfg.RedisDB,
		"ANALYZE_RATE_LIMIT":   &cfg.AnalyzeRateLimit,
		"S3_IMAGE_EXPIRY_DAYS": &cfg.S3ImageExpiryDays,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return ValidationError{Field: key, Message: fmt.Sprintf("invalid integer %q", v)}
		}
		*dst = n
	}

	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ValidationError{Field: "MAX_UPLOAD_BYTES", Message: fmt.Sprintf("invalid integer %q", v)}
		}
		cfg.MaxUploadBytes = n
	}

	cfg.AnalyzerMode = strings.ToLower(strings.TrimSpace(cfg.AnalyzerMode))
	return nil
}

// RedisEnabled reports whether a Redis endpoint was configured
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != "" || c.RedisHost != ""
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return c.ServerHost + ":" + c.ServerPort
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readSecret reads a Docker secret from the secrets directory
func readSecret(name string) string {
	secretsDir := os.Getenv("SECRETS_DIR")
	if secretsDir == "" {
		secretsDir = "/run/secrets"
	}
	if data, err := os.ReadFile(filepath.Join(secretsDir, name)); err == nil {
		return strings.TrimSpace(string(data))
	}
	return ""
}
