package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConfigRequirements defines required configuration for each environment
type ConfigRequirements struct {
	RequireSessionSecret bool
	RequireRedis         bool
}

var requirements = map[Environment]ConfigRequirements{
	Development: {},
	Test:        {},
	CI:          {RequireSessionSecret: true},
	Production:  {RequireSessionSecret: true, RequireRedis: true},
}

// ValidateConfig checks if the configuration meets the requirements for its environment
func ValidateConfig(cfg *Config) error {
	reqs := requirements[cfg.Env]

	var errs []string
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg}.Error())
	}

	switch cfg.AnalyzerMode {
	case AnalyzerMock:
	case AnalyzerWebhook:
		if cfg.WebhookURL == "" {
			add("WEBHOOK_URL", "required when ANALYZER_MODE is webhook")
		} else if u, err := url.Parse(cfg.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("WEBHOOK_URL", "must be an absolute URL")
		}
	default:
		add("ANALYZER_MODE", fmt.Sprintf("unknown mode %q (want mock or webhook)", cfg.AnalyzerMode))
	}

	if cfg.ServerPort == "" {
		add("SERVER_PORT", "must not be empty")
	}
	if cfg.AnalysisTimeout <= 0 {
		add("ANALYSIS_TIMEOUT", "must be positive")
	}
	if cfg.MockLatency < 0 {
		add("MOCK_LATENCY", "must not be negative")
	}
	if cfg.S3ImageExpiryDays < 0 {
		add("S3_IMAGE_EXPIRY_DAYS", "must not be negative")
	}
	if cfg.MaxUploadBytes <= 0 {
		add("MAX_UPLOAD_BYTES", "must be positive")
	}
	if cfg.SessionTTL <= 0 {
		add("SESSION_TTL", "must be positive")
	}
	if reqs.RequireSessionSecret && cfg.SessionSecret == "" {
		add("session_secret", "secret is required")
	}
	if reqs.RequireRedis && !cfg.RedisEnabled() {
		add("REDIS_URL", "redis is required in this environment")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}
