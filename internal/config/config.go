// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Place store (PostgreSQL with PostGIS)
	DatabaseURL string `koanf:"database_url"`

	// Rate-limit / dedupe backend
	RedisURL string `koanf:"redis_url"`

	// Attestation service
	AttestationURL         string `koanf:"attestation_url"`
	AttestationKeypairPath string `koanf:"attestation_keypair_path"`
	AttestationRequired    bool   `koanf:"attestation_required"`

	// CORS
	CORSOrigins []string `koanf:"cors_origins"`

	// Abuse-prevention limits, per client fingerprint per fixed window
	SubmitPerHour int `koanf:"rate_limit_submit_per_hour"`
	UpvotePerHour int `koanf:"rate_limit_upvote_per_hour"`
	RateWindowSec int `koanf:"rate_limit_window_sec"`

	// Moderation policy: approve submissions immediately instead of
	// queueing them as pending
	SubmitAutoApprove bool `koanf:"submit_auto_approve"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrMissingRedisURL       = errors.New("REDIS_URL is required")
	ErrMissingAttestationURL = errors.New("ATTESTATION_URL is required")
	ErrMissingKeypairPath    = errors.New("ATTESTATION_KEYPAIR_PATH is required")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidRateLimit      = errors.New("rate limit values must be positive integers")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8000
	DefaultEnv                 = "development"
	DefaultSubmitPerHour       = 5
	DefaultUpvotePerHour       = 10
	DefaultRateWindowSec       = 3600
	DefaultCORSOrigin          = "http://localhost:3000"
	DefaultTracingSamplingRate = 1.0
)

// Load reads configuration from environment variables and an optional YAML
// file. Environment variables take precedence over file values. Returns the
// loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("%w: %v", ErrInvalidPort, err))
	}
	submitLimit, err := getEnvIntOrDefault("RATE_LIMIT_SUBMIT_PER_HOUR", k.Int("rate_limit_submit_per_hour"), DefaultSubmitPerHour)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	upvoteLimit, err := getEnvIntOrDefault("RATE_LIMIT_UPVOTE_PER_HOUR", k.Int("rate_limit_upvote_per_hour"), DefaultUpvotePerHour)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	windowSec, err := getEnvIntOrDefault("RATE_LIMIT_WINDOW_SEC", k.Int("rate_limit_window_sec"), DefaultRateWindowSec)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:               getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		AttestationURL:         getEnvOrKoanf("ATTESTATION_URL", k, "attestation_url"),
		AttestationKeypairPath: getEnvOrKoanf("ATTESTATION_KEYPAIR_PATH", k, "attestation_keypair_path"),
		AttestationRequired:    getEnvBoolOrDefault("ATTESTATION_REQUIRED", k, "attestation_required", true),
		CORSOrigins:            getEnvListOrDefault("CORS_ORIGINS", k.Strings("cors_origins"), []string{DefaultCORSOrigin}),
		SubmitPerHour:          submitLimit,
		UpvotePerHour:          upvoteLimit,
		RateWindowSec:          windowSec,
		SubmitAutoApprove:      getEnvBoolOrDefault("SUBMIT_AUTO_APPROVE", k, "submit_auto_approve", false),
		TracingEnabled:         getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingOTLPEndpoint:    getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate:    samplingRate,
		TracingInsecure:        getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	errs := append(loadErrs, cfg.Validate()...)
	return cfg, errs
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.RedisURL == "" {
		errs = append(errs, ErrMissingRedisURL)
	}

	// Attestation endpoint and credential are only hard requirements when
	// attestation failures must block the write path.
	if c.AttestationRequired {
		if c.AttestationURL == "" {
			errs = append(errs, ErrMissingAttestationURL)
		}
		if c.AttestationKeypairPath == "" {
			errs = append(errs, ErrMissingKeypairPath)
		}
	}

	if c.SubmitPerHour <= 0 || c.UpvotePerHour <= 0 || c.RateWindowSec <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// Secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"database_url":          maskConnURL(c.DatabaseURL),
		"redis_url":             maskConnURL(c.RedisURL),
		"attestation_url":       c.AttestationURL,
		"attestation_keypair":   maskSecret(c.AttestationKeypairPath),
		"attestation_required":  fmt.Sprintf("%t", c.AttestationRequired),
		"cors_origins":          strings.Join(c.CORSOrigins, ","),
		"submit_per_hour":       fmt.Sprintf("%d", c.SubmitPerHour),
		"upvote_per_hour":       fmt.Sprintf("%d", c.UpvotePerHour),
		"rate_window_sec":       fmt.Sprintf("%d", c.RateWindowSec),
		"submit_auto_approve":   fmt.Sprintf("%t", c.SubmitAutoApprove),
		"tracing_enabled":       fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_otlp_endpoint": c.TracingOTLPEndpoint,
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the
// koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise
// the koanf value, or default.
func getEnvOrDefault(envKey, koanfVal, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the environment
// variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer", envKey)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float", envKey)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// getEnvListOrDefault parses a comma-separated environment variable into a
// list, otherwise the koanf value, or default.
func getEnvListOrDefault(envKey string, koanfVal, defaultVal []string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	if len(koanfVal) > 0 {
		return koanfVal
	}
	return defaultVal
}

// maskSecret masks a secret value for logging.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	return "****"
}

// maskConnURL masks the password in a connection URL.
func maskConnURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return "****"
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
