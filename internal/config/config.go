// Package config provides centralized configuration management for the
// project-os server. It loads configuration from CLI flags and environment
// variables, validates required fields, and provides sensible defaults.
//
// CLI flags control which services are mocked (--no-oidc, --no-s3, --test).
// Environment variables provide secrets and service configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/project-os/internal/ratelimit"
)

const (
	defaultTigrisRegion  = "auto"
	defaultGranolaMCPURL = "https://mcp.granola.ai/mcp"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string
	BaseURL    string

	// Database
	DatabasePath string // Path to the SQLite database file

	// Rate limiting for OAuth connect initiations
	RateLimitConfig ratelimit.Config

	// Mock service flags (controlled by CLI flags, not env vars)
	NoOIDC bool // If true, use mock OIDC provider for login (--no-oidc)
	NoS3   bool // If true, disable the transcript archive (--no-s3)

	// Google OIDC (login identity)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Google Calendar OAuth (a separate OAuth app from login)
	GoogleCalendarClientID     string
	GoogleCalendarClientSecret string

	// Granola MCP
	GranolaMCPURL      string // JSON-RPC endpoint
	GranolaAuthBaseURL string // OAuth discovery base; defaults to the MCP URL origin
	GranolaAPIToken    string // optional static bearer fallback

	// OpenAI summarizer (optional; summaries skipped when empty)
	OpenAIAPIKey string

	// S3/Tigris Storage for the raw transcript archive
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses CLI flags and returns them. Call before LoadConfig.
// This registers and parses --no-oidc, --no-s3, --test, and --addr flags.
func ParseFlags() (noOIDC, noS3 bool, addr string) {
	var testMode bool
	flag.BoolVar(&noOIDC, "no-oidc", false, "Use mock Google OIDC provider for login")
	flag.BoolVar(&noS3, "no-s3", false, "Disable the S3 transcript archive")
	flag.BoolVar(&testMode, "test", false, "Shorthand for --no-oidc --no-s3")
	flag.StringVar(&addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	flag.Parse()

	if testMode {
		noOIDC = true
		noS3 = true
	}

	return noOIDC, noS3, addr
}

// LoadConfig loads configuration from environment variables and CLI flag values.
// The addr flag overrides the LISTEN_ADDR env var if non-empty.
func LoadConfig(noOIDC, noS3 bool, addr string) (*Config, error) {
	cfg := &Config{}

	cfg.NoOIDC = noOIDC
	cfg.NoS3 = noS3

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.BaseURL = strings.TrimSpace(os.Getenv("BASE_URL"))
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}

	// Database
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "./data/app.db")

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("CONNECT_RATE_LIMIT_RPS", 1),
		Burst:           parseIntOrDefault("CONNECT_RATE_LIMIT_BURST", 5),
		CleanupInterval: parseDurationOrDefault("CONNECT_RATE_LIMIT_CLEANUP_INTERVAL", time.Hour),
	}

	// Google OIDC (login)
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = os.Getenv("GOOGLE_REDIRECT_URL")
	if cfg.GoogleRedirectURL == "" && cfg.GoogleClientID != "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/auth/google/callback"
	}

	// Google Calendar OAuth
	cfg.GoogleCalendarClientID = os.Getenv("GOOGLE_CALENDAR_CLIENT_ID")
	cfg.GoogleCalendarClientSecret = os.Getenv("GOOGLE_CALENDAR_CLIENT_SECRET")

	// Granola
	cfg.GranolaMCPURL = getEnvOrDefault("GRANOLA_MCP_URL", defaultGranolaMCPURL)
	cfg.GranolaAuthBaseURL = strings.TrimSpace(os.Getenv("GRANOLA_AUTH_BASE_URL"))
	if cfg.GranolaAuthBaseURL == "" {
		cfg.GranolaAuthBaseURL = originOf(cfg.GranolaMCPURL)
	}
	cfg.GranolaAPIToken = strings.TrimSpace(os.Getenv("GRANOLA_API_TOKEN"))

	// OpenAI
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))

	// S3/Tigris Storage (AWS_ env vars set automatically by `fly storage create`)
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultTigrisRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// When mocks are NOT active for a service, the corresponding secrets are required.
func (c *Config) Validate() error {
	var errs []string

	// OIDC login: require Google credentials unless --no-oidc
	if !c.NoOIDC {
		if c.GoogleClientID == "" {
			errs = append(errs, "GOOGLE_CLIENT_ID is required (set env var or use --no-oidc)")
		}
		if c.GoogleClientSecret == "" {
			errs = append(errs, "GOOGLE_CLIENT_SECRET is required (set env var or use --no-oidc)")
		}
	}

	// S3/Tigris archive: require AWS credentials unless --no-s3
	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	// Granola endpoints must be absolute HTTP(S) URLs.
	if !isHTTPURL(c.GranolaMCPURL) {
		errs = append(errs, "GRANOLA_MCP_URL must be an absolute http(s) URL")
	}
	if !isHTTPURL(c.GranolaAuthBaseURL) {
		errs = append(errs, "GRANOLA_AUTH_BASE_URL must be an absolute http(s) URL")
	}

	// Calendar credentials are optional but must come as a pair.
	if (c.GoogleCalendarClientID == "") != (c.GoogleCalendarClientSecret == "") {
		errs = append(errs, "GOOGLE_CALENDAR_CLIENT_ID and GOOGLE_CALENDAR_CLIENT_SECRET must be set together")
	}

	if c.DatabasePath == "" {
		errs = append(errs, "DATABASE_PATH must not be empty")
	}

	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "CONNECT_RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "CONNECT_RATE_LIMIT_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// CalendarConfigured reports whether the Google Calendar OAuth app is set up.
func (c *Config) CalendarConfigured() bool {
	return c.GoogleCalendarClientID != "" && c.GoogleCalendarClientSecret != ""
}

// RequireSecureCookies returns true if secure cookies should be required.
// Returns false for localhost development URLs.
func (c *Config) RequireSecureCookies() bool {
	return !strings.HasPrefix(c.BaseURL, "http://localhost") &&
		!strings.HasPrefix(c.BaseURL, "http://127.0.0.1")
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "project-os server starting...")

	if c.NoOIDC {
		fmt.Fprintln(os.Stderr, "  Auth:     Mock OIDC (--no-oidc)")
	} else {
		fmt.Fprintln(os.Stderr, "  Auth:     Google OIDC (real)")
	}

	fmt.Fprintf(os.Stderr, "  Granola:  %s\n", c.GranolaMCPURL)
	if c.GranolaAPIToken != "" {
		fmt.Fprintln(os.Stderr, "            static bearer fallback configured")
	}

	if c.CalendarConfigured() {
		fmt.Fprintln(os.Stderr, "  Calendar: Google Calendar OAuth configured")
	} else {
		fmt.Fprintln(os.Stderr, "  Calendar: not configured")
	}

	if c.NoS3 {
		fmt.Fprintln(os.Stderr, "  Archive:  disabled (--no-s3)")
	} else {
		fmt.Fprintf(os.Stderr, "  Archive:  Tigris S3 (endpoint: %s)\n", c.AWSEndpointS3)
	}

	if c.OpenAIAPIKey != "" {
		fmt.Fprintln(os.Stderr, "  Summary:  OpenAI configured")
	} else {
		fmt.Fprintln(os.Stderr, "  Summary:  disabled (no OPENAI_API_KEY)")
	}

	fmt.Fprintf(os.Stderr, "  DB:       %s\n", c.DatabasePath)
	fmt.Fprintf(os.Stderr, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(os.Stderr, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func originOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return raw
	}
	return parsed.Scheme + "://" + parsed.Host
}

// MustLoadConfig loads configuration and panics if validation fails.
// Use this in main() when you want the application to fail fast on bad config.
func MustLoadConfig(noOIDC, noS3 bool, addr string) *Config {
	cfg, err := LoadConfig(noOIDC, noS3, addr)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
