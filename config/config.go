package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Runner    RunnerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxSessions is the session pool capacity (max concurrent tabs).
	MaxSessions int // default: 4

	// Proxy is the proxy URL for all browser traffic.
	Proxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// ControlURL connects to an already running browser instead of
	// launching one.
	ControlURL string

	// Stealth masks automation fingerprints before each navigation.
	Stealth bool // default: false
}

// RunnerConfig controls how long and how often the driver waits for results.
// The extractors never time out on their own; these values are the bound.
type RunnerConfig struct {
	// Strategy is the default extraction strategy: "callback", "direct"
	// or "dom".
	Strategy string // default: "callback"

	// DefaultTestTimeout applies to tests that do not declare a timeout.
	DefaultTestTimeout time.Duration // default: 10s

	// TimeoutMultiplier scales every test timeout (slow builds, debuggers).
	TimeoutMultiplier float64 // default: 1

	// ExtraTimeout is added on top of the scaled test timeout so the
	// page's own harness timeout fires first.
	ExtraTimeout time.Duration // default: 5s

	// PollInterval is the delay between attempts of polling strategies.
	PollInterval time.Duration // default: 100ms
}

// Deadline returns how long the driver waits for a test with the given
// timeout. A zero timeout means DefaultTestTimeout.
func (c RunnerConfig) Deadline(testTimeout time.Duration) time.Duration {
	if testTimeout <= 0 {
		testTimeout = c.DefaultTestTimeout
	}
	multiplier := c.TimeoutMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return time.Duration(float64(testTimeout)*multiplier) + c.ExtraTimeout
}

// CacheConfig controls the run result cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// WebhookConfig controls run notifications.
type WebhookConfig struct {
	// Secret signs webhook bodies when non-empty.
	Secret string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("HARVEST_HOST", "0.0.0.0"),
			Port: envIntOr("HARVEST_PORT", 8080),
			Mode: envOr("HARVEST_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:    envBoolOr("HARVEST_HEADLESS", true),
			MaxSessions: envIntOr("HARVEST_MAX_SESSIONS", 4),
			Proxy:       os.Getenv("HARVEST_PROXY"),
			NoSandbox:   envBoolOr("HARVEST_NO_SANDBOX", false),
			BrowserBin:  os.Getenv("HARVEST_BROWSER_BIN"),
			ControlURL:  os.Getenv("HARVEST_CONTROL_URL"),
			Stealth:     envBoolOr("HARVEST_STEALTH", false),
		},
		Runner: RunnerConfig{
			Strategy:           envOr("HARVEST_STRATEGY", "callback"),
			DefaultTestTimeout: envDurationOr("HARVEST_TEST_TIMEOUT", 10*time.Second),
			TimeoutMultiplier:  envFloatOr("HARVEST_TIMEOUT_MULTIPLIER", 1.0),
			ExtraTimeout:       envDurationOr("HARVEST_EXTRA_TIMEOUT", 5*time.Second),
			PollInterval:       envDurationOr("HARVEST_POLL_INTERVAL", 100*time.Millisecond),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("HARVEST_AUTH_ENABLED", true),
			APIKeys: envSliceOr("HARVEST_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("HARVEST_RATE_RPS", 5.0),
			Burst:             envIntOr("HARVEST_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("HARVEST_CACHE_MAX_ENTRIES", 1000),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("HARVEST_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("HARVEST_LOG_LEVEL", "info"),
			Format: envOr("HARVEST_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
