// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config holds all configuration values for the live page engine.
type Config struct {
	// Broadcast server
	BroadcastWSURL  string
	BroadcastAppKey string
	EventNamespace  string

	// Page
	PageURL           string
	Locale            language.Tag
	DetailPathPattern *regexp.Regexp

	// Timing
	PriceDebounce time.Duration
	StatsDebounce time.Duration
	Highlight     time.Duration
	ReloadDelay   time.Duration
	NoticeTTL     time.Duration

	// Notices
	ShowStatsNotices bool

	// Metrics
	PrometheusPort int

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	locale, err := language.Parse(getEnv("LOCALE", "it"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOCALE: %w", err)
	}

	detail, err := regexp.Compile(getEnv("DETAIL_PATH_PATTERN", `^/egis/(\d+)/?$`))
	if err != nil {
		return nil, fmt.Errorf("invalid DETAIL_PATH_PATTERN: %w", err)
	}

	cfg := &Config{
		// Broadcast
		BroadcastWSURL:  getEnv("BROADCAST_WS_URL", "ws://localhost:8080"),
		BroadcastAppKey: getEnv("BROADCAST_APP_KEY", ""),
		EventNamespace:  getEnv("EVENT_NAMESPACE", `App\Events`),

		// Page
		PageURL:           getEnv("PAGE_URL", "http://localhost:8000/"),
		Locale:            locale,
		DetailPathPattern: detail,

		// Timing
		PriceDebounce: getEnvMillis("PRICE_DEBOUNCE_MS", 120),
		StatsDebounce: getEnvMillis("STATS_DEBOUNCE_MS", 100),
		Highlight:     getEnvMillis("HIGHLIGHT_MS", 300),
		ReloadDelay:   getEnvMillis("RELOAD_DELAY_MS", 1500),
		NoticeTTL:     getEnvMillis("NOTICE_MS", 3000),

		// Notices
		ShowStatsNotices: getEnvBool("SHOW_STATS_NOTICES", true),

		// Metrics
		PrometheusPort: getEnvInt("PROMETHEUS_PORT", 9090),

		// UI
		EnableTUI:     getEnvBool("ENABLE_TUI", true),
		UIRefreshRate: getEnvMillis("UI_REFRESH_MS", 500),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.BroadcastAppKey == "" {
		return fmt.Errorf("BROADCAST_APP_KEY is required")
	}

	if err := checkURL(c.BroadcastWSURL, "ws", "wss", "http", "https"); err != nil {
		return fmt.Errorf("BROADCAST_WS_URL: %w", err)
	}

	if err := checkURL(c.PageURL, "http", "https"); err != nil {
		return fmt.Errorf("PAGE_URL: %w", err)
	}

	if c.PriceDebounce <= 0 || c.StatsDebounce <= 0 {
		return fmt.Errorf("PRICE_DEBOUNCE_MS and STATS_DEBOUNCE_MS must be positive")
	}

	if c.Highlight <= 0 || c.NoticeTTL <= 0 {
		return fmt.Errorf("HIGHLIGHT_MS and NOTICE_MS must be positive")
	}

	if c.ReloadDelay < 0 {
		return fmt.Errorf("RELOAD_DELAY_MS must not be negative")
	}

	if c.DetailPathPattern != nil && c.DetailPathPattern.NumSubexp() < 1 {
		return fmt.Errorf("DETAIL_PATH_PATTERN must capture the item id")
	}

	if c.PrometheusPort < 1 || c.PrometheusPort > 65535 {
		return fmt.Errorf("PROMETHEUS_PORT must be between 1 and 65535")
	}

	return nil
}

// MaskedAppKey returns the app key with most characters hidden for logging.
func (c *Config) MaskedAppKey() string {
	return maskSecret(c.BroadcastAppKey)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvMillis retrieves an environment variable in milliseconds as a duration.
func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
