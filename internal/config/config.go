// Package config handles loading and validating configuration from
// environment variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the feed engine.
type Config struct {
	// Feed
	FeedURLEndpoint string `yaml:"feed_url_endpoint"`
	Platform        string `yaml:"platform"`

	// Metadata enrichment
	MetadataURL string `yaml:"metadata_url"`

	// Retention bounds
	MaxTrades int `yaml:"max_trades"`
	MaxWhales int `yaml:"max_whales"`
	ViewLimit int `yaml:"view_limit"`

	// Wallet profiles
	ProfileTTL        time.Duration `yaml:"profile_ttl"`
	ProfileMaxHistory int           `yaml:"profile_max_history"`

	// Tracked wallets (seeds the tracked-only filter)
	TrackedWallets []string `yaml:"tracked_wallets"`

	// Alerting
	WebhookURL       string        `yaml:"webhook_url"`
	AlertBatchWindow time.Duration `yaml:"alert_batch_window"`
	AlertCooldown    time.Duration `yaml:"alert_cooldown"`

	// UI
	EnableTUI     bool          `yaml:"enable_tui"`
	UIRefreshRate time.Duration `yaml:"ui_refresh_rate"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration with fallback to a .env file and an optional
// YAML file named by CONFIG_FILE.
// Priority order: YAML file > environment variables > hardcoded defaults.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		FeedURLEndpoint: getEnv("FEED_URL_ENDPOINT", "https://polymarket.com/api/live-data/url"),
		Platform:        getEnv("FEED_PLATFORM", "polymarket"),

		MetadataURL: getEnv("METADATA_URL", "https://polymarket.com/api/markets/batch"),

		MaxTrades: getEnvInt("MAX_TRADES", 200),
		MaxWhales: getEnvInt("MAX_WHALES", 2000),
		ViewLimit: getEnvInt("VIEW_LIMIT", 100),

		ProfileTTL:        time.Duration(getEnvInt("PROFILE_TTL_HOURS", 6)) * time.Hour,
		ProfileMaxHistory: getEnvInt("PROFILE_MAX_HISTORY", 200),

		TrackedWallets: splitList(getEnv("TRACKED_WALLETS", "")),

		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		AlertBatchWindow: time.Duration(getEnvInt("ALERT_BATCH_SECONDS", 30)) * time.Second,
		AlertCooldown:    time.Duration(getEnvInt("ALERT_COOLDOWN_MINUTES", 60)) * time.Minute,

		EnableTUI:     getEnvBool("ENABLE_TUI", true),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if c.FeedURLEndpoint == "" {
		return fmt.Errorf("FEED_URL_ENDPOINT is required")
	}

	if c.MaxTrades < 1 {
		return fmt.Errorf("MAX_TRADES must be positive")
	}

	if c.MaxWhales < c.MaxTrades {
		return fmt.Errorf("MAX_WHALES must be at least MAX_TRADES")
	}

	if c.ProfileTTL <= 0 {
		return fmt.Errorf("PROFILE_TTL_HOURS must be positive")
	}

	return nil
}

// MaskedWebhookURL returns the webhook URL with most characters hidden for
// logging.
func (c *Config) MaskedWebhookURL() string {
	return maskSecret(c.WebhookURL)
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

// splitList parses a comma-separated list, trimming and lowercasing entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.ToLower(part))
		}
	}
	return out
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

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
