package billingcp

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the billing control plane.
type Config struct {
	DataDir             string
	BindAddress         string
	Port                int
	AdminKey            string
	StripeWebhookSecret string
	StripeAPIKey        string
	StandardPriceIDs    []string
	PremiumPriceIDs     []string
	EventRetention      time.Duration
	WebhookRateLimit    int // requests per minute per IP
	LogLevel            string
	LogFormat           string // "console" or "json"
	PublicStatus        bool   // expose /status without the admin key
	PublicMetrics       bool   // expose /metrics without the admin key
}

// EntitlementsDir returns the directory holding the entitlement database.
func (c *Config) EntitlementsDir() string {
	return filepath.Join(c.DataDir, "entitlements")
}

// LoadConfig loads billing control plane configuration from environment
// variables. A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BILLING_PORT", 8443)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("BILLING_WEBHOOK_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	retention, err := envOrDefaultDuration("BILLING_EVENT_RETENTION", 72*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("BILLING_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("BILLING_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("BILLING_ADMIN_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StandardPriceIDs:    envList("BILLING_STANDARD_PRICE_IDS"),
		PremiumPriceIDs:     envList("BILLING_PREMIUM_PRICE_IDS"),
		EventRetention:      retention,
		WebhookRateLimit:    rateLimit,
		LogLevel:            envOrDefault("BILLING_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("BILLING_LOG_FORMAT", ""),
		PublicStatus:        envBool("BILLING_PUBLIC_STATUS"),
		PublicMetrics:       envBool("BILLING_PUBLIC_METRICS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate billing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "BILLING_ADMIN_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BILLING_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.WebhookRateLimit < 1 {
		return fmt.Errorf("BILLING_WEBHOOK_RATE_LIMIT must be greater than 0, got %d", c.WebhookRateLimit)
	}
	if c.EventRetention < time.Hour {
		return fmt.Errorf("BILLING_EVENT_RETENTION must be at least 1h, got %s", c.EventRetention)
	}
	if len(c.StandardPriceIDs) == 0 && len(c.PremiumPriceIDs) == 0 {
		return fmt.Errorf("at least one of BILLING_STANDARD_PRICE_IDS or BILLING_PREMIUM_PRICE_IDS must be set")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

// envList splits a comma-separated environment variable into trimmed,
// non-empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}
