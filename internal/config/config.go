// Package config handles loading and validation of gateway configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"

	"flexgate/internal/model"
)

// Defaults mirroring the embed script's hardcoded values.
const (
	DefaultProxyBase      = "/apps/flex-protect"
	DefaultWarrantyVendor = "Flex Protect"
	DefaultMinPriceCents  = 1000 // offers only on products >= $10
)

// Config holds all gateway configuration.
// Environment determines whether secrets load from env vars (development)
// or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	ShopID     string

	// Shop-specific configuration (loaded from secrets)
	Shop ShopConfig

	// Tuning knobs for the cart state machine. Zero values are replaced by
	// the defaults below.
	SettleAttempts int           // cart-settle poll attempts after an add
	SettleInterval time.Duration // delay between poll attempts
	DebounceWindow time.Duration // trailing-edge window for orphan cleanup
	GuardTTL       time.Duration // auto-clear window for the add guard

	// SessionDir is where per-shopper session state files live.
	// Empty selects the in-memory store (state lost on restart).
	SessionDir string
}

// ShopConfig contains shop-specific settings.
// In production, this is loaded from Secret Manager as JSON.
// In development, loaded from individual env vars or CONFIG_FILE.
type ShopConfig struct {
	ShopDomain      string `json:"shop_domain"`      // e.g. acme.myshopify.com
	StorefrontURL   string `json:"storefront_url"`   // derived from ShopDomain if not set
	StorefrontToken string `json:"storefront_token"` // the embed's sf_token parameter
	PricingAPIURL   string `json:"pricing_api_url"`  // Flex Protect pricing service
	APIKey          string `json:"api_key"`          // pricing API key for this shop

	// WarrantyVendor is the vendor of the warranty product itself. Products
	// from this vendor are never offered warranties.
	WarrantyVendor string `json:"warranty_vendor,omitempty"`

	// MinPriceCents is the eligibility floor in cents.
	MinPriceCents int64 `json:"min_price_cents,omitempty"`

	// Placement holds the merchant's enabled offer surfaces.
	Placement model.PlacementConfig `json:"placement"`

	// MinEmbedRev is the oldest embed script revision served without
	// compatibility logging, as a semver string ("v1.2.0").
	MinEmbedRev string `json:"min_embed_rev,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8080"),
		Environment: envOrDefault("ENVIRONMENT", "development"),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		ShopID:      os.Getenv("SHOP_ID"),
		SessionDir:  os.Getenv("SESSION_DIR"),
	}

	// ShopID required in all environments
	if cfg.ShopID == "" {
		return nil, fmt.Errorf("SHOP_ID environment variable required")
	}

	if err := cfg.loadTuningFromEnv(); err != nil {
		return nil, err
	}

	// Load shop config based on environment
	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading shop config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port             string     `json:"port"`
		Environment      string     `json:"environment"`
		LogLevel         string     `json:"log_level"`
		ShopID           string     `json:"shop_id"`
		SessionDir       string     `json:"session_dir"`
		SettleAttempts   int        `json:"settle_attempts"`
		SettleIntervalMS int64      `json:"settle_interval_ms"`
		DebounceWindowMS int64      `json:"debounce_window_ms"`
		GuardTTLMS       int64      `json:"guard_ttl_ms"`
		Shop             ShopConfig `json:"shop"`
	}
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:           withDefault(fileConfig.Port, "8080"),
		Environment:    withDefault(fileConfig.Environment, "development"),
		LogLevel:       withDefault(fileConfig.LogLevel, "info"),
		ShopID:         fileConfig.ShopID,
		SessionDir:     fileConfig.SessionDir,
		SettleAttempts: fileConfig.SettleAttempts,
		SettleInterval: time.Duration(fileConfig.SettleIntervalMS) * time.Millisecond,
		DebounceWindow: time.Duration(fileConfig.DebounceWindowMS) * time.Millisecond,
		GuardTTL:       time.Duration(fileConfig.GuardTTLMS) * time.Millisecond,
		Shop:           fileConfig.Shop,
	}
	if cfg.ShopID == "" {
		return nil, fmt.Errorf("shop_id is required")
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromSecretManager fetches shop config from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{shop_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.ShopID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Shop); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	return nil
}

// loadFromEnv reads shop config from individual environment variables.
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	c.Shop = ShopConfig{
		ShopDomain:      os.Getenv("SHOP_DOMAIN"),
		StorefrontURL:   os.Getenv("STOREFRONT_URL"),
		StorefrontToken: os.Getenv("SF_TOKEN"),
		PricingAPIURL:   os.Getenv("PRICING_API_URL"),
		APIKey:          os.Getenv("PRICING_API_KEY"),
		WarrantyVendor:  os.Getenv("WARRANTY_VENDOR"),
		MinEmbedRev:     os.Getenv("MIN_EMBED_REV"),
	}

	if minPrice := os.Getenv("MIN_PRICE_CENTS"); minPrice != "" {
		v, err := strconv.ParseInt(minPrice, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing MIN_PRICE_CENTS: %w", err)
		}
		c.Shop.MinPriceCents = v
	}

	// Parse placement JSON if provided, e.g. {"product_page":true,"cart":true}
	if placementJSON := os.Getenv("PLACEMENT"); placementJSON != "" {
		if err := json.Unmarshal([]byte(placementJSON), &c.Shop.Placement); err != nil {
			return fmt.Errorf("parsing PLACEMENT JSON: %w", err)
		}
	}
	return nil
}

// loadTuningFromEnv reads the state machine tuning knobs. Unset vars leave
// the zero value for applyDefaults to fill.
func (c *Config) loadTuningFromEnv() error {
	if v := os.Getenv("SETTLE_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing SETTLE_ATTEMPTS: %w", err)
		}
		c.SettleAttempts = n
	}
	durs := []struct {
		env string
		dst *time.Duration
	}{
		{"SETTLE_INTERVAL_MS", &c.SettleInterval},
		{"DEBOUNCE_WINDOW_MS", &c.DebounceWindow},
		{"GUARD_TTL_MS", &c.GuardTTL},
	}
	for _, d := range durs {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.env, err)
		}
		*d.dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// applyDefaults fills unset fields with embed-script defaults.
func (c *Config) applyDefaults() {
	if c.Shop.StorefrontURL == "" && c.Shop.ShopDomain != "" {
		c.Shop.StorefrontURL = "https://" + c.Shop.ShopDomain
	}
	if c.Shop.WarrantyVendor == "" {
		c.Shop.WarrantyVendor = DefaultWarrantyVendor
	}
	if c.Shop.MinPriceCents == 0 {
		c.Shop.MinPriceCents = DefaultMinPriceCents
	}
	if c.SettleAttempts == 0 {
		c.SettleAttempts = 10
	}
	if c.SettleInterval == 0 {
		c.SettleInterval = 500 * time.Millisecond
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 300 * time.Millisecond
	}
	if c.GuardTTL == 0 {
		c.GuardTTL = 3 * time.Second
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Shop.ShopDomain == "" {
		return fmt.Errorf("shop_domain is required")
	}
	if c.Shop.PricingAPIURL == "" {
		return fmt.Errorf("pricing_api_url is required")
	}
	if c.Shop.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if _, err := url.Parse(c.Shop.StorefrontURL); err != nil {
		return fmt.Errorf("invalid storefront_url: %w", err)
	}
	if _, err := url.Parse(c.Shop.PricingAPIURL); err != nil {
		return fmt.Errorf("invalid pricing_api_url: %w", err)
	}
	return nil
}

// StorefrontURL returns the normalized storefront base URL.
func (c *Config) StorefrontURL() string {
	return strings.TrimSuffix(c.Shop.StorefrontURL, "/")
}

// PricingBase returns the normalized pricing API base URL, including the
// app-proxy base path when the pricing service is reached through the
// storefront proxy.
func (c *Config) PricingBase() string {
	base := strings.TrimSuffix(c.Shop.PricingAPIURL, "/")
	if !strings.Contains(base, "://") {
		// Relative base: resolve against the storefront (app-proxy mode)
		if base == "" {
			base = DefaultProxyBase
		}
		base = c.StorefrontURL() + base
	}
	return base
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
