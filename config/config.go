package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Page roles used to select expected-content markers.
const (
	RoleCategory = "category_page"
	RoleListing  = "listing_page"
	RoleShop     = "shop_page"
)

// Config holds scraper configuration. It is built once and passed by pointer
// to every component; components never mutate it.
type Config struct {
	Origin      string `yaml:"origin" env:"SCRAPER_ORIGIN"`
	CategoryURL string `yaml:"category_url" env:"SCRAPER_CATEGORY_URL"`

	ProductsFile string `yaml:"products_file" env:"SCRAPER_PRODUCTS_FILE"`
	ShopsFile    string `yaml:"shops_file" env:"SCRAPER_SHOPS_FILE"`
	MetricsFile  string `yaml:"metrics_file" env:"SCRAPER_METRICS_FILE"`
	SummaryFile  string `yaml:"summary_file" env:"SCRAPER_SUMMARY_FILE"`

	// Zero means unbounded.
	MaxPages  int `yaml:"max_pages" env:"SCRAPER_MAX_PAGES"`
	StartPage int `yaml:"start_page" env:"SCRAPER_START_PAGE"`
	MaxItems  int `yaml:"max_items" env:"SCRAPER_MAX_ITEMS"`

	Timeout       time.Duration `yaml:"timeout" env:"SCRAPER_TIMEOUT"`
	MaxRetries    int           `yaml:"max_retries" env:"SCRAPER_MAX_RETRIES"`
	BackoffFactor float64       `yaml:"backoff_factor" env:"SCRAPER_BACKOFF_FACTOR"`
	// BackoffUnit scales backoff_factor^attempt; one second in production.
	BackoffUnit time.Duration `yaml:"backoff_unit" env:"SCRAPER_BACKOFF_UNIT"`

	MinDelay         time.Duration `yaml:"min_delay" env:"SCRAPER_MIN_DELAY"`
	MaxDelay         time.Duration `yaml:"max_delay" env:"SCRAPER_MAX_DELAY"`
	BlockCooldownMin time.Duration `yaml:"block_cooldown_min" env:"SCRAPER_BLOCK_COOLDOWN_MIN"`
	BlockCooldownMax time.Duration `yaml:"block_cooldown_max" env:"SCRAPER_BLOCK_COOLDOWN_MAX"`

	MaxRequestsPerSession int           `yaml:"max_requests_per_session" env:"SCRAPER_MAX_REQUESTS_PER_SESSION"`
	MaxSessionAge         time.Duration `yaml:"max_session_age" env:"SCRAPER_MAX_SESSION_AGE"`

	UserAgent       string            `yaml:"user_agent" env:"SCRAPER_USER_AGENT"`
	RotateUserAgent bool              `yaml:"rotate_user_agent" env:"SCRAPER_ROTATE_USER_AGENT"`
	Headers         map[string]string `yaml:"headers"`
	Proxy           string            `yaml:"proxy" env:"PROXY_URL"`

	BlockedStatusCodes []int               `yaml:"blocked_status_codes" env:"SCRAPER_BLOCKED_STATUS_CODES" env-separator:","`
	BlockHeaderMarkers []string            `yaml:"block_header_markers" env:"SCRAPER_BLOCK_HEADER_MARKERS" env-separator:","`
	ExpectedContent    map[string][]string `yaml:"expected_content"`

	ItemsPerPage   int `yaml:"items_per_page" env:"SCRAPER_ITEMS_PER_PAGE"`
	EarlyPageLimit int `yaml:"early_page_limit" env:"SCRAPER_EARLY_PAGE_LIMIT"`
	PageAttempts   int `yaml:"page_attempts" env:"SCRAPER_PAGE_ATTEMPTS"`
	DriftWindow    int `yaml:"drift_window" env:"SCRAPER_DRIFT_WINDOW"`

	// Seed makes every random choice reproducible; zero seeds from the clock.
	Seed uint64 `yaml:"seed" env:"SCRAPER_SEED"`

	Verbose     bool   `yaml:"verbose" env:"SCRAPER_VERBOSE"`
	MetricsAddr string `yaml:"metrics_addr" env:"SCRAPER_METRICS_ADDR"`
}

// DefaultConfig returns conservative defaults for the target marketplace.
func DefaultConfig() *Config {
	return &Config{
		Origin:      "https://www.etsy.com",
		CategoryURL: "https://www.etsy.com/c/paper-and-party-supplies/paper/stationery/design-and-templates/templates/personal-finance-templates?explicit=1&ref=catcard-12487-1840465169",

		ProductsFile: "data/etsy_products.csv",
		ShopsFile:    "data/shops_from_listings.csv",
		MetricsFile:  "data/shop_metrics.csv",
		SummaryFile:  "data/run_summaries.jsonl",

		Timeout:       30 * time.Second,
		MaxRetries:    3,
		BackoffFactor: 2.0,
		BackoffUnit:   time.Second,

		MinDelay:         1 * time.Second,
		MaxDelay:         3 * time.Second,
		BlockCooldownMin: 30 * time.Second,
		BlockCooldownMax: 60 * time.Second,

		MaxRequestsPerSession: 50,
		MaxSessionAge:         5 * time.Minute,

		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
		Headers: map[string]string{
			"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
			"Accept-Language":           "en-US,en;q=0.9",
			"Cache-Control":             "no-cache",
			"Pragma":                    "no-cache",
			"Priority":                  "u=0, i",
			"Sec-Ch-Ua":                 `"Not;A=Brand";v="99", "Google Chrome";v="139", "Chromium";v="139"`,
			"Sec-Ch-Ua-Mobile":          "?0",
			"Sec-Ch-Ua-Platform":        `"Windows"`,
			"Sec-Fetch-Dest":            "document",
			"Sec-Fetch-Mode":            "navigate",
			"Sec-Fetch-Site":            "same-origin",
			"Sec-Fetch-User":            "?1",
			"Upgrade-Insecure-Requests": "1",
		},

		BlockedStatusCodes: []int{403, 429, 503},
		BlockHeaderMarkers: []string{"x-datadome", "datadome-captcha", "dd-protection"},
		ExpectedContent: map[string][]string{
			RoleCategory: {"listing"},
			RoleListing:  {"listing"},
			RoleShop:     {"shop"},
		},

		ItemsPerPage:   48,
		EarlyPageLimit: 10,
		PageAttempts:   3,
		DriftWindow:    500,
	}
}

// Load overlays an optional YAML file and SCRAPER_* environment variables on
// top of DefaultConfig. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Origin == "" {
		return fmt.Errorf("origin URL cannot be empty")
	}
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}
	if origin.Host == "" {
		return fmt.Errorf("origin URL must include a host")
	}
	if c.CategoryURL == "" {
		return fmt.Errorf("category URL cannot be empty")
	}
	if _, err := url.Parse(c.CategoryURL); err != nil {
		return fmt.Errorf("invalid category URL: %w", err)
	}

	if c.ProductsFile == "" || c.ShopsFile == "" || c.MetricsFile == "" {
		return fmt.Errorf("dataset file paths cannot be empty")
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.StartPage < 0 {
		return fmt.Errorf("start page cannot be negative")
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be at least 1")
	}
	if c.BackoffUnit < 0 {
		return fmt.Errorf("backoff unit cannot be negative")
	}

	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("min delay (%s) cannot exceed max delay (%s)", c.MinDelay, c.MaxDelay)
	}
	if c.BlockCooldownMin < 0 || c.BlockCooldownMin > c.BlockCooldownMax {
		return fmt.Errorf("block cooldown window [%s, %s] is invalid", c.BlockCooldownMin, c.BlockCooldownMax)
	}

	if c.MaxRequestsPerSession <= 0 {
		return fmt.Errorf("max requests per session must be positive")
	}
	if c.MaxSessionAge <= 0 {
		return fmt.Errorf("max session age must be positive")
	}
	if c.UserAgent == "" && !c.RotateUserAgent {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Proxy != "" {
		p, err := url.Parse(c.Proxy)
		if err != nil || p.Host == "" {
			return fmt.Errorf("invalid proxy URL %q", c.Proxy)
		}
	}

	if c.ItemsPerPage <= 0 {
		return fmt.Errorf("items per page must be positive")
	}
	if c.PageAttempts <= 0 {
		return fmt.Errorf("page attempts must be positive")
	}
	if c.EarlyPageLimit < 0 {
		return fmt.Errorf("early page limit cannot be negative")
	}
	if c.DriftWindow < 0 {
		return fmt.Errorf("drift window cannot be negative")
	}

	return nil
}
