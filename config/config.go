package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPocketBase = "pocketbase"
	DriverPostgres   = "postgres"
)

type Config struct {
	// Server configuration
	Environment string `yaml:"environment"`
	PublicURL   string `yaml:"public_url"`

	// Storage configuration
	StoreDriver string `yaml:"store_driver"`
	DatabaseURL string `yaml:"database_url"`

	// Redis configuration
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPoolSize int    `yaml:"redis_pool_size"`

	// PubNub configuration
	PubNubPublishKey   string `yaml:"pubnub_publish_key"`
	PubNubSubscribeKey string `yaml:"pubnub_subscribe_key"`
	PubNubSecretKey    string `yaml:"pubnub_secret_key"`
	PubNubChannel      string `yaml:"pubnub_channel"`

	// Checkout configuration
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SpinRevealDelay  time.Duration `yaml:"spin_reveal_delay"`
	BurstRevealDelay time.Duration `yaml:"burst_reveal_delay"`
	GridPageSize     int           `yaml:"grid_page_size"`
	RequireEmail     bool          `yaml:"require_email"`
	MaxReceiptSize   int64         `yaml:"max_receipt_size"`
	SubmitTimeout    time.Duration `yaml:"submit_timeout"`

	// File buckets
	ReceiptBucket         string `yaml:"receipt_bucket"`
	ReceiptFallbackBucket string `yaml:"receipt_fallback_bucket"`
	TicketBucket          string `yaml:"ticket_bucket"`

	// Notifications
	MailEnabled     bool   `yaml:"mail_enabled"`
	MailFromAddress string `yaml:"mail_from_address"`
	MailFromName    string `yaml:"mail_from_name"`
	BrandName       string `yaml:"brand_name"`

	// Cleanup configuration
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Anti-bot
	AntiBotLimit  int           `yaml:"antibot_limit"`
	AntiBotWindow time.Duration `yaml:"antibot_window"`

	// Monitoring
	EnableMetrics   bool          `yaml:"enable_metrics"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		PublicURL:   "http://127.0.0.1:8090",

		StoreDriver: DriverPocketBase,

		RedisURL: "localhost:6379",

		PubNubChannel: "raffle-tickets",

		SessionTTL:       30 * time.Minute,
		SpinRevealDelay:  2500 * time.Millisecond,
		BurstRevealDelay: 1500 * time.Millisecond,
		GridPageSize:     100,
		RequireEmail:     true,
		MaxReceiptSize:   10 << 20,
		SubmitTimeout:    time.Minute,

		ReceiptBucket:         "receipts",
		ReceiptFallbackBucket: "public",
		TicketBucket:          "tickets",

		MailFromAddress: "no-reply@rifas.local",
		MailFromName:    "Rifas",
		BrandName:       "RIFAS FENIX",

		CleanupInterval: 5 * time.Minute,

		AntiBotLimit:  120,
		AntiBotWindow: time.Minute,

		EnableMetrics:   true,
		MetricsInterval: 30 * time.Second,
	}
}

// LoadConfig builds the configuration from defaults, then the optional YAML
// file named by CONFIG_FILE (base keys plus an "environments.<env>" section),
// then environment variables.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := applyYAML(cfg, data, os.Getenv("ENVIRONMENT")); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyYAML(cfg *Config, data []byte, env string) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}

	var overlay struct {
		Environments map[string]yaml.Node `yaml:"environments"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	if env == "" {
		env = cfg.Environment
	}
	if node, ok := overlay.Environments[env]; ok {
		if err := node.Decode(cfg); err != nil {
			return fmt.Errorf("environment %q: %w", env, err)
		}
	}
	cfg.Environment = env
	return nil
}

func applyEnv(cfg *Config) {
	// Server
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.PublicURL = getEnv("PUBLIC_URL", cfg.PublicURL)

	// Storage
	cfg.StoreDriver = getEnv("STORE_DRIVER", cfg.StoreDriver)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)

	// Redis
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvAsInt("REDIS_DB", cfg.RedisDB)
	cfg.RedisPoolSize = getEnvAsInt("REDIS_POOL_SIZE", cfg.RedisPoolSize)

	// PubNub
	cfg.PubNubPublishKey = getEnv("PUBNUB_PUBLISH_KEY", cfg.PubNubPublishKey)
	cfg.PubNubSubscribeKey = getEnv("PUBNUB_SUBSCRIBE_KEY", cfg.PubNubSubscribeKey)
	cfg.PubNubSecretKey = getEnv("PUBNUB_SECRET_KEY", cfg.PubNubSecretKey)
	cfg.PubNubChannel = getEnv("PUBNUB_CHANNEL", cfg.PubNubChannel)

	// Checkout
	cfg.SessionTTL = getEnvAsDuration("SESSION_TTL", cfg.SessionTTL)
	cfg.SpinRevealDelay = getEnvAsDuration("SPIN_REVEAL_DELAY", cfg.SpinRevealDelay)
	cfg.BurstRevealDelay = getEnvAsDuration("BURST_REVEAL_DELAY", cfg.BurstRevealDelay)
	cfg.GridPageSize = getEnvAsInt("GRID_PAGE_SIZE", cfg.GridPageSize)
	cfg.RequireEmail = getEnvAsBool("REQUIRE_EMAIL", cfg.RequireEmail)
	cfg.MaxReceiptSize = int64(getEnvAsInt("MAX_RECEIPT_SIZE", int(cfg.MaxReceiptSize)))
	cfg.SubmitTimeout = getEnvAsDuration("SUBMIT_TIMEOUT", cfg.SubmitTimeout)

	// Buckets
	cfg.ReceiptBucket = getEnv("RECEIPT_BUCKET", cfg.ReceiptBucket)
	cfg.ReceiptFallbackBucket = getEnv("RECEIPT_FALLBACK_BUCKET", cfg.ReceiptFallbackBucket)
	cfg.TicketBucket = getEnv("TICKET_BUCKET", cfg.TicketBucket)

	// Notifications
	cfg.MailEnabled = getEnvAsBool("MAIL_ENABLED", cfg.MailEnabled)
	cfg.MailFromAddress = getEnv("MAIL_FROM_ADDRESS", cfg.MailFromAddress)
	cfg.MailFromName = getEnv("MAIL_FROM_NAME", cfg.MailFromName)
	cfg.BrandName = getEnv("BRAND_NAME", cfg.BrandName)

	// Cleanup
	cfg.CleanupInterval = getEnvAsDuration("CLEANUP_INTERVAL", cfg.CleanupInterval)

	// Anti-bot
	cfg.AntiBotLimit = getEnvAsInt("ANTIBOT_LIMIT", cfg.AntiBotLimit)
	cfg.AntiBotWindow = getEnvAsDuration("ANTIBOT_WINDOW", cfg.AntiBotWindow)

	// Monitoring
	cfg.EnableMetrics = getEnvAsBool("ENABLE_METRICS", cfg.EnableMetrics)
	cfg.MetricsInterval = getEnvAsDuration("METRICS_INTERVAL", cfg.MetricsInterval)
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPocketBase:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the %s driver", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}
	if c.GridPageSize <= 0 {
		return fmt.Errorf("config: grid page size must be positive")
	}
	return nil
}

// PubNubEnabled reports whether cross-instance fan-out is configured.
func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
