package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mail subsystem.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Mailer   MailerConfig   `yaml:"mailer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// PublicURL is the externally reachable base URL used when building
	// signed unsubscribe/confirmation links.
	PublicURL string `yaml:"public_url"`
	// LinkSecret signs public unsubscribe/confirmation tokens.
	LinkSecret string `yaml:"link_secret"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis URL used by the rate limiter and dispatch locks.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailerConfig is the full provider configuration handed to adapter
// constructors at job-start time. Adapters never read ambient config; every
// behavior under test is determined by this struct.
type MailerConfig struct {
	// Provider selects the adapter: sendgrid, mailgun, mandrill or smtp.
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	// Domain is the sending domain (Mailgun requires it; others use it for
	// from-address validation).
	Domain string `yaml:"domain"`
	// WebhookSecret is the shared secret for HMAC webhook schemes
	// (Mailgun signing key, Mandrill webhook key).
	WebhookSecret string `yaml:"webhook_secret"`
	// WebhookPublicKey is the base64 DER public key for SendGrid's signed
	// event webhook. Empty means verification is skipped (logged).
	WebhookPublicKey string `yaml:"webhook_public_key"`
	// WebhookURL is the externally visible webhook endpoint URL; Mandrill's
	// signature scheme includes it in the signed payload.
	WebhookURL string `yaml:"webhook_url"`

	FromName         string `yaml:"from_name"`
	FromEmail        string `yaml:"from_email"`
	ReplyTo          string `yaml:"reply_to"`
	UnsubscribeText  string `yaml:"unsubscribe_text"`
	BatchSize        int    `yaml:"batch_size"`
	RateLimitPerMin  int    `yaml:"rate_limit_per_minute"`
	RetryAttempts    int    `yaml:"retry_attempts"`
	RetryBackoffSecs int    `yaml:"retry_backoff_seconds"`

	SMTP SMTPConfig `yaml:"smtp"`
}

// SMTPConfig holds settings for the local-SMTP fallback adapter.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RetryBackoff returns the configured backoff as a duration.
func (m MailerConfig) RetryBackoff() time.Duration {
	return time.Duration(m.RetryBackoffSecs) * time.Second
}

// Load reads configuration from the given YAML file, then applies environment
// overrides. A missing file is not an error: everything can come from the
// environment. A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Mailer: MailerConfig{
			Provider:         "smtp",
			BatchSize:        500,
			RateLimitPerMin:  6000,
			RetryAttempts:    3,
			RetryBackoffSecs: 30,
			SMTP:             SMTPConfig{Host: "localhost", Port: 25},
		},
	}
}

func applyEnv(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("SERVER_HOST", &cfg.Server.Host)
	envInt("SERVER_PORT", &cfg.Server.Port)
	envStr("PUBLIC_URL", &cfg.Server.PublicURL)
	envStr("LINK_SECRET", &cfg.Server.LinkSecret)
	envStr("DATABASE_URL", &cfg.Database.URL)
	envStr("REDIS_URL", &cfg.Redis.URL)

	envStr("MAIL_PROVIDER", &cfg.Mailer.Provider)
	envStr("MAIL_API_KEY", &cfg.Mailer.APIKey)
	envStr("MAIL_DOMAIN", &cfg.Mailer.Domain)
	envStr("MAIL_WEBHOOK_SECRET", &cfg.Mailer.WebhookSecret)
	envStr("MAIL_WEBHOOK_PUBLIC_KEY", &cfg.Mailer.WebhookPublicKey)
	envStr("MAIL_WEBHOOK_URL", &cfg.Mailer.WebhookURL)
	envStr("MAIL_FROM_NAME", &cfg.Mailer.FromName)
	envStr("MAIL_FROM_EMAIL", &cfg.Mailer.FromEmail)
	envStr("MAIL_REPLY_TO", &cfg.Mailer.ReplyTo)
	envStr("MAIL_UNSUBSCRIBE_TEXT", &cfg.Mailer.UnsubscribeText)
	envInt("MAIL_BATCH_SIZE", &cfg.Mailer.BatchSize)
	envInt("MAIL_RATE_LIMIT_PER_MINUTE", &cfg.Mailer.RateLimitPerMin)
	envInt("MAIL_RETRY_ATTEMPTS", &cfg.Mailer.RetryAttempts)
	envInt("MAIL_RETRY_BACKOFF_SECONDS", &cfg.Mailer.RetryBackoffSecs)

	envStr("SMTP_HOST", &cfg.Mailer.SMTP.Host)
	envInt("SMTP_PORT", &cfg.Mailer.SMTP.Port)
	envStr("SMTP_USERNAME", &cfg.Mailer.SMTP.Username)
	envStr("SMTP_PASSWORD", &cfg.Mailer.SMTP.Password)
}

func (c *Config) validate() error {
	switch c.Mailer.Provider {
	case "sendgrid", "mailgun", "mandrill", "smtp":
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mailer.Provider)
	}
	if c.Mailer.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Mailer.BatchSize)
	}
	if c.Mailer.RateLimitPerMin <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive, got %d", c.Mailer.RateLimitPerMin)
	}
	return nil
}
