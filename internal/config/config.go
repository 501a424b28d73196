// Package config loads configuration from .env, an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	Database DatabaseConfig
	RedisURL string

	AMQPURL            string
	NotificationsQueue string

	ThanksIO ThanksIOConfig
	Stripe   StripeConfig
	Supabase SupabaseConfig
	OpenAI   OpenAIConfig
	SMTP     SMTPConfig

	CronSecret string
	BatchLimit int
}

type DatabaseConfig struct {
	URL      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type ThanksIOConfig struct {
	APIKey          string
	BaseURL         string
	WebhookSecret   string
	DispatchTimeout time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PricePro      string
	PriceBusiness string
}

type SupabaseConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	AMQP struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"amqp"`
	ThanksIO struct {
		APIKey          string `yaml:"api_key"`
		BaseURL         string `yaml:"base_url"`
		WebhookSecret   string `yaml:"webhook_secret"`
		DispatchTimeout string `yaml:"dispatch_timeout"`
	} `yaml:"thanks_io"`
	Stripe struct {
		SecretKey     string `yaml:"secret_key"`
		WebhookSecret string `yaml:"webhook_secret"`
		PricePro      string `yaml:"price_pro"`
		PriceBusiness string `yaml:"price_business"`
	} `yaml:"stripe"`
	Cron struct {
		Secret     string `yaml:"secret"`
		BatchLimit int    `yaml:"batch_limit"`
	} `yaml:"cron"`
}

// Load reads .env (if present), then CONFIG_PATH (if present, with ${VAR}
// expansion), then environment variables. Values from the YAML file win over
// built-in defaults; non-empty env vars fill whatever the file leaves blank.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on OS environment variables")
	}

	var raw rawConfig
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML %s: %w", configPath, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("no config file, using environment only", "path", configPath)
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	timeout, err := time.ParseDuration(firstNonEmpty(raw.ThanksIO.DispatchTimeout, envOrDefault("DISPATCH_TIMEOUT", "20s")))
	if err != nil {
		return nil, fmt.Errorf("parse dispatch timeout: %w", err)
	}

	cfg := &Config{
		Env:      firstNonEmpty(raw.Env, envOrDefault("APP_ENV", "production")),
		Port:     firstPositive(raw.Port, envOrDefaultInt("PORT", 8080)),
		LogLevel: envOrDefault("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:      firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     envOrDefault("DB_HOST", "localhost"),
			Port:     envOrDefault("DB_PORT", "5432"),
			Name:     os.Getenv("DB_NAME"),
		},
		RedisURL:           firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		AMQPURL:            firstNonEmpty(raw.AMQP.URL, os.Getenv("AMQP_URL")),
		NotificationsQueue: firstNonEmpty(raw.AMQP.Queue, envOrDefault("NOTIFICATIONS_QUEUE", "order_notifications")),
		ThanksIO: ThanksIOConfig{
			APIKey:          firstNonEmpty(raw.ThanksIO.APIKey, os.Getenv("THANKS_IO_API_KEY")),
			BaseURL:         firstNonEmpty(raw.ThanksIO.BaseURL, envOrDefault("THANKS_IO_BASE_URL", "https://api.thanks.io/api/v2")),
			WebhookSecret:   firstNonEmpty(raw.ThanksIO.WebhookSecret, os.Getenv("THANKS_IO_WEBHOOK_SECRET")),
			DispatchTimeout: timeout,
		},
		Stripe: StripeConfig{
			SecretKey:     firstNonEmpty(raw.Stripe.SecretKey, os.Getenv("STRIPE_SECRET_KEY")),
			WebhookSecret: firstNonEmpty(raw.Stripe.WebhookSecret, os.Getenv("STRIPE_WEBHOOK_SECRET")),
			PricePro:      firstNonEmpty(raw.Stripe.PricePro, os.Getenv("STRIPE_PRICE_PRO")),
			PriceBusiness: firstNonEmpty(raw.Stripe.PriceBusiness, os.Getenv("STRIPE_PRICE_BUSINESS")),
		},
		Supabase: SupabaseConfig{
			JWTSecret: os.Getenv("SUPABASE_JWT_SECRET"),
			JWKSURL:   os.Getenv("SUPABASE_JWKS_URL"),
			Issuer:    os.Getenv("SUPABASE_ISSUER"),
		},
		OpenAI: OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  envOrDefault("OPENAI_MODEL", "gpt-4.1-mini"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envOrDefaultInt("SMTP_PORT", 587),
			User:     os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     envOrDefault("SMTP_FROM", "SteadyLetters <no-reply@steadyletters.com>"),
		},
		CronSecret: firstNonEmpty(raw.Cron.Secret, os.Getenv("CRON_SECRET")),
		BatchLimit: firstPositive(raw.Cron.BatchLimit, envOrDefaultInt("BATCH_LIMIT", 50)),
	}

	return cfg, nil
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// DSN returns DATABASE_URL or builds one from the DB_* parts.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
