// Package config builds the explicit configuration struct that every service
// receives at construction time.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	ServiceVersion string `mapstructure:"SERVICE_VERSION"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	MongoURL      string `mapstructure:"MONGO_URL"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	KafkaBrokers  string `mapstructure:"KAFKA_BROKERS"`

	Payment    PaymentConfig    `mapstructure:",squash"`
	Automation AutomationConfig `mapstructure:",squash"`

	WebhookLockTTL  time.Duration `mapstructure:"WEBHOOK_LOCK_TTL"`
	WebhookLockWait time.Duration `mapstructure:"WEBHOOK_LOCK_WAIT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	OTLPEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatio float64 `mapstructure:"OTEL_TRACES_SAMPLE_RATIO"`
}

type PaymentConfig struct {
	Provider        string        `mapstructure:"PAYMENT_PROVIDER"`
	FinishURL       string        `mapstructure:"PAYMENT_FINISH_URL"`
	NotificationURL string        `mapstructure:"PAYMENT_NOTIFICATION_URL"`
	ExpiryMinutes   int           `mapstructure:"PAYMENT_EXPIRY_MINUTES"`
	Timeout         time.Duration `mapstructure:"GATEWAY_TIMEOUT"`

	MidtransServerKey string `mapstructure:"MIDTRANS_SERVER_KEY"`
	MidtransSnapURL   string `mapstructure:"MIDTRANS_SNAP_URL"`
	MidtransAPIURL    string `mapstructure:"MIDTRANS_API_URL"`

	DuitkuMerchantCode string `mapstructure:"DUITKU_MERCHANT_CODE"`
	DuitkuAPIKey       string `mapstructure:"DUITKU_API_KEY"`
	DuitkuBaseURL      string `mapstructure:"DUITKU_BASE_URL"`
}

type AutomationConfig struct {
	ServiceURL string        `mapstructure:"AUTOMATION_SERVICE_URL"`
	Timeout    time.Duration `mapstructure:"AUTOMATION_TIMEOUT"`
}

var keys = []string{
	"PORT", "SERVICE_VERSION", "STORE_DRIVER", "POSTGRES_URL", "MONGO_URL", "MONGO_DATABASE",
	"REDIS_URL", "KAFKA_BROKERS", "PAYMENT_PROVIDER", "PAYMENT_FINISH_URL", "PAYMENT_NOTIFICATION_URL",
	"PAYMENT_EXPIRY_MINUTES", "GATEWAY_TIMEOUT", "MIDTRANS_SERVER_KEY", "MIDTRANS_SNAP_URL",
	"MIDTRANS_API_URL", "DUITKU_MERCHANT_CODE", "DUITKU_API_KEY", "DUITKU_BASE_URL",
	"AUTOMATION_SERVICE_URL", "AUTOMATION_TIMEOUT", "WEBHOOK_LOCK_TTL", "WEBHOOK_LOCK_WAIT",
	"REQUEST_TIMEOUT", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_TRACES_SAMPLE_RATIO",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8081")
	v.SetDefault("SERVICE_VERSION", "0.1.0")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("MONGO_DATABASE", "storefront")
	v.SetDefault("PAYMENT_PROVIDER", "midtrans")
	v.SetDefault("PAYMENT_EXPIRY_MINUTES", 60)
	v.SetDefault("GATEWAY_TIMEOUT", 15*time.Second)
	v.SetDefault("MIDTRANS_SNAP_URL", "https://app.sandbox.midtrans.com")
	v.SetDefault("MIDTRANS_API_URL", "https://api.sandbox.midtrans.com")
	v.SetDefault("DUITKU_BASE_URL", "https://sandbox.duitku.com")
	v.SetDefault("AUTOMATION_TIMEOUT", 60*time.Second)
	v.SetDefault("WEBHOOK_LOCK_TTL", 30*time.Second)
	v.SetDefault("WEBHOOK_LOCK_WAIT", 2*time.Second)
	v.SetDefault("REQUEST_TIMEOUT", 90*time.Second)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_TRACES_SAMPLE_RATIO", 1.0)
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about during Unmarshal.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.Payment.Provider = strings.ToLower(cfg.Payment.Provider)
	return &cfg, nil
}

// Validate reports the first missing setting the storefront needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required")
		}
	case "mongo":
		if c.MongoURL == "" {
			return errors.New("MONGO_URL is required")
		}
		// ledger and stock pool always live in postgres
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.Payment.Provider {
	case "midtrans":
		if c.Payment.MidtransServerKey == "" {
			return errors.New("MIDTRANS_SERVER_KEY is required")
		}
	case "duitku":
		if c.Payment.DuitkuMerchantCode == "" {
			return errors.New("DUITKU_MERCHANT_CODE is required")
		}
		if c.Payment.DuitkuAPIKey == "" {
			return errors.New("DUITKU_API_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.Payment.Provider)
	}

	if c.Automation.ServiceURL == "" {
		return errors.New("AUTOMATION_SERVICE_URL is required")
	}
	return nil
}

func (c *Config) Brokers() []string {
	if c.KafkaBrokers == "" {
		return nil
	}
	return strings.Split(c.KafkaBrokers, ",")
}
