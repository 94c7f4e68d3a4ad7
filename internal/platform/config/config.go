// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile       = ".env"
	defaultPort          = "8080"
	defaultReadTimeout   = 15 * time.Second
	defaultWriteTimeout  = 30 * time.Second
	defaultIdleTimeout   = 120 * time.Second
	defaultCurrency      = "INR"
	defaultPaymentWindow = 10 * time.Minute
	defaultDedupTTL      = 7 * 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Gateway  GatewayConfig
	Webhooks WebhookConfig
	Checkout CheckoutConfig
	Pricing  PricingConfig
	Redis    RedisConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// GatewayConfig collects credentials for payment providers.
type GatewayConfig struct {
	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string
	StripeAPIKey      string
	Currency          string
}

// WebhookConfig contains webhook security parameters.
type WebhookConfig struct {
	SigningSecret string
	DedupTTL      time.Duration
}

// CheckoutConfig controls checkout session behaviour.
type CheckoutConfig struct {
	PaymentWindow time.Duration
}

// PricingConfig tunes shipping thresholds, in minor units.
type PricingConfig struct {
	FreeShippingThreshold int64
	FlatShippingFee       int64
}

// RedisConfig points at the optional Redis used for webhook deduplication.
// An empty Addr falls back to the in-memory store.
type RedisConfig struct {
	Addr string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the dotenv file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values that take precedence over the
// environment. Intended for tests.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// Load reads configuration with precedence dotenv < OS env < explicit map.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	values := map[string]string{}
	if options.envFile != "" {
		if fileValues, err := godotenv.Read(options.envFile); err == nil {
			for k, v := range fileValues {
				values[k] = v
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read env file %s: %w", options.envFile, err)
		}
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}

	get := func(key string) string { return strings.TrimSpace(values[key]) }

	cfg := Config{
		Server: ServerConfig{
			Port:         stringOr(get("PORT"), defaultPort),
			ReadTimeout:  durationOr(get("SERVER_READ_TIMEOUT"), defaultReadTimeout),
			WriteTimeout: durationOr(get("SERVER_WRITE_TIMEOUT"), defaultWriteTimeout),
			IdleTimeout:  durationOr(get("SERVER_IDLE_TIMEOUT"), defaultIdleTimeout),
		},
		Gateway: GatewayConfig{
			RazorpayKeyID:     get("RAZORPAY_KEY_ID"),
			RazorpayKeySecret: get("RAZORPAY_KEY_SECRET"),
			RazorpayBaseURL:   get("RAZORPAY_BASE_URL"),
			StripeAPIKey:      get("STRIPE_API_KEY"),
			Currency:          stringOr(get("GATEWAY_CURRENCY"), defaultCurrency),
		},
		Webhooks: WebhookConfig{
			SigningSecret: get("WEBHOOK_SIGNING_SECRET"),
			DedupTTL:      durationOr(get("WEBHOOK_DEDUP_TTL"), defaultDedupTTL),
		},
		Checkout: CheckoutConfig{
			PaymentWindow: durationOr(get("CHECKOUT_PAYMENT_WINDOW"), defaultPaymentWindow),
		},
		Pricing: PricingConfig{
			FreeShippingThreshold: int64Or(get("PRICING_FREE_SHIPPING_THRESHOLD"), 0),
			FlatShippingFee:       int64Or(get("PRICING_FLAT_SHIPPING_FEE"), 0),
		},
		Redis: RedisConfig{
			Addr: get("REDIS_ADDR"),
		},
	}

	var missing []string
	if cfg.Gateway.RazorpayKeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if cfg.Gateway.RazorpayKeySecret == "" {
		missing = append(missing, "RAZORPAY_KEY_SECRET")
	}
	if cfg.Webhooks.SigningSecret == "" {
		missing = append(missing, "WEBHOOK_SIGNING_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, &ValidationError{fields: missing}
	}

	return cfg, nil
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func int64Or(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
