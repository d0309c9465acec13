package app

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/pharmacart/internal/domain/order"
	"github.com/xenking/pharmacart/internal/domain/pricing"
)

const (
	defaultAddr     = "0.0.0.0:8080"
	defaultRedisURL = "redis://localhost:6379/0"

	// gatewayCallsPerCheckout is fetch, capture and re-fetch.
	gatewayCallsPerCheckout = 3
	checkoutLockMargin      = 10 * time.Second
)

// Config holds the complete application configuration, loadable from
// environment variables (PHARMACART_ prefix), a .env file, flags, or YAML
// config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PHARMACART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"redis://localhost:6379/0" usage:"Redis URL for checkout locks and rate limiting (or REDIS_URL)" flag:"redis-url"`
	JWTSecret    string `usage:"HS256 secret for bearer tokens (PHARMACART_JWT_SECRET)" flag:"jwt-secret"`
	JWTIssuer    string `default:"" usage:"Expected bearer token issuer, empty accepts any" flag:"jwt-issuer"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (PHARMACART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Pricing      PricingConfig
	Orders       OrdersConfig
	Payment      PaymentConfig
	Kafka        KafkaConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PricingConfig holds the fixed charges as decimal strings.
type PricingConfig struct {
	PlatformFee           string `default:"10" usage:"Platform fee per order"`
	DefaultDeliveryCharge string `default:"22" usage:"Delivery charge when distance is unknown"`
}

// OrdersConfig tunes the order service.
type OrdersConfig struct {
	VendorTransitions string        `default:"strict" usage:"Vendor status policy: strict or permissive"`
	CheckoutLockTTL   time.Duration `default:"1m" usage:"Per-user checkout lock lifetime, must outlast three gateway calls"`
}

// PaymentConfig configures the Razorpay gateway.
type PaymentConfig struct {
	KeyID     string        `usage:"Razorpay key id"`
	KeySecret string        `usage:"Razorpay key secret"`
	Currency  string        `default:"INR" usage:"Settlement currency"`
	Timeout   time.Duration `default:"10s" usage:"Gateway call timeout"`
	Breaker   BreakerConfig
}

// BreakerConfig controls the circuit breaker around the gateway.
type BreakerConfig struct {
	MaxRequests         uint32        `default:"1" usage:"Requests allowed while half-open"`
	Interval            time.Duration `default:"1m" usage:"Closed-state counter reset interval"`
	OpenTimeout         time.Duration `default:"30s" usage:"Time spent open before probing"`
	ConsecutiveFailures uint32        `default:"5" usage:"Consecutive failures that open the breaker"`
}

// KafkaConfig configures order event publishing. No brokers disables the
// relay; events stay in the outbox.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"pharmacart.orders" usage:"Order events topic"`
}

// OutboxConfig controls the outbox relay.
type OutboxConfig struct {
	Interval    time.Duration `default:"1s" usage:"Outbox poll interval"`
	BatchSize   int           `default:"100" usage:"Events fetched per poll"`
	Parallelism int           `default:"8" usage:"Orders published concurrently"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	// Backend is "redis" for a limit shared across instances or "memory".
	Backend string `default:"redis" usage:"Rate limit store: redis or memory"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then configuration from environment variables, YAML
// config files and flags, and validates it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PHARMACART",
		Files:     []string{"config.yaml", "/etc/pharmacart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL, REDIS_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if v := os.Getenv("REDIS_URL"); v != "" && c.RedisURL == defaultRedisURL {
		c.RedisURL = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks required settings and parses derived values.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set PHARMACART_DATABASE_URL or DATABASE_URL")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT secret is required: set PHARMACART_JWT_SECRET")
	}
	if _, err := c.Pricing.Engine(); err != nil {
		return err
	}
	if _, err := order.ParsePolicy(c.Orders.VendorTransitions); err != nil {
		return errors.Wrapf(err, "orders.vendorTransitions %q", c.Orders.VendorTransitions)
	}
	if minTTL := c.MinCheckoutLockTTL(); c.Orders.CheckoutLockTTL < minTTL {
		return errors.Errorf("orders.checkoutLockTTL %s: must be at least %s (3 x payment.timeout + %s)",
			c.Orders.CheckoutLockTTL, minTTL, checkoutLockMargin)
	}
	switch strings.ToLower(c.RateLimit.Backend) {
	case "redis", "memory":
	default:
		return errors.Errorf("rateLimit.backend %q: want redis or memory", c.RateLimit.Backend)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rateLimit.max and rateLimit.window must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	return nil
}

// MinCheckoutLockTTL is the shortest checkout lock that still covers every
// gateway call of one checkout.
func (c *Config) MinCheckoutLockTTL() time.Duration {
	return gatewayCallsPerCheckout*c.Payment.Timeout + checkoutLockMargin
}

// Engine builds the pricing engine from the configured charges.
func (p PricingConfig) Engine() (*pricing.Engine, error) {
	fee, err := decimal.NewFromString(p.PlatformFee)
	if err != nil {
		return nil, errors.Wrapf(err, "pricing.platformFee %q", p.PlatformFee)
	}
	delivery, err := decimal.NewFromString(p.DefaultDeliveryCharge)
	if err != nil {
		return nil, errors.Wrapf(err, "pricing.defaultDeliveryCharge %q", p.DefaultDeliveryCharge)
	}
	if fee.IsNegative() || delivery.IsNegative() {
		return nil, errors.New("pricing charges must not be negative")
	}
	return pricing.NewEngine(pricing.Config{PlatformFee: fee, DefaultDeliveryCharge: delivery}), nil
}
