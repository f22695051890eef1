package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"HTTP server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`

	// ObfuscationKey keys the public order number permutation. Changing it
	// invalidates every order URL ever issued.
	ObfuscationKey string `usage:"Secret key for public order numbers" flag:"obfuscation-key"`

	AdminEmail string `default:"orders@example.com" usage:"Address receiving admin receipt copies" flag:"admin-email"`

	// AdminToken authenticates administrative endpoints (mark-paid, capture,
	// void). Empty disables them entirely.
	AdminToken string `usage:"Bearer token for admin endpoints" flag:"admin-token"`

	SuccessURL  string `default:"/orders/thank-you" usage:"Default post-purchase redirect" flag:"success-url"`
	DeclinedURL string `default:"/orders/declined"  usage:"Default post-decline redirect" flag:"declined-url"`

	Policy    PolicyConfig
	Providers ProvidersConfig
	Tax       TaxConfig
	RateLimit RateLimitConfig
	Graceful  GracefulConfig
}

// PolicyConfig is the installation's money rules.
type PolicyConfig struct {
	MinimumChargeCents int64 `default:"50"    usage:"Smallest positive total accepted, in cents" flag:"minimum-charge-cents"`
	AllowFree          bool  `default:"false" usage:"Permit zero-total orders" flag:"allow-free"`
	AllowRefunds       bool  `default:"false" usage:"Permit negative-total orders" flag:"allow-refunds"`
	RequireAddress     bool  `default:"true"  usage:"Require a billing address at checkout" flag:"require-address"`
}

// ProvidersConfig enables payment adapters and carries their credentials.
// An adapter with Enabled=false is never registered, so its routes answer
// with unknown provider.
type ProvidersConfig struct {
	Stripe  StripeConfig
	Moneris MonerisConfig
	Delayed DelayedConfig

	// Deferred lists enabled pay-later methods: cheque, etransfer, phone.
	Deferred []string `default:"cheque" usage:"Enabled deferred methods" flag:"deferred-methods"`

	// Pretend registers the sandbox approve-everything adapter. Never
	// enable it where real money is expected.
	Pretend bool `default:"false" usage:"Enable the sandbox provider" flag:"pretend"`
}

// StripeConfig carries Stripe credentials.
type StripeConfig struct {
	Enabled        bool   `default:"false" usage:"Enable Stripe" flag:"stripe-enabled"`
	SecretKey      string `usage:"Stripe secret key" flag:"stripe-secret-key"`
	PublishableKey string `usage:"Stripe publishable key" flag:"stripe-publishable-key"`
	Currency       string `default:"cad" usage:"Stripe charge currency" flag:"stripe-currency"`
}

// MonerisConfig carries hosted paypage credentials.
type MonerisConfig struct {
	Enabled   bool   `default:"false" usage:"Enable Moneris" flag:"moneris-enabled"`
	StoreID   string `usage:"Moneris store id" flag:"moneris-store-id"`
	HPPKey    string `usage:"Moneris hosted paypage key" flag:"moneris-hpp-key"`
	HostedURL string `usage:"Moneris hosted paypage URL" flag:"moneris-hosted-url"`
	VerifyURL string `usage:"Moneris transaction verification URL" flag:"moneris-verify-url"`
}

// DelayedConfig carries two-phase capture gateway credentials.
type DelayedConfig struct {
	Enabled     bool   `default:"false" usage:"Enable delayed capture" flag:"delayed-enabled"`
	AccessToken string `usage:"Delayed gateway access token" flag:"delayed-access-token"`
	APIBase     string `usage:"Delayed gateway base URL" flag:"delayed-api-base"`
}

// TaxConfig selects the rate source.
type TaxConfig struct {
	// Mode is "canada" for the built-in GST/HST/QST table or "fixed".
	Mode string `default:"canada" usage:"Tax rate source: canada or fixed" flag:"tax-mode"`
	// FixedRate is the percentage used in fixed mode, e.g. "13".
	FixedRate string `default:"0" usage:"Fixed tax rate percentage" flag:"tax-fixed-rate"`
}

// RateLimitConfig controls the per-client request limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if cfg.ObfuscationKey == "" {
		return nil, errors.New("obfuscation key is required: set ORDERS_OBFUSCATION_KEY")
	}
	if cfg.Providers.Stripe.Enabled && cfg.Providers.Stripe.SecretKey == "" {
		return nil, errors.New("stripe is enabled but ORDERS_PROVIDERS_STRIPE_SECRET_KEY is empty")
	}
	if cfg.Providers.Moneris.Enabled && (cfg.Providers.Moneris.StoreID == "" || cfg.Providers.Moneris.HPPKey == "") {
		return nil, errors.New("moneris is enabled but store id or hpp key is empty")
	}
	if cfg.Providers.Delayed.Enabled && cfg.Providers.Delayed.AccessToken == "" {
		return nil, errors.New("delayed capture is enabled but access token is empty")
	}
	switch cfg.Tax.Mode {
	case "canada", "fixed":
	default:
		return nil, errors.Errorf("unknown tax mode %q", cfg.Tax.Mode)
	}
	for _, m := range cfg.Providers.Deferred {
		switch strings.ToLower(m) {
		case "cheque", "etransfer", "phone":
		default:
			return nil, errors.Errorf("unknown deferred method %q", m)
		}
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
