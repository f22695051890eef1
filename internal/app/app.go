package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/code-and-effect/effective-orders-sub000/internal/cart"
	"github.com/code-and-effect/effective-orders-sub000/internal/catalog"
	"github.com/code-and-effect/effective-orders-sub000/internal/checkout"
	"github.com/code-and-effect/effective-orders-sub000/internal/handler"
	"github.com/code-and-effect/effective-orders-sub000/internal/mailer"
	"github.com/code-and-effect/effective-orders-sub000/internal/money"
	"github.com/code-and-effect/effective-orders-sub000/internal/obfuscate"
	"github.com/code-and-effect/effective-orders-sub000/internal/order"
	"github.com/code-and-effect/effective-orders-sub000/internal/payment"
	"github.com/code-and-effect/effective-orders-sub000/internal/repository"
	"github.com/code-and-effect/effective-orders-sub000/internal/tax"
	"github.com/code-and-effect/effective-orders-sub000/pkg/health"
	"github.com/code-and-effect/effective-orders-sub000/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles
// graceful shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, _ *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := repository.NewOrderRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	products := catalog.NewRepository(pool)

	rates, err := taxCalculator(cfg.Tax)
	if err != nil {
		return err
	}

	policy := order.Policy{
		MinimumCharge:         money.Cents(cfg.Policy.MinimumChargeCents),
		AllowFree:             cfg.Policy.AllowFree,
		AllowRefunds:          cfg.Policy.AllowRefunds,
		RequireBillingAddress: cfg.Policy.RequireAddress,
	}

	// Domain services.
	mail := mailer.NewLog(lg.Named("mailer"), cfg.AdminEmail)
	orderSvc := order.NewService(orderRepo, rates, products, mail, policy)
	cartSvc := cart.NewService(cartRepo, products, rates)

	registry := payment.NewRegistry(buildProviders(cfg, policy)...)
	lg.Info("Payment providers registered", zap.Strings("providers", registry.Names()))

	orchestrator := checkout.New(checkout.Config{
		DefaultSuccessURL:  cfg.SuccessURL,
		DefaultDeclinedURL: cfg.DeclinedURL,
	}, orderSvc, cartSvc, registry, authorize, eventRepo)

	// HTTP surface.
	h := handler.NewHandler(handler.Config{AdminToken: cfg.AdminToken},
		cartSvc, orderSvc, orchestrator, products, obfuscate.New(cfg.ObfuscationKey))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", http.StripPrefix("/api", h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func taxCalculator(cfg TaxConfig) (tax.Calculator, error) {
	switch cfg.Mode {
	case "canada":
		return tax.Canada{}, nil
	case "fixed":
		rate, err := decimal.NewFromString(cfg.FixedRate)
		if err != nil {
			return nil, errors.Wrapf(err, "parse fixed tax rate %q", cfg.FixedRate)
		}
		return tax.Fixed(rate), nil
	default:
		return nil, errors.Errorf("unknown tax mode %q", cfg.Mode)
	}
}

// buildProviders assembles the enabled payment adapters.
func buildProviders(cfg *Config, policy order.Policy) []payment.Provider {
	client := payment.NewClient(0)
	var providers []payment.Provider

	if cfg.Providers.Stripe.Enabled {
		providers = append(providers, payment.NewStripe(payment.StripeConfig{
			SecretKey:      cfg.Providers.Stripe.SecretKey,
			PublishableKey: cfg.Providers.Stripe.PublishableKey,
			Currency:       cfg.Providers.Stripe.Currency,
		}, client))
	}
	if cfg.Providers.Moneris.Enabled {
		providers = append(providers, payment.NewMoneris(payment.MonerisConfig{
			StoreID:   cfg.Providers.Moneris.StoreID,
			HPPKey:    cfg.Providers.Moneris.HPPKey,
			HostedURL: cfg.Providers.Moneris.HostedURL,
			VerifyURL: cfg.Providers.Moneris.VerifyURL,
		}, client))
	}
	if cfg.Providers.Delayed.Enabled {
		dcfg := payment.DelayedConfig{
			AccessToken: cfg.Providers.Delayed.AccessToken,
			APIBase:     cfg.Providers.Delayed.APIBase,
		}
		tokens := payment.NewTokenSource(delayedTokenFetch(client, dcfg))
		providers = append(providers, payment.NewDelayed(dcfg, client, tokens))
	}

	for _, m := range cfg.Providers.Deferred {
		switch strings.ToLower(m) {
		case "cheque":
			providers = append(providers, payment.Cheque("Please mail a cheque for the order total."))
		case "etransfer":
			providers = append(providers, payment.ETransfer("Please send an e-transfer for the order total."))
		case "phone":
			providers = append(providers, payment.Phone("Please call us to arrange payment."))
		}
	}

	if policy.AllowFree {
		providers = append(providers, payment.Free{})
	}
	if policy.AllowRefunds {
		providers = append(providers, payment.Refund{})
	}
	if cfg.Providers.Pretend {
		providers = append(providers, payment.Pretend{})
	}
	return providers
}

// delayedTokenFetch exchanges the configured access token for a short-lived
// bearer token.
func delayedTokenFetch(client *payment.Client, cfg payment.DelayedConfig) func(ctx context.Context) (string, time.Time, error) {
	return func(ctx context.Context) (string, time.Time, error) {
		var resp struct {
			Token     string `json:"token"`
			ExpiresIn int64  `json:"expires_in"`
		}
		body := map[string]any{"access_token": cfg.AccessToken}
		if err := client.PostJSON(ctx, cfg.APIBase+"/auth/token", nil, body, &resp); err != nil {
			return "", time.Time{}, err
		}
		return resp.Token, time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second), nil
	}
}

// authorize is the installed (actor, action, resource) predicate: admins
// and the system actor may do anything; a signed-in buyer may check out
// their own orders; anonymous orders are open to whoever holds the number.
func authorize(_ context.Context, actor checkout.Actor, action string, o *order.Order) bool {
	if actor.Admin || actor.System {
		return true
	}
	switch action {
	case "checkout":
		return o.BuyerID == 0 || o.BuyerID == actor.UserID
	default:
		// mark_as_paid, capture and other administrative actions.
		return false
	}
}
