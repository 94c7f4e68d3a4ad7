package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/handlers"
	"github.com/vesture-shop/api/internal/payments"
	"github.com/vesture-shop/api/internal/platform/config"
	"github.com/vesture-shop/api/internal/platform/idempotency"
	"github.com/vesture-shop/api/internal/platform/observability"
	"github.com/vesture-shop/api/internal/platform/requestctx"
	"github.com/vesture-shop/api/internal/pricing"
	"github.com/vesture-shop/api/internal/repositories/memory"
	"github.com/vesture-shop/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("missing required configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	providers := map[string]payments.Provider{}
	razorpay, err := payments.NewRazorpayProvider(payments.RazorpayConfig{
		KeyID:     cfg.Gateway.RazorpayKeyID,
		KeySecret: cfg.Gateway.RazorpayKeySecret,
		BaseURL:   cfg.Gateway.RazorpayBaseURL,
	})
	if err != nil {
		logger.Fatal("failed to initialise razorpay provider", zap.Error(err))
	}
	providers["razorpay"] = razorpay

	if cfg.Gateway.StripeAPIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{APIKey: cfg.Gateway.StripeAPIKey})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		providers["stripe"] = stripe
	}

	gateway, err := payments.NewManager(providers)
	if err != nil {
		logger.Fatal("failed to initialise gateway manager", zap.Error(err))
	}

	var dedup idempotency.Store
	readiness := map[string]handlers.ReadinessChecker{}
	if cfg.Redis.Addr != "" {
		redisStore := idempotency.NewRedisStore(cfg.Redis.Addr, "webhook")
		defer func() {
			if err := redisStore.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		dedup = redisStore
		readiness["redis"] = redisStore.Ping
	} else {
		logger.Info("no redis configured; using in-memory webhook dedup store")
		dedup = idempotency.NewMemoryStore()
	}

	repo := memory.NewOrderRepository()
	catalog := memory.DefaultCatalog()
	engine := pricing.NewEngine(pricing.Config{
		FreeShippingThreshold: domain.AmountFromMinorUnits(cfg.Pricing.FreeShippingThreshold),
		FlatShippingFee:       domain.AmountFromMinorUnits(cfg.Pricing.FlatShippingFee),
	})

	bus := services.NewOrderEventBus()
	serviceLogger := newServiceLogger(logger)

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   repo,
		Catalog:  catalog,
		Pricing:  engine,
		Gateway:  gateway,
		Currency: cfg.Gateway.Currency,
		Events:   bus,
		Logger:   serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	verifier, err := services.NewPaymentVerifier(services.PaymentVerifierDeps{
		Orders:        orders,
		SigningSecret: cfg.Webhooks.SigningSecret,
		Logger:        serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment verifier", zap.Error(err))
	}

	webhooks, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:   orders,
		Verifier: verifier,
		Dedup:    dedup,
		DedupTTL: cfg.Webhooks.DedupTTL,
		Logger:   serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook service", zap.Error(err))
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:        orders,
		Catalog:       catalog,
		Pricing:       engine,
		PaymentWindow: cfg.Checkout.PaymentWindow,
		Logger:        serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}
	defer checkout.Close()
	bus.Subscribe(checkout.HandlePaymentOutcome)

	orderHandlers := handlers.NewOrderHandlers(orders)
	paymentHandlers := handlers.NewPaymentHandlers(handlers.PaymentHandlersConfig{
		Verifier:      verifier,
		Webhooks:      webhooks,
		SigningSecret: cfg.Webhooks.SigningSecret,
	})
	checkoutHandlers := handlers.NewCheckoutHandlers(checkout)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(readiness)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("vesture-shop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newServiceLogger adapts the zap logger to the event-style logging the
// service layer uses.
func newServiceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields)+1)
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		if traceID := requestctx.TraceID(ctx); traceID != "" {
			zapFields = append(zapFields, zap.String("trace_id", traceID))
		}
		logger.Info(event, zapFields...)
	}
}
