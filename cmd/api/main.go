package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hazelcart/api/internal/handlers"
	"github.com/hazelcart/api/internal/notifications"
	"github.com/hazelcart/api/internal/payments"
	"github.com/hazelcart/api/internal/platform/config"
	pfirestore "github.com/hazelcart/api/internal/platform/firestore"
	"github.com/hazelcart/api/internal/platform/observability"
	"github.com/hazelcart/api/internal/platform/secrets"
	"github.com/hazelcart/api/internal/repositories"
	firestoreRepo "github.com/hazelcart/api/internal/repositories/firestore"
	"github.com/hazelcart/api/internal/services"
)

const paymentSessionRateLimit = 10

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

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	cartRepo, err := firestoreRepo.NewCartRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise cart repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	sequenceRepo, err := firestoreRepo.NewSequenceRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise sequence repository", zap.Error(err))
	}
	pendingPaymentRepo, err := firestoreRepo.NewPendingPaymentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise pending payment repository", zap.Error(err))
	}

	publisher, pubsubCleanup, err := newOrderEventPublisher(ctx, logger, cfg.Notifications)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	if pubsubCleanup != nil {
		defer pubsubCleanup()
	}

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineConfig{
		TaxRateBp:            int64(cfg.Pricing.TaxRateBp),
		DefaultShippingPrice: cfg.Pricing.ShippingPrice,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:    cartRepo,
		Products: productRepo,
		Currency: cfg.Pricing.Currency,
		Logger:   serviceLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	stockService, err := services.NewStockService(services.StockServiceDeps{
		Products: productRepo,
		Logger:   serviceLogger(logger.Named("stock")),
	})
	if err != nil {
		logger.Fatal("failed to initialise stock service", zap.Error(err))
	}

	sequenceService, err := services.NewSequenceService(services.SequenceServiceDeps{
		Sequences: sequenceRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise sequence service", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: serviceLogger(logger.Named("stripe")),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	webhookParser, err := payments.NewStripeWebhookParser(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook parser", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    orderRepo,
		Carts:     cartService,
		Stock:     stockService,
		Sequences: sequenceService,
		Pricing:   pricingEngine,
		Publisher: publisher,
		Refunder:  paymentManager,
		Logger:    serviceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     orderRepo,
		Pendings:   pendingPaymentRepo,
		Checkout:   paymentManager,
		Publisher:  publisher,
		PendingTTL: cfg.PendingPayments.TTL,
		SweepLimit: cfg.PendingPayments.SweepBatchSize,
		Logger:     serviceLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	systemService, err := newSystemService(firestoreClient, publisher != nil)
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepTicker := time.NewTicker(cfg.PendingPayments.SweepInterval)
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweepLogger := logger.Named("payments")
		for {
			select {
			case <-sweepTicker.C:
				runCtx, cancel := context.WithTimeout(sweepCtx, time.Minute)
				removed, err := paymentService.SweepExpired(runCtx)
				cancel()
				if err != nil {
					sweepLogger.Error("pending payment sweep error", zap.Error(err))
					continue
				}
				if removed > 0 {
					sweepLogger.Info("pending payment sweep removed records", zap.Int("count", removed))
				}
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	cartHandlers, err := handlers.NewCartHandlers(cartService)
	if err != nil {
		logger.Fatal("failed to initialise cart handlers", zap.Error(err))
	}
	orderHandlers, err := handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
		Orders:   orderService,
		Payments: paymentService,
		Limiter:  handlers.NewPaymentRateLimiter(paymentSessionRateLimit, time.Minute),
	})
	if err != nil {
		logger.Fatal("failed to initialise order handlers", zap.Error(err))
	}
	webhookHandlers, err := handlers.NewWebhookHandlers(handlers.WebhookHandlersDeps{
		Stripe:   webhookParser,
		Payments: paymentService,
	})
	if err != nil {
		logger.Fatal("failed to initialise webhook handlers", zap.Error(err))
	}
	internalHandlers, err := handlers.NewInternalHandlers(paymentService)
	if err != nil {
		logger.Fatal("failed to initialise internal handlers", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(systemService),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(orderHandlers.AdminRoutes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
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
		serverLogger.Info("hazelcart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepTicker.Stop()
	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// serviceLogger adapts the services' map-based logging callback onto zap.
func serviceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info("service log", zFields...)
	}
}

func newOrderEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.NotificationConfig) (services.OrderEventPublisher, func(), error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		logger.Warn("order event publisher disabled: no notifications project configured")
		return nil, nil, nil
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.Topic)
	publisher, err := notifications.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, cleanup, nil
}

func newSystemService(client *firestore.Client, notificationsEnabled bool) (services.SystemService, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	}
	if notificationsEnabled {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// Publisher liveness is covered by publish errors; the probe
				// only confirms the process still considers it configured.
				return nil
			},
		})
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
	})
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	projectMap := secretProjectMapFromEnv(env)
	credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}
