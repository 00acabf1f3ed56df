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

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/atelier-noir/api/internal/di"
	"github.com/atelier-noir/api/internal/handlers"
	"github.com/atelier-noir/api/internal/payments"
	"github.com/atelier-noir/api/internal/platform/auth"
	"github.com/atelier-noir/api/internal/platform/config"
	pfirestore "github.com/atelier-noir/api/internal/platform/firestore"
	"github.com/atelier-noir/api/internal/platform/idempotency"
	"github.com/atelier-noir/api/internal/platform/jobs"
	"github.com/atelier-noir/api/internal/platform/observability"
	"github.com/atelier-noir/api/internal/platform/secrets"
	"github.com/atelier-noir/api/internal/platform/signedcookie"
	"github.com/atelier-noir/api/internal/platform/storage"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

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
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("PSP.CallbackSecret", "Referral.SigningKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	outcomes, err := observability.NewOutcomes(nil)
	if err != nil {
		logger.Fatal("failed to register outcome metrics", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	infra := di.Infrastructure{
		Firestore: firestoreProvider,
		Metrics:   outcomes,
		Logger:    logger,
	}

	if apiKey := strings.TrimSpace(cfg.PSP.StripeAPIKey); apiKey != "" {
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: apiKey,
			Logger: observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		infra.Gateway = gateway
	} else {
		logger.Warn("stripe api key not configured; checkout runs in demo mode")
	}

	var pubsubClient *pubsub.Client
	var orderTopic *pubsub.Topic
	if cfg.PubSub.ProjectID != "" {
		pubsubClient, orderTopic, err = jobs.OpenTopic(ctx, cfg.PubSub.ProjectID, cfg.PubSub.OrderEventsTopic)
		if err != nil {
			logger.Fatal("failed to open order events topic", zap.Error(err))
		}
		publisher, err := jobs.NewOrderEventPublisher(orderTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		infra.Publisher = publisher
	}

	var storageClient *gcs.Client
	if bucket := strings.TrimSpace(cfg.Storage.ReceiptsBucket); bucket != "" {
		storageClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		writer, err := storage.NewGCSWriter(storageClient)
		if err != nil {
			logger.Fatal("failed to initialise receipt writer", zap.Error(err))
		}
		archiver, err := storage.NewReceiptArchiver(writer, bucket)
		if err != nil {
			logger.Fatal("failed to initialise receipt archiver", zap.Error(err))
		}
		linker, err := storage.NewReceiptLinker(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise receipt linker", zap.Error(err))
		}
		infra.Receipts = archiver
		infra.Links = linker
	}

	container, err := di.NewContainer(ctx, cfg, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}

	var tokenVerifier auth.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		tokenVerifier = firebaseVerifier
	} else {
		logger.Warn("firebase project not configured; orders are accepted as guest checkouts only")
	}
	authenticator := auth.NewAuthenticator(tokenVerifier)

	referralCookie, err := signedcookie.New(cfg.Referral.CookieName, []byte(cfg.Referral.SigningKey),
		signedcookie.WithSecure(cfg.Referral.SecureCookie),
	)
	if err != nil {
		logger.Fatal("failed to initialise referral cookie", zap.Error(err))
	}

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Checkout, idempotencyMiddleware)
	paymentHandlers := handlers.NewPaymentHandlers(svc.Settlement, svc.Attribution, referralCookie)
	internalHandlers := handlers.NewInternalHandlers(svc.Settlement)
	referralCapture := handlers.NewReferralCapture(svc.Referral, container.Effects, referralCookie, cfg.Referral.QueryParam)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		referralCapture.Middleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthRepository(container.Health),
	)

	opts := []handlers.Option{
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("atelier-noir api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	if orderTopic != nil {
		orderTopic.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if storageClient != nil {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store *idempotency.FirestoreStore, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, observability.NewPrintfAdapter(logger))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
		secrets.WithFallbackFile(fallbackPath),
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
