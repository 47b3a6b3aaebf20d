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
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/fabrica-ops/api/internal/handlers"
	"github.com/fabrica-ops/api/internal/platform/auth"
	"github.com/fabrica-ops/api/internal/platform/config"
	pfirestore "github.com/fabrica-ops/api/internal/platform/firestore"
	"github.com/fabrica-ops/api/internal/platform/idempotency"
	"github.com/fabrica-ops/api/internal/platform/jobs"
	"github.com/fabrica-ops/api/internal/platform/observability"
	"github.com/fabrica-ops/api/internal/platform/requestctx"
	"github.com/fabrica-ops/api/internal/platform/secrets"
	platformstorage "github.com/fabrica-ops/api/internal/platform/storage"
	"github.com/fabrica-ops/api/internal/repositories"
	firestoreRepo "github.com/fabrica-ops/api/internal/repositories/firestore"
	"github.com/fabrica-ops/api/internal/services"
)

const (
	idempotencyCleanupInterval = 10 * time.Minute
	idempotencyCleanupBatch    = 200
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

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

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

	gcsClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	uploader, err := platformstorage.NewUploader(gcsClient)
	if err != nil {
		logger.Fatal("failed to initialise storage uploader", zap.Error(err))
	}

	buckets := services.AttachmentBuckets{
		Orders:   cfg.Storage.OrdersBucket,
		Invoices: cfg.Storage.InvoicesBucket,
		Products: cfg.Storage.ProductsBucket,
	}
	attachmentService, err := services.NewAttachmentService(services.AttachmentServiceDeps{
		Uploader: uploader,
		Buckets:  buckets,
	})
	if err != nil {
		logger.Fatal("failed to initialise attachment service", zap.Error(err))
	}

	var orderEventTopic *pubsub.Topic
	var orderEvents services.OrderEventPublisher
	if cfg.PubSub.Enabled {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderEventTopic = pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		defer orderEventTopic.Stop()
		orderEvents, err = jobs.NewPubSubOrderEventPublisher(orderEventTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	} else {
		logger.Info("pubsub disabled; order events will not be published")
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(firestoreClient, gcsClient, orderEventTopic, cfg))
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}

	serviceLog := serviceEventLogger(logger)

	userService, err := services.NewUserService(services.UserServiceDeps{
		Users:  registry.Users(),
		Claims: verifier,
		Logger: serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise user service", zap.Error(err))
	}

	authenticator := auth.NewAuthenticator(verifier, userService.ResolveRole)

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      registry.Orders(),
		Items:       registry.OrderItems(),
		Products:    registry.Products(),
		Attachments: attachmentService,
		UnitOfWork:  registry,
		Events:      orderEvents,
		Logger:      serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   registry.Products(),
		Categories: registry.Categories(),
		Items:      registry.OrderItems(),
		Images:     attachmentService,
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	reportService, err := services.NewReportService(services.ReportServiceDeps{
		Orders:   registry.Orders(),
		Products: registry.Products(),
	})
	if err != nil {
		logger.Fatal("failed to initialise report service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: registry.Health(),
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	var signingClient *platformstorage.Client
	if strings.TrimSpace(cfg.Signer.ServiceAccountEmail) != "" && strings.TrimSpace(cfg.Signer.PrivateKey) != "" {
		signer, err := platformstorage.NewServiceAccountSigner(cfg.Signer.ServiceAccountEmail, cfg.Signer.PrivateKey)
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		signingClient, err = platformstorage.NewClient(signer)
		if err != nil {
			logger.Fatal("failed to initialise signed URL client", zap.Error(err))
		}
	} else {
		logger.Warn("storage signer not configured; signed attachment downloads disabled")
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	createOrderMW := idempotency.Middleware(idempotencyStore,
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(idempotencyCleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), idempotencyCleanupBatch)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	orderHandlers := handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
		Authenticator:    authenticator,
		Orders:           orderService,
		Signing:          signingClient,
		Buckets:          buckets,
		CreateMiddleware: createOrderMW,
	})
	catalogHandlers := handlers.NewCatalogHandlers(authenticator, catalogService)
	userHandlers := handlers.NewUserHandlers(authenticator, userService)
	meHandlers := handlers.NewMeHandlers(authenticator, userService)
	reportHandlers := handlers.NewReportHandlers(authenticator, reportService)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(systemService),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(cfg.Firebase.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithReportRoutes(reportHandlers.Routes),
		handlers.WithUserRoutes(userHandlers.Routes),
		handlers.WithMeRoutes(meHandlers.Routes),
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
		serverLogger.Info("fabrica-ops api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if environment := strings.TrimSpace(env["API_ENVIRONMENT"]); environment != "" {
		opts = append(opts, secrets.WithEnvironment(environment))
	}
	if project := strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"]); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func dependencyChecks(client *firestore.Client, gcsClient *cloudstorage.Client, topic *pubsub.Topic, cfg config.Config) []repositories.DependencyCheck {
	checks := make([]repositories.DependencyCheck, 0, 3)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if gcsClient != nil && strings.TrimSpace(cfg.Storage.InvoicesBucket) != "" {
		bucket := gcsClient.Bucket(cfg.Storage.InvoicesBucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "storage",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				_, err := bucket.Attrs(ctx)
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	return checks
}

func serviceEventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	base = base.Named("services")
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := observability.FromContext(ctx)
		if logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
