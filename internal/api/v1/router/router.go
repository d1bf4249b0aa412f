package router

import (
	"context"
	"net/http"
	"strings"

	"app/docs"
	"app/internal/api/v1/handler"
	"app/internal/config"
	"app/internal/metrics"
	"app/internal/middleware"
	"app/internal/pubsub"
	"app/internal/repository"
	"app/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/swaggo/swag"
)

// New builds the full HTTP handler graph and returns it together with the
// connection pool and the engine dependencies the scheduler needs.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, service.CreditService, repository.Store, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initialized")

	// 1. Open DB connection pool
	dsn := cfg.DBConnectionString
	// Local Postgres usually runs without TLS; production connection strings
	// arrive with their own sslmode.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "sslmode=disable"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DB pool")
		return nil, nil, nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		pool.Close()
		return nil, nil, nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Initialize S3 client for ledger exports
	var s3Client *s3.Client
	if cfg.ExportBucket != "" {
		s3Config, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
			awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
		)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load S3 config")
			pool.Close()
			return nil, nil, nil, nil, err
		}
		s3Client = s3.NewFromConfig(s3Config, func(o *s3.Options) {
			if cfg.S3URL != "" {
				o.BaseEndpoint = aws.String(cfg.S3URL)
				o.UsePathStyle = true
			}
		})
	}

	// 3. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 4. Initialize Pub/Sub publisher for threshold alerts
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Pub/Sub publisher")
			pool.Close()
			return nil, nil, nil, nil, err
		}
		publisher = p
	} else {
		logger.Warn().Msg("GCP_PROJECT_ID not set, threshold alerts will be recorded but not published")
	}

	// 5. Resolve the Stripe webhook secret
	webhookSecret := cfg.StripeWebhookSecret
	if webhookSecret == "" && cfg.StripeWebhookSecretName != "" {
		sm, err := service.NewSecretManagerService(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Secret Manager client")
			pool.Close()
			return nil, nil, nil, nil, err
		}
		defer sm.Close()
		webhookSecret, err = sm.AccessSecret(ctx, cfg.StripeWebhookSecretName)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to resolve Stripe webhook secret")
			pool.Close()
			return nil, nil, nil, nil, err
		}
	}

	// 6. Initialize repositories, services, handlers
	m := metrics.New()
	store := repository.NewPostgresStore(pool)

	notifier := service.NewNotifier(store, publisher, cfg.AlertTopic, m, logger)
	creditSvc := service.NewCreditService(store, notifier, m, logger, cfg.FreeTierCredits)
	billingSvc := service.NewBillingService(creditSvc, webhookSecret, logger)
	generationSvc := service.NewGenerationService(creditSvc, cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)

	var exportSvc *service.ExportService
	if s3Client != nil {
		exportSvc = service.NewExportService(store, s3Client, cfg.ExportBucket, logger)
	}

	creditHandler := handler.NewCreditHandler(creditSvc, validate)
	adminHandler := handler.NewAdminHandler(creditSvc, exportSvc, cfg.ExportBucket, validate)
	generationHandler := handler.NewGenerationHandler(generationSvc, validate)

	// 7. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)

	// 8. Create ServeMux router
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	creditHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	adminHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	generationHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	// The webhook authenticates by signature, not by bearer token.
	apiV1Mux.HandleFunc("/billing/webhook", billingSvc.HandleWebhook)

	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Operational endpoints stay unversioned.
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Swagger documentation
	mux.HandleFunc("/swagger/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		doc, err := swag.ReadDoc(docs.SwaggerInfo.InstanceName())
		if err != nil {
			http.Error(w, "swagger doc unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(doc))
	})

	// 9. Apply CORS and request logging
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux)), pool, creditSvc, store, nil
}

// removeDisableGzip is a workaround for S3 signature errors with some
// S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
