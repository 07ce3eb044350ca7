/**
 * @description
 * This is the main entry point for the claim-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, the reconciliation scheduler, and the HTTP server. It
 * wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/ledgerclient, pkg/mlclient, pkg/evidenceclient, pkg/payoutclient: Upstream service clients.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/krishiraksha/claim-service/internal/api"
	"github.com/krishiraksha/claim-service/internal/app"
	"github.com/krishiraksha/claim-service/internal/config"
	"github.com/krishiraksha/claim-service/internal/store"
	"github.com/krishiraksha/claim-service/pkg/evidenceclient"
	"github.com/krishiraksha/claim-service/pkg/ledgerclient"
	"github.com/krishiraksha/claim-service/pkg/mlclient"
	"github.com/krishiraksha/claim-service/pkg/payoutclient"
	"github.com/krishiraksha/claim-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load a local .env file when present; real deployments use environment variables.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting claim-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer. A broker outage degrades event
	// publishing but must not keep the claim API down.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		producer = eventProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Redis backs OTP send throttling. Missing or unreachable Redis disables
	// throttling rather than blocking OTP delivery.
	var rateLimiter app.OTPRateLimiter
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; otp rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; otp rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; otp rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				rateLimiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the clients for upstream services.
	ledgerClient := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerAPIKey)
	evidenceClient := evidenceclient.NewClient(cfg.EvidenceAPIBaseURL, cfg.EvidenceAPIKey)
	payoutClient := payoutclient.NewClient(cfg.PayoutAPIBaseURL, cfg.PayoutAPIKey)
	verifier := mlclient.NewClient(
		cfg.MLAPIBaseURL,
		cfg.MLAPIKey,
		time.Duration(cfg.MLTimeoutSeconds)*time.Second,
		cfg.MLBreakerThreshold,
		time.Duration(cfg.MLBreakerCooldownS)*time.Second,
	)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application services with their dependencies.
	claimService := app.NewService(
		repository,
		ledgerClient,
		verifier,
		evidenceClient,
		payoutClient,
		producer,
		cfg.EventExchange,
	)
	otpService := app.NewOTPService(
		repository,
		producer,
		rateLimiter,
		cfg.EventExchange,
		time.Duration(cfg.OTPExpiryMinutes)*time.Minute,
		cfg.OTPSendRateLimitPerHour,
	)

	// Initialize the API handlers and routes.
	claimHandlers := api.NewClaimHandlers(claimService, otpService)

	router := chi.NewRouter()
	router.Mount("/api/v1", api.ClaimRoutes(claimHandlers, cfg.AuthJWKSURL, cfg.InternalAPIKey))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	// Wire up the verification consumer: claims are scored when their
	// verification request event arrives.
	verificationConsumer := app.NewConsumer(claimService)

	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	verificationBindings := map[string]func([]byte) bool{
		rabbitmq.RoutingKeyVerificationRequested: verificationConsumer.HandleVerificationRequested,
	}

	if err := rabbitConsumer.ConsumeWithBindings(cfg.EventExchange, cfg.VerificationQueue, verificationBindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"verification consumer start failed\" err=%v", err)
	}

	// Start the reconciliation scheduler for ledger orphans and expired OTPs.
	reconciler := app.NewReconciler(repository, claimService, app.ReconcilerConfig{
		LedgerSweepSpec:   cfg.ReconcileCronSpec,
		LedgerGracePeriod: time.Duration(cfg.ReconcileGraceMinutes) * time.Minute,
		LedgerBatchSize:   cfg.ReconcileBatchSize,
		OTPPurgeSpec:      cfg.OTPPurgeCronSpec,
		OTPRetention:      time.Duration(cfg.OTPPurgeRetentionMinutes) * time.Minute,
	})
	reconciler.Start()

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Let in-flight reconciliation jobs finish.
	<-reconciler.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
