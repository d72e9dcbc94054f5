/**
 * @description
 * This is the main entry point for the bond transaction service. It is
 * responsible for initializing all components of the service, including
 * configuration, database connection, external API clients, message brokers,
 * repositories, the command processor, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/riskmodel, pkg/fraudclient: Clients for the scoring and fraud services.
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
	"github.com/redis/go-redis/v9"

	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/api"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/app"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/config"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/domain"
	"github.com/CrysisFangz/TheFinalMarket-sub019/internal/store"
	"github.com/CrysisFangz/TheFinalMarket-sub019/pkg/fraudclient"
	rmrabbit "github.com/CrysisFangz/TheFinalMarket-sub019/pkg/rabbitmq"
	"github.com/CrysisFangz/TheFinalMarket-sub019/pkg/riskmodel"
)

// predictiveModelAdapter bridges the HTTP client to the calculator's
// PredictiveModel interface.
type predictiveModelAdapter struct {
	client *riskmodel.Client
}

func (a predictiveModelAdapter) Predict(ctx context.Context, features app.RiskFeatures) (float64, error) {
	return a.client.Predict(ctx, features)
}

// fraudAnalyzerAdapter bridges the HTTP client to the processor's
// FraudAnalyzer interface.
type fraudAnalyzerAdapter struct {
	client *fraudclient.Client
}

func (a fraudAnalyzerAdapter) Analyze(ctx context.Context, state domain.TransactionState, verificationData map[string]string) (app.FraudAnalysis, error) {
	resp, err := a.client.Analyze(ctx, fraudclient.AnalyzeRequest{
		TransactionID:    state.TransactionID.String(),
		BondID:           state.BondID.String(),
		TransactionType:  string(state.TransactionType),
		Amount:           state.Amount,
		RetryCount:       state.RetryCount,
		VerificationData: verificationData,
	})
	if err != nil {
		return app.FraudAnalysis{}, err
	}
	return app.FraudAnalysis{
		Success:    resp.Data.Passed,
		Confidence: resp.Data.Confidence,
		Reason:     resp.Data.Reason,
	}, nil
}

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting bond transaction service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
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

	// Initialize the RabbitMQ producer to publish domain events. A missing
	// broker degrades publishing to a warn-logging fallback rather than
	// preventing boot.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize Redis for the risk-score cache and submission rate limiter.
	// Missing Redis degrades both to no-ops.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; risk cache and rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; risk cache and rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; risk cache and rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Predictive model client. Missing config degrades scoring to the
	// traditional blend alone.
	var model app.PredictiveModel
	if strings.TrimSpace(cfg.RiskModelBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"risk model not configured; scoring runs traditional-only\" env=RISK_MODEL_BASE_URL")
	} else {
		model = predictiveModelAdapter{client: riskmodel.NewClient(cfg.RiskModelBaseURL, cfg.RiskModelAPIKey)}
	}

	var riskCache app.RiskCache
	if redisClient != nil {
		riskCache = app.NewRedisRiskCache(redisClient, cfg.RedisRiskCachePrefix)
	}
	riskCalc := app.NewRiskCalculator(model, repository, riskCache, time.Duration(cfg.RiskCacheTTLSeconds)*time.Second)

	// Fraud analysis client for the verification strategy.
	var fraud app.FraudAnalyzer
	if strings.TrimSpace(cfg.FraudServiceBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"fraud service not configured; fraud verification unavailable\" env=FRAUD_SERVICE_BASE_URL")
	} else {
		fraud = fraudAnalyzerAdapter{client: fraudclient.NewClient(cfg.FraudServiceBaseURL, cfg.FraudServiceAPIKey)}
	}

	signer := app.NewSigner(cfg.EventSigningSecret)
	if !signer.Enabled() {
		log.Println("level=warn component=bootstrap msg=\"event signing disabled; no signing secret configured\" env=EVENT_SIGNING_SECRET")
	}
	perimeter := app.NewPerimeter(signer, time.Duration(cfg.CommandFreshnessSeconds)*time.Second)
	compliance := app.NewRuleBasedComplianceEngine()
	pipeline := app.NewValidatorPipeline(repository, repository, riskCalc, compliance, perimeter, cfg.RiskCeiling)
	breaker := app.NewCircuitBreaker(
		cfg.BreakerFailureThreshold,
		time.Duration(cfg.BreakerFailureWindowSecs)*time.Second,
		time.Duration(cfg.BreakerCooldownSeconds)*time.Second,
	)
	projector := app.NewProjector()

	processor := app.NewProcessor(
		repository,
		repository,
		pipeline,
		projector,
		riskCalc,
		signer,
		breaker,
		publisher,
		fraud,
		compliance,
		cfg.TransactionEventExchange,
		cfg.MaxVerificationRetries,
	)

	// Initialize the API handlers.
	var limiter *app.RedisSubmissionRateLimiter
	if redisClient != nil {
		limiter = app.NewRedisSubmissionRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
	}
	transactionHandlers := api.NewTransactionHandlers(processor, repository, repository, signer, limiter, cfg.SubmitRateLimitPerMinute)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.TransactionRoutes(transactionHandlers, cfg.ServiceTokenSecret))

	// Wire up the consumers: the projection relay replicates the read model
	// from published domain events, and the settlement consumer drives
	// transactions to their terminal states.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; projection relay and settlement consumer disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		relay := app.NewProjectionRelay(projector, repository)
		if err := rabbitConsumer.ConsumeWithBindings(cfg.TransactionEventExchange, cfg.ProjectionQueue, relay.Bindings()); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"projection relay start failed\" err=%v", err)
		}

		settlement := app.NewSettlementConsumer(processor)
		settlementBindings := map[string]func([]byte) bool{
			"settlement.status.completed": settlement.HandleMessage,
			"settlement.status.cancelled": settlement.HandleMessage,
			"settlement.status.rejected":  settlement.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.TransactionEventExchange, cfg.ProjectionQueue+".settlement", settlementBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"settlement consumer start failed\" err=%v", err)
		}
	}

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

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

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownGraceSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
