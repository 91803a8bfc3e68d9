/**
 * @description
 * This is the main entry point for the payment engine. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, external API clients, message brokers, repositories, the core
 * application service, the renewal scheduler, and the HTTP server. It wires
 * everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/escrowclient, pkg/oracleclient, pkg/registryclient: Downstream clients.
 * - pkg/rabbitmq: Event publishing.
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fanvault/payment-engine/internal/admin"
	"github.com/fanvault/payment-engine/internal/api"
	"github.com/fanvault/payment-engine/internal/app"
	"github.com/fanvault/payment-engine/internal/config"
	"github.com/fanvault/payment-engine/internal/domain"
	"github.com/fanvault/payment-engine/internal/escrow"
	"github.com/fanvault/payment-engine/internal/pricing"
	"github.com/fanvault/payment-engine/internal/refund"
	"github.com/fanvault/payment-engine/internal/signing"
	"github.com/fanvault/payment-engine/internal/store"
	"github.com/fanvault/payment-engine/pkg/escrowclient"
	"github.com/fanvault/payment-engine/pkg/oracleclient"
	"github.com/fanvault/payment-engine/pkg/rabbitmq"
	"github.com/fanvault/payment-engine/pkg/registryclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if cfg.BootstrapAdmin == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"bootstrap admin must be configured\" env=BOOTSTRAP_ADMIN")
	}
	if !common.IsHexAddress(cfg.SettlementToken) {
		log.Fatalf("level=fatal component=bootstrap msg=\"settlement token must be a hex address\" env=SETTLEMENT_TOKEN")
	}
	if !common.IsHexAddress(cfg.CollectorAddress) {
		log.Fatalf("level=fatal component=bootstrap msg=\"collector address must be a hex address\" env=COLLECTOR_ADDRESS")
	}
	if !common.IsHexAddress(cfg.PlatformDestination) || !common.IsHexAddress(cfg.OperatorDestination) {
		log.Fatalf("level=fatal component=bootstrap msg=\"fee destinations must be hex addresses\" env=PLATFORM_FEE_DESTINATION,OPERATOR_FEE_DESTINATION")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payment-engine\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Pool sizing for high-traffic settlement workloads.
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

	// Initialize the RabbitMQ producer to publish lifecycle events. Event
	// publishing is best-effort, so a broker outage degrades to the fallback
	// instead of blocking startup.
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

	// Optional Redis connection for distributed rate limiting.
	var limiter *app.RedisPaymentRateLimiter
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; rate limiting disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; rate limiting disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; rate limiting disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisPaymentRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the downstream clients.
	railClient := escrowclient.NewClient(cfg.EscrowRailBaseURL, cfg.EscrowRailAPIKey)
	oracleClient := oracleclient.NewClient(cfg.OracleBaseURL, cfg.OracleAPIKey)
	registryClient := registryclient.NewClient(cfg.CreatorRegistryURL, cfg.ContentRegistryURL, cfg.RegistryAPIKey)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the admin configuration manager.
	adminMgr, err := admin.NewManager(
		domain.FeeConfig{
			PlatformFeeBps:      cfg.PlatformFeeBps,
			OperatorFeeBps:      cfg.OperatorFeeBps,
			PlatformDestination: common.HexToAddress(cfg.PlatformDestination),
			OperatorDestination: common.HexToAddress(cfg.OperatorDestination),
		},
		admin.RegistryEndpoints{
			CreatorRegistryURL: cfg.CreatorRegistryURL,
			ContentRegistryURL: cfg.ContentRegistryURL,
		},
		cfg.BootstrapAdmin,
		repository,
		railClient,
	)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"admin manager init failed\" err=%v", err)
	}

	// The in-process scheduler acts as the renewal bot; grant its role so the
	// sweep passes the same authorization checks external bots do.
	if err := adminMgr.GrantRole(context.Background(), cfg.BootstrapAdmin, domain.RoleRenewalBot, "renewal-scheduler"); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"scheduler role grant failed\" err=%v", err)
	}

	settlementToken := common.HexToAddress(cfg.SettlementToken)

	// Initialize the core application service with its dependencies.
	paymentService := app.NewService(
		repository,
		adminMgr,
		signing.NewAuthority(repository),
		pricing.NewOracle(oracleClient),
		escrow.NewAdapter(railClient, repository),
		refund.NewLedger(repository, railClient, settlementToken),
		app.NewPermitExecutor(railClient, common.HexToAddress(cfg.CollectorAddress)),
		registryClient,
		producer,
		railClient,
		settlementToken,
	)

	// Start the background renewal and cleanup jobs.
	scheduler := app.NewScheduler(paymentService, app.SchedulerConfig{
		RenewalSchedule: cfg.RenewalSchedule,
		CleanupSchedule: cfg.CleanupSchedule,
		RenewalBatch:    cfg.RenewalBatch,
	})
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize the API handlers and router.
	handlers := api.NewPaymentHandlers(paymentService, adminMgr, limiter)
	router := api.NewRouter(handlers, cfg.JWKSURL, cfg.InternalAPIKey)

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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
