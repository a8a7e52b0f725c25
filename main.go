package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/onurcolak/messaging-bridge/environments"
	"github.com/onurcolak/messaging-bridge/handlers"
	"github.com/onurcolak/messaging-bridge/internal/broadcast"
	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/internal/enrichment"
	"github.com/onurcolak/messaging-bridge/internal/keylock"
	"github.com/onurcolak/messaging-bridge/internal/middlewares"
	"github.com/onurcolak/messaging-bridge/internal/notification"
	"github.com/onurcolak/messaging-bridge/internal/outbound"
	"github.com/onurcolak/messaging-bridge/internal/processor"
	"github.com/onurcolak/messaging-bridge/internal/repository"
	"github.com/onurcolak/messaging-bridge/internal/scheduler"
	"github.com/onurcolak/messaging-bridge/internal/service"
	"github.com/onurcolak/messaging-bridge/internal/webhook"
	"github.com/onurcolak/messaging-bridge/internal/worker"
	"github.com/onurcolak/messaging-bridge/pkg/database"
	"github.com/onurcolak/messaging-bridge/pkg/graphapi"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
	"github.com/onurcolak/messaging-bridge/pkg/redis"
	"github.com/onurcolak/messaging-bridge/pkg/validator"
	"github.com/onurcolak/messaging-bridge/routes"

	_ "github.com/onurcolak/messaging-bridge/docs" // swagger docs
)

const enrichmentWorkers = 2

// @title Messaging Bridge API
// @version 1.0
// @description Facebook Messenger and WhatsApp Business inbox integration
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.email onur.colak@useinsider.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @schemes http https
func main() {
	// Load config
	cfg := environments.Load()

	logger.Init(cfg.Log.Level, cfg.Log.Format)

	// Hard-fail if required secrets are missing
	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("JWT_SECRET is required but not set")
	}
	if cfg.Auth.AdminAPIKey == "" {
		logger.Fatalf("ADMIN_API_KEY is required but not set")
	}

	logger.Infof("Starting Messaging Bridge...")

	// Init DB
	db, err := database.NewDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedDemoData(db); err != nil {
			logger.Warnf("Failed to seed demo data: %v", err)
		}
	}

	// Init redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warnf("Redis not available, delivery cache disabled: %v", err)
			redisClient = nil
		}
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	webhookStore := webhook.NewStore(repository.NewWebhookEventRepository(db), cfg.Webhook.MaxReplayAttempts)

	// Platform clients
	facebookClient := graphapi.NewFacebookClient(cfg.Facebook)
	whatsappClient := graphapi.NewWhatsAppClient(cfg.WhatsApp)

	verifier := webhook.NewVerifier(accountRepo, map[domain.Platform]webhook.PlatformSecrets{
		domain.PlatformFacebook: {AppSecret: cfg.Facebook.AppSecret, VerifyToken: cfg.Facebook.VerifyToken},
		domain.PlatformWhatsApp: {AppSecret: cfg.WhatsApp.AppSecret, VerifyToken: cfg.WhatsApp.VerifyToken},
	}, cfg.Webhook.VerifySignatures)

	locks := keylock.New()

	broadcaster := broadcast.New(cfg.Broadcast.SubscriberBuffer, cfg.Broadcast.HeartbeatInterval)
	broadcaster.Start(ctx)

	// Worker pools
	ingestPool := worker.NewPool("ingest", cfg.Worker.PoolSize, cfg.Worker.QueueCapacity)
	if err := ingestPool.Start(ctx); err != nil {
		logger.Fatalf("Failed to start ingest pool: %v", err)
	}
	enrichmentPool := worker.NewPool("enrichment", enrichmentWorkers, cfg.Worker.QueueCapacity)
	if err := enrichmentPool.Start(ctx); err != nil {
		logger.Fatalf("Failed to start enrichment pool: %v", err)
	}

	enricher := enrichment.NewEnricher(customerRepo, accountRepo, map[domain.Platform]enrichment.ProfileFetcher{
		domain.PlatformFacebook: facebookClient,
		domain.PlatformWhatsApp: whatsappClient,
	}, cfg.Enrichment.Timeout)

	deps := processor.Deps{
		Webhooks:      webhookStore,
		Accounts:      accountRepo,
		Customers:     customerRepo,
		Conversations: conversationRepo,
		Messages:      messageRepo,
		Enricher:      enricher,
		Background:    enrichmentPool,
		Events:        broadcaster,
		Locks:         locks,
	}
	// A nil *redis.Client must not become a non-nil interface.
	if redisClient != nil {
		deps.Seen = redisClient
	}
	proc := processor.New(deps)
	ingestor := processor.NewIngestor(webhookStore, ingestPool, proc, cfg.Webhook.SubmitTimeout)

	gateway := outbound.NewGateway(
		map[domain.Platform]outbound.Sender{
			domain.PlatformFacebook: facebookClient,
			domain.PlatformWhatsApp: whatsappClient,
		},
		messageRepo,
		outbound.NewLimiter(cfg.Outbound.RateLimitPerMinute, cfg.Outbound.RateLimitBurst, cfg.Outbound.MaxWait),
		locks,
		broadcaster,
		cfg.Outbound,
	)

	ledger := notification.NewLedger(notificationRepo, conversationRepo, messageRepo, accountRepo, locks, broadcaster)

	// Initialize services
	accountService := service.NewAccountService(accountRepo, broadcaster)
	conversationService := service.NewConversationService(
		accountRepo,
		conversationRepo,
		customerRepo,
		messageRepo,
		gateway,
		cfg.Outbound,
	)

	// Initialize scheduler
	sched := scheduler.NewScheduler(proc, enricher, cfg.Webhook, cfg.Enrichment, cfg.Scheduler.Interval)

	// Auto-start scheduler
	if cfg.Scheduler.AutoStart {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	// Initialize handlers
	h := routes.Handlers{
		Health:       handlers.NewHealthHandler(db, redisClient, broadcaster, ingestPool, enrichmentPool),
		Webhook:      handlers.NewWebhookHandler(verifier, ingestor),
		WebhookEvent: handlers.NewWebhookEventHandler(webhookStore, proc, cfg.Webhook),
		Account:      handlers.NewAccountHandler(accountService),
		Conversation: handlers.NewConversationHandler(conversationService, ledger),
		Event:        handlers.NewEventHandler(broadcaster, cfg.Server.AllowedOrigins),
		Scheduler:    handlers.NewSchedulerHandler(sched, ctx),
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			middlewares.APIKeyHeader,
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, h, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Stop scheduler first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopWithTimeout("scheduler", 5*time.Second, sched.Stop)
	}

	// Drain queued webhook and enrichment work before the context goes away
	stopWithTimeout("ingest pool", 15*time.Second, ingestPool.Stop)
	stopWithTimeout("enrichment pool", 5*time.Second, enrichmentPool.Stop)

	// Cancel context to signal all goroutines to stop
	cancel()

	// Closing subscriptions ends open SSE and WebSocket streams
	broadcaster.Stop()

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}

func stopWithTimeout(name string, timeout time.Duration, stop func() error) {
	done := make(chan error, 1)
	go func() {
		done <- stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Errorf("Error stopping %s: %v", name, err)
		} else {
			logger.Infof("Stopped %s", name)
		}
	case <-time.After(timeout):
		logger.Warnf("Timed out stopping %s, forcing shutdown", name)
	}
}
