// Package main provides the main entry point for the policy renewal communication backend
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/welleazyhts/Renewal-Backend/app/handlers"
	"github.com/welleazyhts/Renewal-Backend/app/ingestion"
	"github.com/welleazyhts/Renewal-Backend/app/queue"
	"github.com/welleazyhts/Renewal-Backend/app/router"
	"github.com/welleazyhts/Renewal-Backend/app/scheduler"
	"github.com/welleazyhts/Renewal-Backend/app/services"
	businessflow "github.com/welleazyhts/Renewal-Backend/business_flow"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting renewal backend application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg.Logging)

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// setupLogging routes the standard logger to stdout, a rotated file, or both
func setupLogging(cfg config.LoggingConfig) {
	if cfg.Output == "stdout" || cfg.FilePath == "" {
		return
	}

	fileWriter := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	switch cfg.Output {
	case "file":
		log.SetOutput(fileWriter)
	default:
		log.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pooling
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.UploadJob{},
		&models.RowResult{},
		&models.PolicyHolder{},
		&models.CampaignJob{},
		&models.MessageTask{},
		&models.DeliveryReceipt{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// initializeAdapters builds the provider adapter per channel. A channel
// whose provider URL is "mock" gets an always-accepting adapter so the
// service can run against no real providers.
func initializeAdapters(cfg *config.ProductionConfig) *services.AdapterRegistry {
	var adapters []services.ChannelAdapter

	if cfg.Email.ProviderURL == "mock" {
		adapters = append(adapters, services.NewMockChannelAdapter(models.ChannelEmail))
	} else {
		adapters = append(adapters, services.NewEmailAdapter(&cfg.Email))
	}
	if cfg.SMS.ProviderURL == "mock" {
		adapters = append(adapters, services.NewMockChannelAdapter(models.ChannelSMS))
	} else {
		adapters = append(adapters, services.NewSMSAdapter(&cfg.SMS))
	}
	if cfg.WhatsApp.ProviderURL == "mock" {
		adapters = append(adapters, services.NewMockChannelAdapter(models.ChannelWhatsApp))
	} else {
		adapters = append(adapters, services.NewWhatsAppAdapter(&cfg.WhatsApp))
	}

	return services.NewAdapterRegistry(adapters...)
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	uploadRepo := repository.NewUploadJobRepository(db)
	rowRepo := repository.NewRowResultRepository(db)
	holderRepo := repository.NewPolicyHolderRepository(db)
	campaignRepo := repository.NewCampaignJobRepository(db)
	taskRepo := repository.NewMessageTaskRepository(db)
	receiptRepo := repository.NewDeliveryReceiptRepository(db)

	// Initialize queue plumbing
	pauses := queue.NewPauseStore(rc, cfg.Cache.RedisPrefix)
	limiter := queue.NewChannelLimiter()
	limiter.SetLimit(models.ChannelEmail, cfg.Email.RateLimit)
	limiter.SetLimit(models.ChannelSMS, cfg.SMS.RateLimit)
	limiter.SetLimit(models.ChannelWhatsApp, cfg.WhatsApp.RateLimit)
	queueClient := queue.NewClient(taskRepo, pauses, limiter, cfg.Queue)

	// Initialize services
	notifier := services.NewRedisProgressNotifier(rc, cfg.Cache.RedisPrefix)
	registry := initializeAdapters(cfg)
	fileValidator := ingestion.NewValidator(cfg.Ingestion)

	// Initialize flows
	uploadFlow := businessflow.NewUploadFlow(
		uploadRepo,
		rowRepo,
		holderRepo,
		fileValidator,
		notifier,
	)

	campaignFlow := businessflow.NewCampaignFlow(
		campaignRepo,
		holderRepo,
		taskRepo,
		queueClient,
		notifier,
		cfg.Queue,
		db,
	)

	deliveryFlow := businessflow.NewDeliveryFlow(
		taskRepo,
		receiptRepo,
	)

	// Initialize handlers
	uploadHandler := handlers.NewUploadHandler(uploadFlow)
	campaignHandler := handlers.NewCampaignHandler(campaignFlow)
	webhookHandler := handlers.NewWebhookHandler(deliveryFlow)

	// Initialize router
	appRouter := router.NewFiberRouter(
		uploadHandler,
		campaignHandler,
		webhookHandler,
		cfg,
	)

	// Start campaign activation loop
	sched := scheduler.NewCampaignScheduler(campaignRepo, campaignFlow, log.Default(), cfg.Scheduler.CampaignInterval)
	stopFuncs = append(stopFuncs, sched.Start(context.Background()))

	// Start dispatch workers
	dispatcher := scheduler.NewDispatcher(queueClient, registry, log.Default(), cfg.Queue.WorkerCount)
	stopFuncs = append(stopFuncs, dispatcher.Start(context.Background()))

	// Start lease and delivery sweeps
	sweeper := scheduler.NewSweeper(queueClient, deliveryFlow, cfg.Scheduler, log.Default())
	stopSweeper, err := sweeper.Start(context.Background())
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, stopSweeper)

	// Create application struct from FiberRouter
	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
