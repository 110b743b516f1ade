package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/veridocs/mirror-be/internal/api/handler"
	"github.com/veridocs/mirror-be/internal/api/router"
	"github.com/veridocs/mirror-be/internal/config"
	"github.com/veridocs/mirror-be/internal/cryptox"
	"github.com/veridocs/mirror-be/internal/jobs/postgres"
	"github.com/veridocs/mirror-be/internal/migrations"
	"github.com/veridocs/mirror-be/internal/oauthstate"
	"github.com/veridocs/mirror-be/internal/provider"
	"github.com/veridocs/mirror-be/shared/logger"
	"github.com/veridocs/mirror-be/shared/postgresql"
	"github.com/veridocs/mirror-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Apply schema migrations
	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := migrations.Up(migrateCtx, dbClient.GetDB().DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize RabbitMQ client (optional wake-up channel)
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Host != "" {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		appLogger.Info("RabbitMQ connection established")
	} else {
		appLogger.Info("RabbitMQ disabled, workers rely on polling")
	}

	// Token encryption and OAuth state signing
	cipher, err := cryptox.NewCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	stateTTL := cfg.OAuth.StateTTL
	if stateTTL <= 0 {
		stateTTL = oauthstate.DefaultTTL
	}
	stateSigner := oauthstate.NewSigner([]byte(cfg.OAuth.StateSecret), stateTTL)

	registry := buildRegistry(cfg, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, dbClient, rabbitClient, registry, stateSigner, cipher)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.Retries,
		PublishRetryDelay:  cfg.Publish.RetryDelay,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// buildRegistry builds the driver registry for the enabled providers.
// Each driver's redirect URL is the shared callback base plus its name.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *provider.Registry {
	callbackBase := strings.TrimSuffix(cfg.OAuth.RedirectURL, "/")

	var drivers []provider.Driver

	if cfg.Providers.Drive.Enabled {
		drivers = append(drivers, provider.NewDriveDriver(provider.DriveConfig{
			ClientID:     cfg.Providers.Drive.ClientID,
			ClientSecret: cfg.Providers.Drive.ClientSecret,
			RedirectURL:  callbackBase + "/" + provider.NameDrive,
			AuthURL:      provider.DriveAuthURL,
			TokenURL:     provider.DriveTokenURL,
			APIBase:      provider.DriveAPIBase,
			UploadBase:   provider.DriveUploadBase,
			Scopes:       cfg.Providers.Drive.Scopes,
			Logger:       logger,
		}))
	}

	if cfg.Providers.Graph.Enabled {
		drivers = append(drivers, provider.NewGraphDriver(provider.GraphConfig{
			ClientID:     cfg.Providers.Graph.ClientID,
			ClientSecret: cfg.Providers.Graph.ClientSecret,
			RedirectURL:  callbackBase + "/" + provider.NameGraph,
			AuthURL:      provider.GraphAuthURL,
			TokenURL:     provider.GraphTokenURL,
			APIBase:      provider.GraphAPIBase,
			Scopes:       cfg.Providers.Graph.Scopes,
			Logger:       logger,
		}))
	}

	return provider.NewRegistry(drivers...)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	dbClient *postgresql.Client,
	rabbitClient *rabbitmq.Client,
	registry *provider.Registry,
	stateSigner *oauthstate.Signer,
	cipher *cryptox.Cipher,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		DBClient:     dbClient,
		RabbitClient: rabbitClient,
		Jobs:         postgres.NewJobRepository(dbClient, logger),
		Connections:  postgres.NewConnectionRepository(dbClient, logger),
		Registry:     registry,
		StateSigner:  stateSigner,
		Cipher:       cipher,
		FrontendURL:  cfg.OAuth.FrontendURL,
	}

	return router.SetupRouter(handlerDeps, cfg.Server.APIKey)
}
