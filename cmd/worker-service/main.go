package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veridocs/mirror-be/internal/config"
	"github.com/veridocs/mirror-be/internal/cryptox"
	"github.com/veridocs/mirror-be/internal/docstore"
	"github.com/veridocs/mirror-be/internal/jobs"
	"github.com/veridocs/mirror-be/internal/jobs/postgres"
	"github.com/veridocs/mirror-be/internal/migrations"
	"github.com/veridocs/mirror-be/internal/preview"
	"github.com/veridocs/mirror-be/internal/provider"
	"github.com/veridocs/mirror-be/internal/tokens"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
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
		appLogger.Info("RabbitMQ disabled, relying on polling")
	}

	// Token encryption
	cipher, err := cryptox.NewCipher(cfg.Crypto.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	// Document store
	store, err := docstore.NewS3Store(context.Background(), docstore.S3Config{
		Region:       cfg.DocStore.Region,
		Bucket:       cfg.DocStore.Bucket,
		AccessKey:    cfg.DocStore.AccessKey,
		SecretKey:    cfg.DocStore.SecretKey,
		BaseEndpoint: cfg.DocStore.BaseEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize document store: %w", err)
	}

	// Repositories, providers and the token lifecycle manager
	jobRepo := postgres.NewJobRepository(dbClient, appLogger.Logger)
	connRepo := postgres.NewConnectionRepository(dbClient, appLogger.Logger)
	registry := buildRegistry(cfg, appLogger.Logger)
	uploader := tokens.NewManager(cipher, connRepo, registry, appLogger.Logger)

	engine := jobs.NewEngine(&jobs.Config{
		Logger:      appLogger.Logger,
		Jobs:        jobRepo,
		Connections: connRepo,
		Documents:   store,
		Renderer:    preview.NewRenderer(),
		Uploader:    uploader,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	// Create worker instance
	workerInstance := jobs.NewWorker(&jobs.WorkerConfig{
		Logger:          appLogger.Logger,
		Engine:          engine,
		RabbitClient:    rabbitClient,
		PreviewInterval: cfg.Worker.PreviewInterval,
		ExportInterval:  cfg.Worker.ExportInterval,
		UploadInterval:  cfg.Worker.UploadInterval,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
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
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// buildRegistry builds the driver registry for the enabled providers.
// The worker only refreshes tokens and uploads, but drivers are built
// the same way as in the API service.
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
