package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	cfg "github.com/telepay/reconciler/config"
	"github.com/telepay/reconciler/internal/events"
	"github.com/telepay/reconciler/internal/handlers"
	"github.com/telepay/reconciler/internal/tron"
	"github.com/telepay/reconciler/internal/usecases"
	"github.com/telepay/reconciler/internal/usecases/repository"
	"github.com/telepay/reconciler/internal/workers"
	"github.com/telepay/reconciler/pkg/database"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	// Устанавливаем timezone UTC
	time.Local = time.UTC

	// .env is optional, env vars win either way
	_ = godotenv.Load()

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Определяем путь к миграциям
	migrationsPath := "./migrations"
	if workDir, err := os.Getwd(); err == nil {
		if _, err := os.Stat(filepath.Join(workDir, "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "migrations")
		} else if _, err := os.Stat(filepath.Join(workDir, "..", "migrations")); !os.IsNotExist(err) {
			migrationsPath = filepath.Join(workDir, "..", "migrations")
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting application with configuration",
		"debug", config.App.Debug,
		"chain_api", config.Chain.APIURL,
		"deposit_address", config.Chain.DepositAddress,
		"server_port", config.HTTP.Port,
		"database_url", config.DB.DatabaseURL)

	withdrawFee, err := decimal.NewFromString(config.Agents.WithdrawFeePercent)
	if err != nil {
		log.Fatalf("invalid withdraw fee percent %q: %v", config.Agents.WithdrawFeePercent, err)
	}

	// Connect to Database
	pg, err := database.New(config,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		slog.Error("postgres connection failed", slog.String("error", err.Error()))
		return
	}
	defer pg.Close()

	// Run database migrations
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		log.Fatal(err)
	}
	logger.Info("Database migrations completed successfully")

	// Create repositories
	ordersRepository := repository.NewOrdersRepository(logger, pg)
	usersRepository := repository.NewUsersRepository(logger, pg)
	transfersRepository := repository.NewTransfersRepository(logger, pg)
	agentsRepository := repository.NewAgentsRepository(logger, pg)
	withdrawalsRepository := repository.NewWithdrawalsRepository(logger, pg)

	// Create usecases and components
	notifier := events.NewLogNotifier(logger)

	orderService := usecases.NewOrderService(logger, ordersRepository,
		time.Duration(config.Workers.OrderExpiration)*time.Minute)
	creditService := usecases.NewCreditService(logger, ordersRepository, usersRepository,
		agentsRepository, pg.Transactor, notifier)
	agentService := usecases.NewAgentService(logger, agentsRepository, withdrawalsRepository,
		pg.Transactor, notifier, withdrawFee)

	tronClient := tron.NewClient(logger, config.Chain.APIURL, config.Chain.APIKey, config.Chain.USDTContract)

	transferProcessor := usecases.NewTransferProcessor(logger, orderService, creditService,
		transfersRepository, tronClient,
		config.Chain.RequiredConfirmations,
		time.Duration(config.Workers.MatchWindow)*time.Minute)
	rescanService := usecases.NewRescanService(logger, orderService, transfersRepository, transferProcessor)

	// Initialize and run workers
	chainWatcher := workers.NewChainWatcher(logger, tronClient, transfersRepository, transferProcessor,
		config.Chain.DepositAddress,
		time.Duration(config.Workers.ChainPollInterval)*time.Second)
	go chainWatcher.Run(ctx)

	expiryReaper := workers.NewExpiryReaper(logger, orderService,
		time.Duration(config.Workers.OrderCleanupInterval)*time.Minute)
	go expiryReaper.Start(ctx)

	// Create handlers
	webhookHandler := handlers.NewWebhookHandler(logger, orderService, creditService, config.Gateway.SignKey)
	adminHandler := handlers.NewAdminHandler(logger, orderService, agentService, rescanService, transfersRepository)

	// Create router
	router := mux.NewRouter()
	webhookHandler.RegisterRoutes(router)
	adminHandler.RegisterRoutes(router)

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Wrap router in CORS middleware
	handler := c.Handler(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err = server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Stop the workers first so no credit lands mid-shutdown
	cancel()

	// Give 5 seconds to complete current requests
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}
