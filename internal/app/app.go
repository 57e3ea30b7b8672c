// Package app provides the main application lifecycle management for the
// harvester service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/socialharvest/harvester/internal/api"
	"github.com/socialharvest/harvester/internal/config"
	"github.com/socialharvest/harvester/internal/database"
	"github.com/socialharvest/harvester/internal/ingest"
	"github.com/socialharvest/harvester/internal/logger"
	"github.com/socialharvest/harvester/internal/metrics"
	"github.com/socialharvest/harvester/internal/provider"
	"github.com/socialharvest/harvester/internal/service"
	"github.com/socialharvest/harvester/internal/worker"
)

const (
	// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	redisPingTimeout = 5 * time.Second
)

// App holds the harvester service and all its dependencies.
type App struct {
	config       *config.Config
	logger       logger.Logger
	db           *sqlx.DB
	redisClient  *redis.Client
	poller       *worker.Poller
	ingestWorker *worker.IngestWorker
	httpServer   *http.Server
	version      string
}

// Options contains configuration for creating a new App.
type Options struct {
	ConfigPath string
	Version    string
}

// New creates an App with all dependencies initialized and connections
// verified.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "harvester"),
		logger.String("version", opts.Version),
	)

	capabilities, err := cfg.CapabilitySet()
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("load capabilities: %w", err)
	}

	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		_ = appLogger.Sync()
		return nil, err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		database.Close(db)
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", pingErr)
	}

	folders := database.NewFolderRepository(db)
	requests := database.NewRequestRepository(db)
	records := database.NewRecordRepository(db)
	audit := database.NewAuditRepository(db)

	m := metrics.New()
	providerClient := provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.Token,
		cfg.Provider.CallbackURL,
		cfg.Provider.RequestTimeout,
	)

	rollup := service.NewRollup(requests, appLogger)
	jobs := service.NewJobService(folders, requests, records, providerClient, rollup, capabilities, m, appLogger)

	queue := ingest.NewQueue(redisClient, cfg.Redis.QueueKey)
	processor := ingest.NewProcessor(db, requests, records, audit, rollup, appLogger)

	poller := worker.NewPoller(requests, providerClient, processor, rollup,
		worker.PollerConfig{
			PollInterval: cfg.Poller.Interval,
			BatchSize:    cfg.Poller.BatchSize,
		}, m, appLogger)

	ingestWorker := worker.NewIngestWorker(queue, processor,
		worker.IngestWorkerConfig{
			MaxAttempts: cfg.Redis.QueueAttempts,
		}, m, appLogger)

	router := api.NewRouter(jobs, queue, requests, audit, cfg, m, appLogger,
		func() error { return db.Ping() },
		func() error { return redisClient.Ping(context.Background()).Err() },
	)

	return &App{
		config:       cfg,
		logger:       appLogger,
		db:           db,
		redisClient:  redisClient,
		poller:       poller,
		ingestWorker: ingestWorker,
		httpServer:   router.NewServer(),
		version:      opts.Version,
	}, nil
}

// Run starts the workers and the HTTP server and blocks until a shutdown
// signal arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	a.ingestWorker.Start(workerCtx)
	a.poller.Start(workerCtx)

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening",
			logger.String("address", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	return a.waitForShutdown(workerCancel, serverErr)
}

// waitForShutdown handles graceful shutdown.
func (a *App) waitForShutdown(workerCancel context.CancelFunc, serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var shutdownErr error

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()))
		a.shutdownHTTPServer()

	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Server error", logger.Error(err))
			shutdownErr = err
		}
	}

	workerCancel()
	a.poller.Stop()
	a.ingestWorker.Stop()

	a.logger.Info("Service stopped")
	return shutdownErr
}

// shutdownHTTPServer stops accepting new requests and drains in-flight ones.
func (a *App) shutdownHTTPServer() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("HTTP server stopped")
	}
}

// Close cleans up resources.
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	if closeErr := database.Close(a.db); closeErr != nil {
		a.logger.Warn("Failed to close database", logger.Error(closeErr))
	}
	return a.logger.Sync()
}

// Logger returns the application logger.
func (a *App) Logger() logger.Logger {
	return a.logger
}
