package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/coregx/broker"
	"github.com/coregx/broker/adapters/memory"
	"github.com/coregx/broker/adapters/relica"
	"github.com/coregx/broker/cmd/broker-server/internal/api"
	"github.com/coregx/broker/cmd/broker-server/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and the delivery worker",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	serveCmd.Flags().Int("port", 8080, "HTTP listen port")
	serveCmd.Flags().String("seed", "", "YAML seed file applied at startup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("seed") {
		cfg.Broker.SeedFile, _ = cmd.Flags().GetString("seed")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("no JWT secret configured (set %s_AUTH_JWT_SECRET environment variable)", config.EnvPrefix)
	}

	slogger, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	logger := broker.NewSlogLogger(slogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var notifications broker.NotificationService = &broker.NoOpNotificationService{}
	if cfg.Broker.EnableNotifications {
		notifications = broker.NewLoggingNotificationService(logger)
	}

	b, err := broker.New(
		broker.WithStore(store),
		broker.WithBrokerLogger(logger),
		broker.WithBrokerNotifications(notifications),
		broker.WithCache(cfg.Broker.CacheSize, cfg.Broker.Policy()),
		broker.WithQueueDefaults(cfg.Broker.DefaultMaxDepth, cfg.Broker.DefaultExpiration),
	)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	if err := b.Load(ctx); err != nil {
		return fmt.Errorf("failed to load broker state: %w", err)
	}

	if cfg.Broker.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.Broker.SeedFile)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, b, uuid.NewString()); err != nil {
			return fmt.Errorf("failed to apply seed: %w", err)
		}
		logger.Infof("Seed applied: %d clients, %d topics, %d rate limits",
			len(seed.Clients), len(seed.Topics), len(seed.RateLimits))
	}

	worker, err := broker.NewDeliveryWorker(
		broker.WithEngine(b.Engine()),
		broker.WithGateway(broker.NewWebhookGateway(nil)),
		broker.WithLogger(logger),
		broker.WithDeadLetters(store.DeadLetters),
		broker.WithBatchSize(cfg.Broker.BatchSize),
		broker.WithNotifications(notifications),
		broker.WithRateLimitCleanup(b.RateLimiter()),
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	go worker.Run(ctx, cfg.Broker.WorkerInterval)

	jwtAuth := api.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(b, logger)
	router := api.NewRouter(handler, api.NewMiddleware(jwtAuth, logger))

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("Starting broker server v%s on %s (retry schedule %s)", api.Version, addr, worker.RetrySchedule())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server forced to shutdown: %v", err)
	}
	cancel()
	logger.Info("Server stopped gracefully")
	return nil
}

// openStore returns the configured store. Without a database URL the
// broker state lives in memory only.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger broker.Logger) (broker.Store, func(), error) {
	if cfg.URL == "" {
		logger.Warnf("No database configured, state is kept in memory")
		return memory.NewStore(), func() {}, nil
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return broker.Store{}, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Errorf("Failed to close database: %v", err)
		}
	}

	if cfg.AutoMigrate {
		if err := broker.Migrate(ctx, db); err != nil {
			closeDB()
			return broker.Store{}, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	logger.Infof("Database connection established (%s)", db.DriverName())
	return relica.NewStore(db.DB, db.DriverName()), closeDB, nil
}
