/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bill engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment, then flags)
  2. Initialize the SQLite or Postgres store
  3. Create API handler with the billing services
  4. Start the daily sweep scheduler
  5. Start server with graceful shutdown

CONFIGURATION (flag / env):
  -port            PORT             HTTP server port (default: 8080)
  -driver          DB_DRIVER        sqlite | postgres (default: sqlite)
  -db              DB_DSN           SQLite path or Postgres URL (default: billing.db)
                                    Use ":memory:" for in-memory SQLite
  -log-level       LOG_LEVEL        (default: info)
  -log-format      LOG_FORMAT       json | text (default: json)
  -sweep-schedule  SWEEP_SCHEDULE   cron spec (default: "5 0 * * *")
  -timezone        TIMEZONE         defines "today" (default: UTC)
  -horizon-months  HORIZON_MONTHS   open-ended rule horizon (default: 18)
  -cors-origins    CORS_ORIGINS     comma separated, CORS off when empty

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run against Postgres
  DB_DRIVER=postgres DB_DSN=postgres://localhost/billing ./server

SEE ALSO:
  - config/config.go: Configuration
  - api/server.go: Router configuration
  - api/scheduler.go: Sweep scheduler
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/bill-engine/api"
	"github.com/warp/bill-engine/billing"
	"github.com/warp/bill-engine/config"
	"github.com/warp/bill-engine/store/postgres"
	"github.com/warp/bill-engine/store/sqlite"
)

// closableStore is a billing.Store that owns a connection.
type closableStore interface {
	billing.Store
	Close() error
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := cfg.NewLogger()

	// Initialize store
	store, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	notifier := billing.LogNotifier{Log: log.WithField("component", "notifier")}
	handler := api.NewHandler(store, notifier, log, cfg.Location, cfg.HorizonMonths)

	scheduler, err := api.NewSweepScheduler(handler.Sweeper, cfg.SweepSchedule, cfg.Location, log.WithField("component", "scheduler"))
	if err != nil {
		log.WithError(err).Fatal("failed to create sweep scheduler")
	}
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"driver":   cfg.Driver,
			"timezone": cfg.Location.String(),
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

func openStore(cfg *config.Config) (closableStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.New(ctx, cfg.DSN)
	default:
		return sqlite.New(cfg.DSN)
	}
}
