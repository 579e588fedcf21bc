/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the spare-parts stock engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env + environment), apply flag overrides
  2. Build zap logger
  3. Open SQLite store
  4. Build ledger and HTTP handler
  5. Start reconciliation scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override environment):
  -port    HTTP server port (APP_PORT, default 8080)
  -db      SQLite database path (DB_PATH, default stock.db)
           Use ":memory:" for in-memory database
  -env     Path to a .env file

ENVIRONMENT:
  APP_PORT, DB_PATH, LOG_LEVEL, RELEASE_POLICY, RESTORE_ON_DELETE,
  RECONCILE_SCHEDULE, CORS_ORIGINS. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop scheduler, close database
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/logger"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

func main() {
	port := flag.String("port", "", "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Log.Level))
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		baseLogger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	ledger := stock.NewLedger(store, cfg.StockLedger(), logger.Named(baseLogger, "ledger"))
	handler := api.NewHandler(store, ledger, logger.Named(baseLogger, "api"))
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	sched := api.NewReconciliationScheduler(store, cfg.Reconcile.Schedule, logger.Named(baseLogger, "scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("db", cfg.Database.Path),
			zap.String("release_policy", cfg.Ledger.ReleasePolicy),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	baseLogger.Info("server stopped")
}
