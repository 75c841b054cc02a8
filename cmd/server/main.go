/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fee/fine engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags (FEEFINE_* environment variables as defaults)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Create API handler and refund report audit
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: feefines.db)
                   Use ":memory:" for in-memory database
  -timezone        Default tenant timezone (default: UTC)
  -report-workers  Accounts processed concurrently per report (default: 8)
  -attribution     fifo | cumulative (default: fifo)
  -log-level       debug | info | warn | error
  -dev             Development logging
  -audit-interval  Refund report audit interval (default: 1h, 0 disables)
  -audit-lookback  Days covered by each audit (default: 30)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with in-memory database and demo data
  ./server -db=":memory:" -dev
  curl -XPOST localhost:8080/api/scenarios/load -d '{"scenario_id":"multiple-accounts"}'

  # Run with cumulative attribution
  FEEFINE_ATTRIBUTION=cumulative ./server

SEE ALSO:
  - config.go: Flags, environment and logger
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/feefine-engine/api"
	"github.com/warp/feefine-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.Dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("db", cfg.DBPath), zap.Error(err))
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, cfg.ReportConfig(), logger)

	audit := api.NewAuditScheduler(handler)
	audit.CheckInterval = cfg.AuditInterval
	audit.Lookback = cfg.AuditLookback
	audit.Enabled = cfg.AuditInterval > 0
	handler.Audit = audit
	audit.Start()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.String("timezone", cfg.Timezone),
			zap.String("attribution", cfg.Attribution))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	audit.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("server stopped")
}
