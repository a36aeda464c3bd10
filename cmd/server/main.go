// Package main is the entry point for the farmsight-analytics server.
//
// Responsibilities:
//   - Load and validate configuration from YAML file and environment variables
//   - Build the structured logger with optional file rotation
//   - Open the SQLite run store and apply migrations
//   - Start the HTTP server (detection API, WebSocket stream, metrics)
//   - Implement graceful shutdown on SIGINT/SIGTERM
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/farmsight/farmsight-analytics/internal/config"
	"github.com/farmsight/farmsight-analytics/internal/db"
	"github.com/farmsight/farmsight-analytics/internal/logging"
	"github.com/farmsight/farmsight-analytics/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/farmsight/config.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	mgr := config.NewManager(*configPath)
	if err := mgr.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := db.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open run store",
			zap.String("path", cfg.Database.Path),
			zap.Error(err),
		)
	}
	defer store.Close()

	srv, err := server.NewServer(cfg, logger, store)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("received shutdown signal")

	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
