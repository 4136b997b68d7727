package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pajamaparty/telemetry/internal/config"
	"pajamaparty/telemetry/internal/database"
	"pajamaparty/telemetry/internal/handler"
	"pajamaparty/telemetry/internal/logger"
	"pajamaparty/telemetry/internal/ratelimit"
	"pajamaparty/telemetry/internal/router"
	"pajamaparty/telemetry/internal/storage"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting telemetry collector",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	// Initialize database
	db, err := database.New(cfg.Collector.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	// Initialize event store and rate limiter
	eventStore := storage.NewEventStore(db.DB, log.Logger)
	limiter := ratelimit.New()

	// Build HTTP handler
	eventsHandler := handler.NewEventsHandler(eventStore, cfg.Collector.MaxBodyBytes, log.Logger)
	routes := router.New(eventsHandler, limiter, cfg, log.Logger)

	addr := fmt.Sprintf(":%d", cfg.Collector.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      routes,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Collector listening",
			zap.String("address", addr),
			zap.String("storage_path", cfg.Collector.StoragePath),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Collector server error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("Server shutdown error", zap.Error(err))
	}

	log.Info("Telemetry collector stopped")
}
