// Traffic generator for the telemetry collector. Drives a real event
// batcher at a configurable rate so ingestion, rate limiting and offline
// recovery can be exercised against a running collector.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pajamaparty/telemetry/internal/batcher"
	"pajamaparty/telemetry/internal/client"
	"pajamaparty/telemetry/internal/config"
	"pajamaparty/telemetry/internal/database"
	"pajamaparty/telemetry/internal/logger"
	"pajamaparty/telemetry/internal/queue"

	"go.uber.org/zap"
)

var eventNames = []string{
	"dream_submitted",
	"party_signup",
	"station_search",
	"place_viewed",
	"map_opened",
}

var stations = []string{
	"Berlin Hbf",
	"Paris Gare de l'Est",
	"Wien Hbf",
	"Madrid Chamartín",
	"Ljubljana",
	"Zürich HB",
	"Amsterdam Centraal",
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	rate := flag.Int("rate", 10, "Events tracked per second")
	duration := flag.Duration("duration", 30*time.Second, "How long to generate traffic (0 = until interrupted)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting load generator",
		zap.String("collector_url", cfg.Agent.CollectorURL),
		zap.Int("rate", *rate),
		zap.Duration("duration", *duration),
	)

	// Local database backs the offline queue so interrupted runs resume.
	db, err := database.New(cfg.Agent.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize local database", zap.Error(err))
	}
	defer db.Close()

	collectorClient := client.New(
		cfg.Agent.CollectorURL,
		cfg.Agent.APIKey,
		time.Duration(cfg.Agent.RequestTimeout)*time.Second,
		cfg.Agent.RetryAttempts,
		time.Duration(cfg.Agent.RetryDelayMs)*time.Millisecond,
		cfg.Agent.Compress,
		log.Logger,
	)

	offline := queue.NewOfflineQueue(cfg.Agent.MaxOfflineEvents, queue.NewSQLiteStore(db.DB), log.Logger)

	b := batcher.New(collectorClient, offline, batcher.Options{
		MaxBatchSize:  cfg.Agent.BatchSize,
		FlushInterval: time.Duration(cfg.Agent.FlushInterval) * time.Second,
		Context: batcher.Context{
			Page:       "/dream-generator",
			UserAgent:  "pajama-loadgen/1.0",
			Connection: "4g",
			ViewportW:  1280,
			ViewportH:  800,
		},
	}, log.Logger)

	monitor := batcher.NewMonitor(b, collectorClient,
		time.Duration(cfg.Agent.HealthPollInterval)*time.Second, log.Logger)
	monitor.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	running := true
	for running {
		select {
		case <-ticker.C:
			name := eventNames[rand.Intn(len(eventNames))]
			b.Track(name, map[string]any{
				"station": stations[rand.Intn(len(stations))],
				"count":   rand.Intn(5) + 1,
			}, "")
		case <-deadline:
			log.Info("Duration reached")
			running = false
		case sig := <-quit:
			log.Info("Received shutdown signal", zap.String("signal", sig.String()))
			running = false
		}
	}

	// Unload path: one immediate flush, then stop everything.
	if err := b.Flush(true); err != nil {
		log.Warn("Immediate flush failed", zap.Error(err))
	}
	monitor.Stop()
	b.Destroy()

	m := b.Metrics()
	log.Info("Load generation finished",
		zap.Int64("events_tracked", m.EventsTracked),
		zap.Int64("batches_sent", m.BatchesSent),
		zap.Int64("batches_failed", m.BatchesFailed),
		zap.Float64("avg_batch_size", m.AvgBatchSize),
		zap.Duration("avg_flush_duration", m.AvgFlushDuration),
		zap.Int("offline_pending", m.OfflineQueueSize),
	)
}
