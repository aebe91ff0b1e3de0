package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/cache"
	"github.com/smukkama/beehive-server/internal/ingest"
	"github.com/smukkama/beehive-server/internal/logging"
	"github.com/smukkama/beehive-server/internal/queue"
	"github.com/smukkama/beehive-server/internal/recordstore"
	"github.com/smukkama/beehive-server/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.Log)
	log.Info("Starting Database Writer Service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := recordstore.Open(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer closeStore()

	// Keep the server's recent-readings cache current
	ingestCfg := ingest.Config{Logger: log}
	if cfg.Redis.Enabled() {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, writing to the record store only")
		} else {
			defer client.Close()
			ingestCfg.Cache = cache.NewRecentCache(client, cfg.Redis.RecentSize)
		}
	}
	ingestSvc := ingest.New(store, ingestCfg)

	// Create Kafka consumer
	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.ConsumerGroup)
	defer consumer.Close()

	batchWriter := queue.NewBatchWriter(consumer, ingestSvc, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval, log)
	batchWriter.Start(ctx)

	// Print consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := consumer.Stats()
				log.WithFields(logrus.Fields{
					"messages": stats.Messages,
					"bytes":    stats.Bytes,
					"errors":   stats.Errors,
				}).Info("Consumer stats")
			case <-ctx.Done():
				return
			}
		}
	}()

	log.WithFields(logrus.Fields{
		"topic":          cfg.Kafka.TopicReadings,
		"batch_size":     cfg.Kafka.BatchSize,
		"flush_interval": cfg.Kafka.FlushInterval,
	}).Info("Database Writer Service is running")

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	batchWriter.Stop()
	log.Info("Database Writer Service stopped")
}
