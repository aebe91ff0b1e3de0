package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/aggregation"
	"github.com/smukkama/beehive-server/internal/api"
	"github.com/smukkama/beehive-server/internal/cache"
	"github.com/smukkama/beehive-server/internal/ingest"
	"github.com/smukkama/beehive-server/internal/logging"
	"github.com/smukkama/beehive-server/internal/metrics"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/internal/protocol"
	"github.com/smukkama/beehive-server/internal/queue"
	"github.com/smukkama/beehive-server/internal/recordstore"
	"github.com/smukkama/beehive-server/internal/scheduler"
	"github.com/smukkama/beehive-server/internal/simulator"
	"github.com/smukkama/beehive-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.Log)
	log.Info("Starting Beehive Server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Record store
	store, closeStore, err := recordstore.Open(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer closeStore()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hiveMetrics, err := metrics.NewHiveMetrics(registry)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	// Recent-readings cache (optional)
	var recent ml.RecentSource = store
	ingestCfg := ingest.Config{Observer: hiveMetrics, Logger: log}
	if cfg.Redis.Enabled() {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.WithError(err).Warn("Redis unavailable, predictions read the record store")
		} else {
			defer client.Close()
			recentCache := cache.NewRecentCache(client, cfg.Redis.RecentSize)
			if latest, err := store.Recent(ctx, recentCache.Size()); err != nil {
				log.WithError(err).Warn("Failed to load readings for the cache")
			} else if err := recentCache.Warm(ctx, latest); err != nil {
				log.WithError(err).Warn("Failed to warm the cache")
			}
			recent = cache.NewCachedHistory(recentCache, store, log)
			ingestCfg.Cache = recentCache
			log.WithField("addr", cfg.Redis.Addr).Info("Recent-readings cache enabled")
		}
	}
	ingestSvc := ingest.New(store, ingestCfg)

	// Model lifecycle
	schema, err := ml.SchemaByName(cfg.Model.FeatureSet)
	if err != nil {
		log.Fatalf("Invalid feature set: %v", err)
	}
	params := ml.DefaultForestParams()
	params.Trees = cfg.Model.Trees
	params.Seed = cfg.Model.Seed
	params.Workers = cfg.Model.Workers
	trainer := ml.NewTrainer(schema, ml.TrainerConfig{MinRows: cfg.Model.MinRows, Forest: params})

	manager := ml.NewManager(store, trainer, ml.NewFileStore(cfg.Model.Path), ml.ManagerConfig{
		RetrainThreshold: cfg.Model.RetrainThreshold,
		RetryBackoff:     cfg.Model.RetryBackoff,
		Logger:           log,
		Observer:         hiveMetrics,
	})
	if current := manager.Current(); current != nil {
		hiveMetrics.ObserveModel(current)
	}
	predictor := ml.NewPredictor(manager, recent, ml.PredictorConfig{Observer: hiveMetrics})
	forecaster := ml.NewForecaster(store, ml.ForecasterConfig{
		MinRows:  cfg.Forecast.MinRows,
		MaxSteps: cfg.Forecast.MaxSteps,
		Observer: hiveMetrics,
	})

	// Background jobs
	sched := scheduler.New(log)
	if err := sched.Every("model-staleness", cfg.Model.RetrainCheckEvery, func(ctx context.Context) {
		if _, err := manager.EnsureModel(ctx); err != nil {
			log.WithError(err).Debug("Periodic model check found no usable model")
		}
	}); err != nil {
		log.Fatalf("Failed to schedule model check: %v", err)
	}

	// Kafka ingestion (optional)
	var producer *queue.Producer
	if cfg.Kafka.Enabled {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1); err != nil {
			log.WithError(err).Info("Topic creation failed (may already exist)")
		}

		producer = queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
		defer producer.Close()

		consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.ConsumerGroup)
		defer consumer.Close()

		batchWriter := queue.NewBatchWriter(consumer, ingestSvc, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval, log)
		batchWriter.Start(ctx)
		defer batchWriter.Stop()
		log.WithField("topic", cfg.Kafka.TopicReadings).Info("Kafka batch writer started")
	}

	// Embedded simulator (optional)
	generator := simulator.NewGenerator(cfg.Simulator.Seed)
	if cfg.Simulator.Enabled {
		var sink simulator.Sink = simulator.NewIngestSink(ingestSvc)
		if cfg.Simulator.Target == "kafka" && producer != nil {
			sink = simulator.NewKafkaSink(producer, protocol.DefaultHive)
		}
		sim := simulator.New(generator, sink, log)
		if err := sched.Every("simulator", cfg.Simulator.Interval, sim.Tick); err != nil {
			log.Fatalf("Failed to schedule simulator: %v", err)
		}
		log.WithField("interval", cfg.Simulator.Interval).Info("Embedded simulator enabled")
	}

	// Print statistics periodically
	if err := sched.Every("stats", time.Minute, func(ctx context.Context) {
		st, err := store.Stats(ctx)
		if err != nil {
			log.WithError(err).Warn("Failed to read statistics")
			return
		}
		status := manager.Status()
		log.WithFields(logrus.Fields{
			"readings":      st.Total,
			"high_activity": st.HighActivity,
			"model_state":   status.State,
			"checkpoint":    status.Checkpoint,
			"jobs":          sched.Stats().Jobs,
		}).Info("Server statistics")
	}); err != nil {
		log.Fatalf("Failed to schedule statistics: %v", err)
	}

	sched.Start(ctx)
	defer sched.Stop()

	// HTTP API
	ctrl := api.New(api.Deps{
		Models:               manager,
		Predictor:            predictor,
		Forecaster:           forecaster,
		Readings:             store,
		Hourly:               aggregation.NewHourlyAggregator(store),
		Ingest:               ingestSvc,
		Generator:            generator,
		Gatherer:             registry,
		AllowedOrigins:       cfg.HTTP.AllowedOrigins,
		DefaultForecastSteps: cfg.Forecast.DefaultSteps,
		Logger:               log,
	})

	go func() {
		if err := ctrl.Echo.Start(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()
	log.WithFields(logrus.Fields{
		"addr":        cfg.HTTP.Addr,
		"model_state": manager.State(),
		"feature_set": schema.Name,
	}).Info("Beehive Server is running")

	// Wait for interrupt signal
	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Echo.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown did not complete")
	}
}
