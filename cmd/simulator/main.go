package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/logging"
	"github.com/smukkama/beehive-server/internal/protocol"
	"github.com/smukkama/beehive-server/internal/queue"
	"github.com/smukkama/beehive-server/internal/simulator"
	"github.com/smukkama/beehive-server/pkg/config"
)

// Sample hive station: one synthetic reading per SIMULATOR_INTERVAL
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink simulator.Sink
	switch cfg.Simulator.Target {
	case "kafka":
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings)
		defer producer.Close()
		sink = simulator.NewKafkaSink(producer, protocol.DefaultHive)
	case "http":
		sink = simulator.NewHTTPSink(nil, cfg.Simulator.URL)
	}

	log.WithFields(logrus.Fields{
		"target":   cfg.Simulator.Target,
		"interval": cfg.Simulator.Interval,
		"seed":     cfg.Simulator.Seed,
	}).Info("Hive simulator running (Ctrl+C to stop)")

	sim := simulator.New(simulator.NewGenerator(cfg.Simulator.Seed), sink, log)
	sim.Run(ctx, cfg.Simulator.Interval)
	log.Info("Hive simulator stopped")
}
