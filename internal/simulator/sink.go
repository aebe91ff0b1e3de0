package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/protocol"
)

// Sink delivers a generated reading
type Sink interface {
	Send(ctx context.Context, r hive.SensorReading) error
}

// Publisher is the Kafka producer side used by KafkaSink
type Publisher interface {
	PublishReading(ctx context.Context, msg *protocol.ReadingMessage) error
}

// KafkaSink publishes readings to the readings topic
type KafkaSink struct {
	publisher Publisher
	hive      string
}

// NewKafkaSink creates a sink publishing under the given hive key
func NewKafkaSink(publisher Publisher, hive string) *KafkaSink {
	return &KafkaSink{publisher: publisher, hive: hive}
}

func (s *KafkaSink) Send(ctx context.Context, r hive.SensorReading) error {
	msg := &protocol.ReadingMessage{
		Hive:       s.hive,
		Source:     protocol.SourceSimulator,
		ReceivedAt: time.Now().UTC(),
		Data:       protocol.NewReadingData(r),
	}
	return s.publisher.PublishReading(ctx, msg)
}

// HTTPSink posts readings to the ingest endpoint
type HTTPSink struct {
	client *http.Client
	url    string
}

// NewHTTPSink creates a sink posting to url
func NewHTTPSink(client *http.Client, url string) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSink{client: client, url: url}
}

func (s *HTTPSink) Send(ctx context.Context, r hive.SensorReading) error {
	body, err := json.Marshal(protocol.NewReadingData(r))
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post reading: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ingest endpoint returned %s", resp.Status)
	}
	return nil
}

// Ingester stores readings directly, bypassing any transport
type Ingester interface {
	Ingest(ctx context.Context, r *hive.SensorReading, source string) error
}

// IngestSink hands readings to the ingestion service in-process
type IngestSink struct {
	ingester Ingester
}

// NewIngestSink creates an in-process sink
func NewIngestSink(ingester Ingester) *IngestSink {
	return &IngestSink{ingester: ingester}
}

func (s *IngestSink) Send(ctx context.Context, r hive.SensorReading) error {
	return s.ingester.Ingest(ctx, &r, protocol.SourceSimulator)
}

// Simulator generates one reading per tick and sends it to a sink
type Simulator struct {
	gen  *Generator
	sink Sink
	log  logrus.FieldLogger
	now  func() time.Time
}

// New creates a simulator
func New(gen *Generator, sink Sink, log logrus.FieldLogger) *Simulator {
	return &Simulator{gen: gen, sink: sink, log: log.WithField("component", "simulator"), now: time.Now}
}

// Tick generates and sends one reading. Delivery failures are logged.
func (s *Simulator) Tick(ctx context.Context) {
	r := s.gen.Next(s.now())
	if err := s.sink.Send(ctx, r); err != nil {
		s.log.WithError(err).Warn("Failed to send simulated reading")
		return
	}
	s.log.WithFields(logrus.Fields{
		"active_bees": r.ActiveBees,
		"activity":    r.Activity,
	}).Debug("Sent simulated reading")
}

// Run ticks every interval until ctx is done
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}
