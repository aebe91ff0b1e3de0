// Package ingest validates, labels and stores incoming hive readings.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/hive"
)

// Store is the write side of the record store
type Store interface {
	InsertReading(ctx context.Context, r *hive.SensorReading) error
	InsertReadings(ctx context.Context, readings []*hive.SensorReading) error
}

// Cache receives every stored reading
type Cache interface {
	Push(ctx context.Context, r hive.SensorReading) error
}

// Observer is notified after readings are stored
type Observer interface {
	ReadingsIngested(source string, n int)
}

// Config configures a Service. Cache and Observer are optional.
type Config struct {
	Cache    Cache
	Observer Observer
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

// Service is the single entry point for new readings
type Service struct {
	store    Store
	cache    Cache
	observer Observer
	log      logrus.FieldLogger
	now      func() time.Time
}

// New creates an ingestion service writing to store
func New(store Store, cfg Config) *Service {
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:    store,
		cache:    cfg.Cache,
		observer: cfg.Observer,
		log:      cfg.Logger.WithField("component", "ingest"),
		now:      cfg.Now,
	}
}

// Ingest stores one reading. The timestamp defaults to now and the labels
// are always recomputed from the raw fields.
func (s *Service) Ingest(ctx context.Context, r *hive.SensorReading, source string) error {
	if err := s.prepare(r); err != nil {
		return err
	}
	if err := s.store.InsertReading(ctx, r); err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}

	s.push(ctx, *r)
	s.count(source, 1)
	return nil
}

// IngestBatch stores readings in one write. Nothing is stored if any reading
// is invalid.
func (s *Service) IngestBatch(ctx context.Context, readings []*hive.SensorReading, source string) error {
	if len(readings) == 0 {
		return nil
	}
	for i, r := range readings {
		if err := s.prepare(r); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
	}
	if err := s.store.InsertReadings(ctx, readings); err != nil {
		return fmt.Errorf("failed to store %d readings: %w", len(readings), err)
	}

	for _, r := range readings {
		s.push(ctx, *r)
	}
	s.count(source, len(readings))
	s.log.WithFields(logrus.Fields{"source": source, "count": len(readings)}).Debug("Stored reading batch")
	return nil
}

func (s *Service) prepare(r *hive.SensorReading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	r.Timestamp = r.Timestamp.UTC()
	r.Derive()
	return r.Validate()
}

// push is best effort; the record store stays the source of truth
func (s *Service) push(ctx context.Context, r hive.SensorReading) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Push(ctx, r); err != nil {
		s.log.WithError(err).WithField("reading_id", r.ID).Warn("Failed to cache reading")
	}
}

func (s *Service) count(source string, n int) {
	if s.observer != nil {
		s.observer.ReadingsIngested(source, n)
	}
}
