// Package recordstore opens the configured reading store.
package recordstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/database"
	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/memstore"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/pkg/config"
)

// Store is everything the services need from a record store
type Store interface {
	ml.History
	InsertReading(ctx context.Context, r *hive.SensorReading) error
	InsertReadings(ctx context.Context, readings []*hive.SensorReading) error
	ReadingsSince(ctx context.Context, since time.Time) ([]hive.SensorReading, error)
	Stats(ctx context.Context) (hive.Stats, error)
}

// Open connects to the configured driver and runs its migrations. The
// returned close function releases the connection.
func Open(cfg config.DatabaseConfig, log logrus.FieldLogger) (Store, func() error, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn("Using in-memory record store, readings are lost on exit")
		return memstore.New(), func() error { return nil }, nil
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(cfg.MigrationsPath(), log); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithField("driver", db.Driver()).Info("Connected to record store")
	return db, db.Close, nil
}
