package database

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/pkg/config"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations", "sqlite")
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "hive.db")}
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	require.NoError(t, db.RunMigrations(migrationsDir(t), log))
	return db
}

func insert(t *testing.T, db *DB, minute, bees int, noise *float64) hive.SensorReading {
	t.Helper()
	r := hive.NewReading(t0.Add(time.Duration(minute)*time.Minute), 20+float64(minute), 55, 30, bees, noise)
	require.NoError(t, db.InsertReading(context.Background(), &r))
	return r
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "whatever")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}

func TestSQLite_InsertAndRead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := insert(t, db, 0, 120, hive.Float(72.5))
	insert(t, db, 2, 650, nil)
	insert(t, db, 1, 480, hive.Float(40))
	assert.Equal(t, int64(1), first.ID)

	asc, err := db.Readings(ctx, ml.Query{})
	require.NoError(t, err)
	require.Len(t, asc, 3)
	assert.Equal(t, 120, asc[0].ActiveBees)
	assert.Equal(t, 480, asc[1].ActiveBees)
	assert.Equal(t, 650, asc[2].ActiveBees)

	assert.True(t, t0.Equal(asc[0].Timestamp))
	require.NotNil(t, asc[0].NoiseDB)
	assert.Equal(t, 72.5, *asc[0].NoiseDB)
	assert.Equal(t, hive.NoiseStatusModerate, asc[0].NoiseStatus)
	assert.Nil(t, asc[2].NoiseDB)
	assert.Empty(t, asc[2].NoiseStatus)
	assert.Equal(t, 1, asc[2].HighActivity)
	assert.Equal(t, hive.ActivityHigh, asc[2].Activity)

	desc, err := db.Readings(ctx, ml.Query{Order: ml.Descending, Limit: 2})
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, 650, desc[0].ActiveBees)
	assert.Equal(t, 480, desc[1].ActiveBees)
}

func TestSQLite_RecentCountStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 14; i++ {
		insert(t, db, i, i*60, nil)
	}

	recent, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, 4*60, recent[0].ActiveBees)
	assert.Equal(t, 13*60, recent[9].ActiveBees)

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	// 540 and above are high: i = 9..13
	assert.Equal(t, hive.Stats{Total: 14, HighActivity: 5, LowActivity: 9}, st)
}

func TestSQLite_ReadingsSince(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		insert(t, db, i*30, 100, nil)
	}

	got, err := db.ReadingsSince(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSQLite_InsertReadingsBatch(t *testing.T) {
	db := openTestDB(t)
	batch := []*hive.SensorReading{}
	for i := 0; i < 4; i++ {
		r := hive.NewReading(t0.Add(time.Duration(i)*time.Second), 25, 60, 30, 100*i, nil)
		batch = append(batch, &r)
	}

	require.NoError(t, db.InsertReadings(context.Background(), batch))
	for _, r := range batch {
		assert.NotZero(t, r.ID)
	}

	n, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSQLite_EmptyStats(t *testing.T) {
	db := openTestDB(t)
	st, err := db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hive.Stats{}, st)
}

func TestRunMigrations_MissingDir(t *testing.T) {
	db := openTestDB(t)
	err := db.RunMigrations(filepath.Join(os.TempDir(), "does-not-exist-hive"), logrus.New())
	assert.Error(t, err)
}

var _ ml.History = (*DB)(nil)
