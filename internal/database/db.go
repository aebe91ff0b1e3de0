package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/pkg/config"
)

var ErrUnknownDriver = errors.New("unknown database driver")

// DB wraps the database connection
type DB struct {
	*sql.DB
	driver string
}

// Connect establishes a connection to the database
func Connect(driver, connectionString string) (*DB, error) {
	if driver != config.DriverPostgres && driver != config.DriverSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(driver, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	if driver == config.DriverSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent ingestion
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Open connects using the database section of the configuration
func Open(cfg config.DatabaseConfig) (*DB, error) {
	return Connect(cfg.Driver, cfg.ConnectionString())
}

// Driver returns the sql driver name
func (db *DB) Driver() string {
	return db.driver
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string, log logrus.FieldLogger) error {
	// Read all migration files
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	// Filter and sort SQL files
	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	// Execute each migration
	for _, filename := range sqlFiles {
		log.WithField("migration", filename).Info("Running migration")

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	log.WithField("count", len(sqlFiles)).Info("All migrations completed successfully")
	return nil
}

// InsertReading stores a reading and sets its ID
func (db *DB) InsertReading(ctx context.Context, r *hive.SensorReading) error {
	query := `
		INSERT INTO hive_readings (
			timestamp, temperature, humidity, pollution, active_bees,
			high_activity, activity, noise_db, noise_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	return db.QueryRowContext(ctx, query, readingArgs(r)...).Scan(&r.ID)
}

// InsertReadings stores a batch of readings in one transaction
func (db *DB) InsertReadings(ctx context.Context, readings []*hive.SensorReading) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hive_readings (
			timestamp, temperature, humidity, pollution, active_bees,
			high_activity, activity, noise_db, noise_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if err := stmt.QueryRowContext(ctx, readingArgs(r)...).Scan(&r.ID); err != nil {
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	return tx.Commit()
}

// Readings returns readings ordered by timestamp
func (db *DB) Readings(ctx context.Context, q ml.Query) ([]hive.SensorReading, error) {
	order := "ASC"
	if q.Order == ml.Descending {
		order = "DESC"
	}
	query := `SELECT ` + readingColumns + ` FROM hive_readings ORDER BY timestamp ` + order + `, id ` + order

	var args []any
	if q.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, q.Limit)
	}

	return db.queryReadings(ctx, query, args...)
}

// Recent returns the newest n readings in ascending order
func (db *DB) Recent(ctx context.Context, n int) ([]hive.SensorReading, error) {
	if n <= 0 {
		return nil, nil
	}
	readings, err := db.Readings(ctx, ml.Query{Order: ml.Descending, Limit: n})
	if err != nil {
		return nil, err
	}
	slices.Reverse(readings)
	return readings, nil
}

// ReadingsSince returns readings at or after since, oldest first
func (db *DB) ReadingsSince(ctx context.Context, since time.Time) ([]hive.SensorReading, error) {
	query := `SELECT ` + readingColumns + ` FROM hive_readings WHERE timestamp >= $1 ORDER BY timestamp ASC, id ASC`
	return db.queryReadings(ctx, query, since.UTC())
}

// Count returns the number of stored readings
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hive_readings`).Scan(&n)
	return n, err
}

// Stats returns reading totals split by activity label
func (db *DB) Stats(ctx context.Context) (hive.Stats, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN high_activity = 1 THEN 1 ELSE 0 END), 0)
		FROM hive_readings
	`

	var s hive.Stats
	if err := db.QueryRowContext(ctx, query).Scan(&s.Total, &s.HighActivity); err != nil {
		return hive.Stats{}, err
	}
	s.LowActivity = s.Total - s.HighActivity
	return s, nil
}

func (db *DB) queryReadings(ctx context.Context, query string, args ...any) ([]hive.SensorReading, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []hive.SensorReading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}

	return readings, rows.Err()
}
