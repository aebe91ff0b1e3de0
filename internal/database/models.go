package database

import (
	"database/sql"

	"github.com/smukkama/beehive-server/internal/hive"
)

const readingColumns = `id, timestamp, temperature, humidity, pollution, active_bees,
	high_activity, activity, noise_db, noise_status`

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (hive.SensorReading, error) {
	var (
		r           hive.SensorReading
		noise       sql.NullFloat64
		noiseStatus sql.NullString
	)
	if err := row.Scan(
		&r.ID,
		&r.Timestamp,
		&r.Temperature,
		&r.Humidity,
		&r.Pollution,
		&r.ActiveBees,
		&r.HighActivity,
		&r.Activity,
		&noise,
		&noiseStatus,
	); err != nil {
		return hive.SensorReading{}, err
	}

	if noise.Valid {
		r.NoiseDB = hive.Float(noise.Float64)
	}
	r.NoiseStatus = noiseStatus.String
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}

func readingArgs(r *hive.SensorReading) []any {
	var noise, noiseStatus any
	if r.NoiseDB != nil {
		noise = *r.NoiseDB
		noiseStatus = r.NoiseStatus
	}
	return []any{
		r.Timestamp.UTC(),
		r.Temperature,
		r.Humidity,
		r.Pollution,
		r.ActiveBees,
		r.HighActivity,
		r.Activity,
		noise,
		noiseStatus,
	}
}
