package ml

import (
	"time"

	"github.com/smukkama/beehive-server/internal/hive"
)

// DefaultNoiseDB is used when a reading or a prediction request carries no noise level.
const DefaultNoiseDB = 50.0

// BaselineBees seeds the previous row when a prediction finds an empty store.
const BaselineBees = 50.0

// Trailing windows, in rows, of the bee-count and noise rolling means.
const (
	ShortWindow  = 3
	MediumWindow = 5
	LongWindow   = 10
)

// FeatureRow holds one reading together with the fields derived from its
// predecessors in ascending time order.
type FeatureRow struct {
	Timestamp time.Time

	Temperature float64
	Humidity    float64
	Pollution   float64
	NoiseDB     float64
	ActiveBees  float64

	DeltaBees        float64
	DeltaTemperature float64
	DeltaHumidity    float64
	DeltaPollution   float64
	DeltaNoise       float64

	RollingMean3  float64
	RollingMean5  float64
	RollingMean10 float64

	NoiseRollingMean3  float64
	NoiseRollingMean5  float64
	NoiseRollingMean10 float64

	StressIndex float64
	HourOfDay   float64
	DayOfWeek   float64

	Label int
}

// FeatureTable is the derived table for a batch of readings, one row per reading.
type FeatureTable struct {
	Rows []FeatureRow
}

// Len returns the number of rows.
func (t FeatureTable) Len() int {
	return len(t.Rows)
}

// Columns returns the column names the table exposes under a schema. It is
// valid on an empty table.
func (t FeatureTable) Columns(schema FeatureSchema) []string {
	return schema.Names()
}

// Matrix returns the feature matrix and label vector under a schema.
func (t FeatureTable) Matrix(schema FeatureSchema) ([][]float64, []int) {
	X := make([][]float64, len(t.Rows))
	y := make([]int, len(t.Rows))
	for i, row := range t.Rows {
		X[i] = schema.Vector(row)
		y[i] = row.Label
	}
	return X, y
}

// BuildFeatures derives the feature table from readings that are already in
// ascending timestamp order. It does not sort; reordering the input changes
// every delta and rolling mean.
func BuildFeatures(readings []hive.SensorReading) FeatureTable {
	rows := make([]FeatureRow, len(readings))
	bees := make([]float64, len(readings))
	noise := make([]float64, len(readings))

	for i, r := range readings {
		bees[i] = float64(r.ActiveBees)
		noise[i] = noiseOf(r.NoiseDB)

		ts := r.Timestamp.UTC()
		label, _ := hive.LabelFor(r.ActiveBees)
		row := FeatureRow{
			Timestamp:   r.Timestamp,
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			Pollution:   r.Pollution,
			NoiseDB:     noise[i],
			ActiveBees:  bees[i],
			StressIndex: r.Temperature * r.Pollution,
			HourOfDay:   float64(ts.Hour()),
			DayOfWeek:   float64(ts.Weekday()),
			Label:       label,
		}

		if i > 0 {
			prev := rows[i-1]
			row.DeltaBees = row.ActiveBees - prev.ActiveBees
			row.DeltaTemperature = row.Temperature - prev.Temperature
			row.DeltaHumidity = row.Humidity - prev.Humidity
			row.DeltaPollution = row.Pollution - prev.Pollution
			row.DeltaNoise = row.NoiseDB - prev.NoiseDB
		}

		row.RollingMean3 = trailingMean(bees, i, ShortWindow)
		row.RollingMean5 = trailingMean(bees, i, MediumWindow)
		row.RollingMean10 = trailingMean(bees, i, LongWindow)
		row.NoiseRollingMean3 = trailingMean(noise, i, ShortWindow)
		row.NoiseRollingMean5 = trailingMean(noise, i, MediumWindow)
		row.NoiseRollingMean10 = trailingMean(noise, i, LongWindow)

		rows[i] = row
	}

	return FeatureTable{Rows: rows}
}

// NextRow derives the row a prediction is made on. Deltas are taken against
// prev; the rolling means are carried forward unchanged because a prediction
// does not add a reading to the history. With no new bee observation the bee
// delta is zero.
func NextRow(prev FeatureRow, in PredictInput, at time.Time) FeatureRow {
	noise := noiseOf(in.NoiseDB)
	ts := at.UTC()

	return FeatureRow{
		Timestamp:   at,
		Temperature: in.Temperature,
		Humidity:    in.Humidity,
		Pollution:   in.Pollution,
		NoiseDB:     noise,
		ActiveBees:  prev.ActiveBees,

		DeltaTemperature: in.Temperature - prev.Temperature,
		DeltaHumidity:    in.Humidity - prev.Humidity,
		DeltaPollution:   in.Pollution - prev.Pollution,
		DeltaNoise:       noise - prev.NoiseDB,

		RollingMean3:       prev.RollingMean3,
		RollingMean5:       prev.RollingMean5,
		RollingMean10:      prev.RollingMean10,
		NoiseRollingMean3:  prev.NoiseRollingMean3,
		NoiseRollingMean5:  prev.NoiseRollingMean5,
		NoiseRollingMean10: prev.NoiseRollingMean10,

		StressIndex: in.Temperature * in.Pollution,
		HourOfDay:   float64(ts.Hour()),
		DayOfWeek:   float64(ts.Weekday()),
	}
}

// BaselineRow stands in for the previous row when the store is empty: the
// raw fields equal the request so every delta is zero, and the bee count and
// its rolling means sit at BaselineBees.
func BaselineRow(in PredictInput) FeatureRow {
	noise := noiseOf(in.NoiseDB)
	return FeatureRow{
		Temperature:        in.Temperature,
		Humidity:           in.Humidity,
		Pollution:          in.Pollution,
		NoiseDB:            noise,
		ActiveBees:         BaselineBees,
		RollingMean3:       BaselineBees,
		RollingMean5:       BaselineBees,
		RollingMean10:      BaselineBees,
		NoiseRollingMean3:  noise,
		NoiseRollingMean5:  noise,
		NoiseRollingMean10: noise,
	}
}

// trailingMean averages values[i-w+1 .. i], shrinking the window near the start.
func trailingMean(values []float64, i, w int) float64 {
	start := i - w + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, v := range values[start : i+1] {
		sum += v
	}
	return sum / float64(i+1-start)
}

func noiseOf(noise *float64) float64 {
	if noise == nil {
		return DefaultNoiseDB
	}
	return *noise
}
