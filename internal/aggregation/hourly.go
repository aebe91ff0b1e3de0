// Package aggregation summarises hive readings per hour for the dashboard.
package aggregation

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/smukkama/beehive-server/internal/hive"
)

// MaxHours bounds the summary window to one week
const MaxHours = 24 * 7

// Source returns readings at or after a point in time, oldest first
type Source interface {
	ReadingsSince(ctx context.Context, since time.Time) ([]hive.SensorReading, error)
}

// HourlySummary aggregates the readings taken within one hour
type HourlySummary struct {
	Hour           time.Time `json:"hour"`
	Readings       int       `json:"readings"`
	AvgTemperature float64   `json:"avg_temperature"`
	AvgHumidity    float64   `json:"avg_humidity"`
	AvgPollution   float64   `json:"avg_pollution"`
	AvgActiveBees  float64   `json:"avg_active_bees"`
	MaxActiveBees  int       `json:"max_active_bees"`
	HighActivity   int       `json:"high_activity"`
	AvgNoiseDB     *float64  `json:"avg_noise_db,omitempty"`
}

// HourlyAggregator performs hourly aggregation
type HourlyAggregator struct {
	source Source
	now    func() time.Time
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(source Source) *HourlyAggregator {
	return &HourlyAggregator{source: source, now: time.Now}
}

// Aggregate summarises the last hours hours, the current partial hour
// included. Hours without readings are omitted.
func (h *HourlyAggregator) Aggregate(ctx context.Context, hours int) ([]HourlySummary, error) {
	if hours < 1 || hours > MaxHours {
		return nil, fmt.Errorf("hours must be between 1 and %d, got %d", MaxHours, hours)
	}

	start := h.now().UTC().Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	readings, err := h.source.ReadingsSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to load readings since %s: %w", start.Format(time.RFC3339), err)
	}
	return Summarize(readings), nil
}

// Summarize groups readings, ordered by timestamp, into hourly buckets
func Summarize(readings []hive.SensorReading) []HourlySummary {
	var out []HourlySummary
	for i := 0; i < len(readings); {
		hour := readings[i].Timestamp.UTC().Truncate(time.Hour)
		j := i
		for j < len(readings) && readings[j].Timestamp.UTC().Truncate(time.Hour).Equal(hour) {
			j++
		}
		out = append(out, summarizeHour(hour, readings[i:j]))
		i = j
	}
	return out
}

func summarizeHour(hour time.Time, readings []hive.SensorReading) HourlySummary {
	n := len(readings)
	temp := make([]float64, n)
	hum := make([]float64, n)
	poll := make([]float64, n)
	bees := make([]float64, n)
	var noise []float64

	s := HourlySummary{Hour: hour, Readings: n}
	for i, r := range readings {
		temp[i] = r.Temperature
		hum[i] = r.Humidity
		poll[i] = r.Pollution
		bees[i] = float64(r.ActiveBees)
		s.MaxActiveBees = max(s.MaxActiveBees, r.ActiveBees)
		s.HighActivity += r.HighActivity
		if r.NoiseDB != nil {
			noise = append(noise, *r.NoiseDB)
		}
	}

	s.AvgTemperature = stat.Mean(temp, nil)
	s.AvgHumidity = stat.Mean(hum, nil)
	s.AvgPollution = stat.Mean(poll, nil)
	s.AvgActiveBees = stat.Mean(bees, nil)
	if len(noise) > 0 {
		avg := stat.Mean(noise, nil)
		s.AvgNoiseDB = &avg
	}
	return s
}
