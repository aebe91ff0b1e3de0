package hive

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ActivityThreshold is the active-bee count above which activity is "high".
const ActivityThreshold = 500

// Activity labels stored with each reading
const (
	ActivityHigh = "high"
	ActivityLow  = "low"
)

// Noise status values derived from the hive noise level
const (
	NoiseStatusNormal   = "normal"
	NoiseStatusModerate = "moderate: attention"
	NoiseStatusAlert    = "alert: possible agitation"
)

var ErrInvalidReading = errors.New("invalid sensor reading")

// SensorReading is one environmental sample taken at the hive.
type SensorReading struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Temperature  float64   `json:"temperature"`
	Humidity     float64   `json:"humidity"`
	Pollution    float64   `json:"pollution"`
	ActiveBees   int       `json:"active_bees"`
	NoiseDB      *float64  `json:"noise_db,omitempty"`
	NoiseStatus  string    `json:"noise_status,omitempty"`
	HighActivity int       `json:"high_activity"`
	Activity     string    `json:"activity"`
}

// NewReading builds a reading and derives its labels.
func NewReading(ts time.Time, temperature, humidity, pollution float64, activeBees int, noiseDB *float64) SensorReading {
	r := SensorReading{
		Timestamp:   ts,
		Temperature: temperature,
		Humidity:    humidity,
		Pollution:   pollution,
		ActiveBees:  activeBees,
		NoiseDB:     noiseDB,
	}
	r.Derive()
	return r
}

// Derive recomputes the activity label and noise status from the raw fields.
func (r *SensorReading) Derive() {
	r.HighActivity, r.Activity = LabelFor(r.ActiveBees)
	if r.NoiseDB != nil {
		r.NoiseStatus = NoiseStatusFor(*r.NoiseDB)
	} else {
		r.NoiseStatus = ""
	}
}

// Validate checks that the reading can be stored.
func (r *SensorReading) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidReading)
	}
	if r.ActiveBees < 0 {
		return fmt.Errorf("%w: active bee count must not be negative, got %d", ErrInvalidReading, r.ActiveBees)
	}
	values := map[string]float64{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"pollution":   r.Pollution,
	}
	if r.NoiseDB != nil {
		values["noise_db"] = *r.NoiseDB
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidReading, name)
		}
	}
	return nil
}

// LabelFor returns the binary and textual activity label for a bee count.
func LabelFor(activeBees int) (int, string) {
	if activeBees > ActivityThreshold {
		return 1, ActivityHigh
	}
	return 0, ActivityLow
}

// NoiseStatusFor classifies a noise level in dB.
func NoiseStatusFor(noiseDB float64) string {
	switch {
	case noiseDB > 80:
		return NoiseStatusAlert
	case noiseDB > 60:
		return NoiseStatusModerate
	default:
		return NoiseStatusNormal
	}
}

// Float returns a pointer to v, for optional fields.
func Float(v float64) *float64 {
	return &v
}

// Stats summarises stored readings by activity label.
type Stats struct {
	Total        int `json:"total"`
	HighActivity int `json:"high_activity"`
	LowActivity  int `json:"low_activity"`
}
