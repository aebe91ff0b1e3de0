package protocol

import (
	"fmt"
	"time"

	"github.com/smukkama/beehive-server/internal/hive"
)

// ReadingData is the wire form of a sensor reading. Timestamp is RFC3339 and
// may be omitted, in which case the receiver stamps the reading.
type ReadingData struct {
	Timestamp   string   `json:"timestamp,omitempty"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pollution   *float64 `json:"pollution"`
	ActiveBees  *int     `json:"active_bees"`
	NoiseDB     *float64 `json:"noise_db,omitempty"`
}

// NewReadingData converts a reading to its wire form
func NewReadingData(r hive.SensorReading) ReadingData {
	d := ReadingData{
		Temperature: &r.Temperature,
		Humidity:    &r.Humidity,
		Pollution:   &r.Pollution,
		ActiveBees:  &r.ActiveBees,
		NoiseDB:     r.NoiseDB,
	}
	if !r.Timestamp.IsZero() {
		d.Timestamp = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return d
}

// Validate checks that the required fields are present
func (d *ReadingData) Validate() error {
	if d.Temperature == nil {
		return fmt.Errorf("temperature is required")
	}
	if d.Humidity == nil {
		return fmt.Errorf("humidity is required")
	}
	if d.Pollution == nil {
		return fmt.Errorf("pollution is required")
	}
	if d.ActiveBees == nil {
		return fmt.Errorf("active_bees is required")
	}
	if d.Timestamp != "" {
		// Validate timestamp format
		if _, err := time.Parse(time.RFC3339, d.Timestamp); err != nil {
			return fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
		}
	}
	return nil
}

// Parse converts the wire form into a labelled reading, stamping it with now
// when no timestamp was sent
func (d *ReadingData) Parse(now time.Time) (hive.SensorReading, error) {
	if err := d.Validate(); err != nil {
		return hive.SensorReading{}, err
	}

	ts := now
	if d.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, d.Timestamp)
		if err != nil {
			return hive.SensorReading{}, err
		}
		ts = parsed
	}

	return hive.NewReading(ts.UTC(), *d.Temperature, *d.Humidity, *d.Pollution, *d.ActiveBees, d.NoiseDB), nil
}
