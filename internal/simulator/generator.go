// Package simulator produces synthetic hive readings and delivers them to
// Kafka, the HTTP ingest endpoint or the ingestion service.
package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/smukkama/beehive-server/internal/hive"
)

// Sampling ranges of the synthetic sensors
const (
	MinTemperature, MaxTemperature = 15.0, 40.0
	MinHumidity, MaxHumidity       = 30.0, 90.0
	MinPollution, MaxPollution     = 10.0, 80.0
	MaxActiveBees                  = 1000
	MinNoiseDB, MaxNoiseDB         = 20.0, 120.0
)

// Generator draws uniformly distributed readings. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator with a fixed seed
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Next returns a labelled reading taken at at
func (g *Generator) Next(at time.Time) hive.SensorReading {
	g.mu.Lock()
	defer g.mu.Unlock()

	temperature := g.uniform(MinTemperature, MaxTemperature)
	humidity := g.uniform(MinHumidity, MaxHumidity)
	pollution := g.uniform(MinPollution, MaxPollution)
	bees := g.rng.Intn(MaxActiveBees + 1)
	noise := g.uniform(MinNoiseDB, MaxNoiseDB)

	return hive.NewReading(at.UTC(), temperature, humidity, pollution, bees, &noise)
}

// NoiseLevel is an instantaneous noise sample
type NoiseLevel struct {
	NoiseDB float64 `json:"noise_db"`
	Status  string  `json:"status"`
}

// Noise samples the hive noise level
func (g *Generator) Noise() NoiseLevel {
	g.mu.Lock()
	noise := g.uniform(MinNoiseDB, MaxNoiseDB)
	g.mu.Unlock()

	return NoiseLevel{NoiseDB: noise, Status: hive.NoiseStatusFor(noise)}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return round2(lo + g.rng.Float64()*(hi-lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
