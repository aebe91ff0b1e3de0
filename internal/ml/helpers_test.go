package ml

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/smukkama/beehive-server/internal/hive"
)

var baseTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// fakeHistory is an in-memory History for tests.
type fakeHistory struct {
	mu       sync.Mutex
	readings []hive.SensorReading
	err      error
}

func newFakeHistory(readings ...hive.SensorReading) *fakeHistory {
	return &fakeHistory{readings: slices.Clone(readings)}
}

func (h *fakeHistory) add(readings ...hive.SensorReading) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readings = append(h.readings, readings...)
}

func (h *fakeHistory) Readings(_ context.Context, q Query) ([]hive.SensorReading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	out := slices.Clone(h.readings)
	if q.Order == Descending {
		slices.Reverse(out)
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func (h *fakeHistory) Recent(_ context.Context, n int) ([]hive.SensorReading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	start := max(len(h.readings)-n, 0)
	return slices.Clone(h.readings[start:]), nil
}

func (h *fakeHistory) Count(context.Context) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return 0, h.err
	}
	return len(h.readings), nil
}

// makeReadings builds n readings one minute apart starting at offset, with
// deterministic environmental values and the bee count chosen by bees.
func makeReadings(offset, n int, bees func(i int) int) []hive.SensorReading {
	out := make([]hive.SensorReading, n)
	for k := 0; k < n; k++ {
		i := offset + k
		out[k] = hive.NewReading(
			baseTime.Add(time.Duration(i)*time.Minute),
			15+float64(i%25),
			30+float64((i*7)%60),
			10+float64((i*13)%70),
			bees(i),
			hive.Float(20+float64((i*11)%100)),
		)
	}
	return out
}

func alternating(i int) int {
	if i%2 == 0 {
		return 700
	}
	return 200
}

// inRuns switches between high and low bee counts every ten readings.
func inRuns(i int) int {
	if (i/10)%2 == 0 {
		return 620 + (i*17)%80
	}
	return 120 + (i*17)%80
}

func testTrainer(fit FitFunc) *Trainer {
	params := DefaultForestParams()
	params.Trees = 25
	return NewTrainer(StandardSchema(), TrainerConfig{Forest: params, Fit: fit})
}

type countingObserver struct {
	mu      sync.Mutex
	results []string
}

func (o *countingObserver) TrainingFinished(result string, _ time.Duration, _ *TrainedModel) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, result)
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.results {
		if r == result {
			n++
		}
	}
	return n
}
