package ml

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type forecastCounter map[string]int

func (c forecastCounter) ForecastFinished(result string) { c[result]++ }

func noisyBees(seed int64, n int) func(int) int {
	rng := rand.New(rand.NewSource(seed))
	values := make([]int, n)
	level := 500.0
	for i := range values {
		level += rng.NormFloat64() * 40
		level = math.Max(0, math.Min(1000, level))
		values[i] = int(level)
	}
	return func(i int) int { return values[i] }
}

func TestForecast_InsufficientData(t *testing.T) {
	counts := forecastCounter{}
	f := NewForecaster(newFakeHistory(makeReadings(0, 19, alternating)...), ForecasterConfig{Observer: counts})

	res := f.Forecast(context.Background(), 10)
	require.NotNil(t, res.Error)
	assert.Equal(t, ForecastInsufficientData, res.Error.Reason)
	assert.Contains(t, res.Error.Message, "20")
	assert.Nil(t, res.Values)
	assert.Equal(t, 1, counts[ForecastFailed])
}

func TestForecast_InvalidSteps(t *testing.T) {
	f := NewForecaster(newFakeHistory(makeReadings(0, 40, noisyBees(1, 40))...), ForecasterConfig{})

	for _, steps := range []int{0, -3, DefaultForecastMaxSteps + 1} {
		res := f.Forecast(context.Background(), steps)
		require.NotNil(t, res.Error, "steps=%d", steps)
		assert.Equal(t, ForecastInvalidSteps, res.Error.Reason)
	}
}

func TestForecast_DegenerateSeries(t *testing.T) {
	constant := NewForecaster(newFakeHistory(makeReadings(0, 30, func(int) int { return 400 })...), ForecasterConfig{})
	res := constant.Forecast(context.Background(), 5)
	require.NotNil(t, res.Error)
	assert.Equal(t, ForecastDegenerateSeries, res.Error.Reason)

	linear := NewForecaster(newFakeHistory(makeReadings(0, 30, func(i int) int { return 10 * i })...), ForecasterConfig{})
	res = linear.Forecast(context.Background(), 5)
	require.NotNil(t, res.Error)
	assert.Equal(t, ForecastDegenerateSeries, res.Error.Reason)
}

func TestForecast_HistoryError(t *testing.T) {
	history := newFakeHistory()
	history.err = errors.New("connection refused")

	res := NewForecaster(history, ForecasterConfig{}).Forecast(context.Background(), 3)
	require.NotNil(t, res.Error)
	assert.Equal(t, ForecastHistoryUnavailable, res.Error.Reason)
}

func TestForecast_Projects(t *testing.T) {
	counts := forecastCounter{}
	history := newFakeHistory(makeReadings(0, 120, noisyBees(7, 120))...)
	f := NewForecaster(history, ForecasterConfig{Observer: counts})

	res := f.Forecast(context.Background(), 12)
	require.Nil(t, res.Error, "%+v", res.Error)
	assert.Equal(t, 12, res.Steps)
	assert.Equal(t, [3]int{2, 1, 2}, res.Order)
	require.Len(t, res.Values, 12)
	for _, v := range res.Values {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.Equal(t, 1, counts[ForecastSucceeded])

	again := f.Forecast(context.Background(), 12)
	assert.Equal(t, res.Values, again.Values)
}

func TestForecastARIMA_StaysNearTrendingSeries(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	series := []float64{500}
	d := 0.0
	for i := 0; i < 400; i++ {
		d = 0.6*d + rng.NormFloat64()*10
		series = append(series, series[len(series)-1]+d)
	}

	values, ferr := forecastARIMA(series, 2, 2, 5)
	require.Nil(t, ferr)
	require.Len(t, values, 5)

	last := series[len(series)-1]
	for _, v := range values {
		assert.InDelta(t, last, v, 200)
	}
}
