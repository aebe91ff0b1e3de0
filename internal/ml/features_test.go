package ml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/beehive-server/internal/hive"
)

func TestBuildFeatures_RowCountAndFirstDeltas(t *testing.T) {
	for _, n := range []int{1, 2, 7, 30} {
		table := BuildFeatures(makeReadings(0, n, alternating))
		require.Equal(t, n, table.Len())

		first := table.Rows[0]
		assert.Zero(t, first.DeltaBees)
		assert.Zero(t, first.DeltaTemperature)
		assert.Zero(t, first.DeltaHumidity)
		assert.Zero(t, first.DeltaPollution)
		assert.Zero(t, first.DeltaNoise)
	}
}

func TestBuildFeatures_RollingMeans(t *testing.T) {
	readings := makeReadings(0, 15, func(i int) int { return i * 10 })
	table := BuildFeatures(readings)

	expect := func(i, w int) float64 {
		start := max(0, i-w+1)
		sum := 0.0
		for j := start; j <= i; j++ {
			sum += float64(readings[j].ActiveBees)
		}
		return sum / float64(i-start+1)
	}

	for i, row := range table.Rows {
		assert.InDelta(t, expect(i, 3), row.RollingMean3, 1e-9, "row %d window 3", i)
		assert.InDelta(t, expect(i, 5), row.RollingMean5, 1e-9, "row %d window 5", i)
		assert.InDelta(t, expect(i, 10), row.RollingMean10, 1e-9, "row %d window 10", i)
	}

	// 0,10,20 -> 10 ; 10 readings ending at 140 -> mean of 50..140
	assert.InDelta(t, 10.0, table.Rows[2].RollingMean3, 1e-9)
	assert.InDelta(t, 95.0, table.Rows[14].RollingMean10, 1e-9)
}

func TestBuildFeatures_DerivedFields(t *testing.T) {
	readings := []hive.SensorReading{
		hive.NewReading(baseTime, 20, 50, 10, 100, hive.Float(40)),
		hive.NewReading(baseTime.Add(time.Minute), 25, 45, 12, 650, nil),
	}
	row := BuildFeatures(readings).Rows[1]

	assert.Equal(t, 550.0, row.DeltaBees)
	assert.Equal(t, 5.0, row.DeltaTemperature)
	assert.Equal(t, -5.0, row.DeltaHumidity)
	assert.Equal(t, 2.0, row.DeltaPollution)
	assert.Equal(t, DefaultNoiseDB, row.NoiseDB)
	assert.Equal(t, DefaultNoiseDB-40, row.DeltaNoise)
	assert.Equal(t, 300.0, row.StressIndex)
	assert.Equal(t, 1, row.Label)
	assert.Equal(t, 0, BuildFeatures(readings).Rows[0].Label)
	assert.Equal(t, 8.0, row.HourOfDay)
	assert.Equal(t, float64(time.Sunday), row.DayOfWeek)
}

func TestBuildFeatures_Empty(t *testing.T) {
	table := BuildFeatures(nil)

	assert.Zero(t, table.Len())
	assert.Equal(t, StandardSchema().Names(), table.Columns(StandardSchema()))
	X, y := table.Matrix(StandardSchema())
	assert.Empty(t, X)
	assert.Empty(t, y)
}

func TestNextRow_CarriesRollingMeans(t *testing.T) {
	table := BuildFeatures(makeReadings(0, 12, inRuns))
	prev := table.Rows[11]

	in := PredictInput{Temperature: 30, Humidity: 60, Pollution: 80, NoiseDB: hive.Float(55)}
	row := NextRow(prev, in, baseTime)

	assert.Equal(t, prev.RollingMean3, row.RollingMean3)
	assert.Equal(t, prev.RollingMean5, row.RollingMean5)
	assert.Equal(t, prev.RollingMean10, row.RollingMean10)
	assert.Zero(t, row.DeltaBees)
	assert.Equal(t, 30-prev.Temperature, row.DeltaTemperature)
	assert.Equal(t, 60-prev.Humidity, row.DeltaHumidity)
	assert.Equal(t, 80-prev.Pollution, row.DeltaPollution)
	assert.Equal(t, 55-prev.NoiseDB, row.DeltaNoise)
	assert.Equal(t, 2400.0, row.StressIndex)
}

func TestBaselineRow(t *testing.T) {
	in := PredictInput{Temperature: 30, Humidity: 60, Pollution: 80}
	row := NextRow(BaselineRow(in), in, baseTime)

	assert.Equal(t, BaselineBees, row.RollingMean3)
	assert.Equal(t, BaselineBees, row.RollingMean10)
	assert.Zero(t, row.DeltaTemperature)
	assert.Zero(t, row.DeltaHumidity)
	assert.Zero(t, row.DeltaPollution)
	assert.Zero(t, row.DeltaNoise)
	assert.Equal(t, DefaultNoiseDB, row.NoiseDB)
}

func TestSchemas(t *testing.T) {
	std := StandardSchema()
	assert.Equal(t, []string{
		"temperature", "humidity", "pollution", "noise_db", "delta_bees",
		"rolling_mean_3", "rolling_mean_5", "rolling_mean_10", "stress_index",
		"delta_temperature", "delta_humidity", "delta_pollution", "delta_noise",
	}, std.Names())

	ext := ExtendedSchema()
	assert.Equal(t, std.Names(), ext.Names()[:std.Len()])
	assert.Equal(t, 18, ext.Len())
	assert.False(t, std.Matches(ext.Names()))

	s, err := SchemaByName("extended")
	require.NoError(t, err)
	assert.True(t, s.Matches(ext.Names()))

	_, err = SchemaByName("bogus")
	assert.Error(t, err)
}

func TestSchemaVector_FollowsNames(t *testing.T) {
	row := BuildFeatures(makeReadings(0, 4, alternating)).Rows[3]
	v := StandardSchema().Vector(row)

	require.Len(t, v, 13)
	assert.Equal(t, row.Temperature, v[0])
	assert.Equal(t, row.NoiseDB, v[3])
	assert.Equal(t, row.DeltaBees, v[4])
	assert.Equal(t, row.StressIndex, v[8])
	assert.Equal(t, row.DeltaNoise, v[12])
}
