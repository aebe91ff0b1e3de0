package ml

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrain_InsufficientDataNeverFits(t *testing.T) {
	calls := 0
	fit := func(X [][]float64, y []int, p ForestParams) (*RandomForest, error) {
		calls++
		return FitForest(X, y, p)
	}
	trainer := testTrainer(fit)

	for _, n := range []int{0, 1, 10, 19} {
		model, err := trainer.Train(makeReadings(0, n, alternating))
		assert.Nil(t, model)

		var insufficient *InsufficientDataError
		require.True(t, errors.As(err, &insufficient), "n=%d: %v", n, err)
		assert.Equal(t, n, insufficient.Have)
		assert.Equal(t, MinTrainingRows, insufficient.Min)
		assert.Contains(t, err.Error(), "at least 20")
		assert.True(t, strings.Contains(err.Error(), "simulator") || strings.Contains(err.Error(), "ingest"))
	}
	assert.Zero(t, calls)
}

func TestTrain_Metrics(t *testing.T) {
	calls := 0
	fit := func(X [][]float64, y []int, p ForestParams) (*RandomForest, error) {
		calls++
		return FitForest(X, y, p)
	}
	trainer := testTrainer(fit)

	readings := makeReadings(0, 60, inRuns)
	model, err := trainer.Train(readings)
	require.NoError(t, err)

	assert.Equal(t, 6, calls, "one evaluation fit and five folds")
	assert.NotEmpty(t, model.ID)
	assert.Equal(t, 60, model.RowCount)
	assert.Equal(t, StandardSchema().Names(), model.Features)
	assert.Equal(t, FeatureSetStandard, model.SchemaName)

	m := model.Metrics
	assert.Equal(t, 12, m.TestRows)
	assert.Equal(t, 48, m.TrainRows)
	assert.GreaterOrEqual(t, m.Accuracy, 0.0)
	assert.LessOrEqual(t, m.Accuracy, 1.0)
	assert.Len(t, m.CVScores, 5)
	assert.InDelta(t, m.Report.High.F1, m.F1, 1e-12)

	cmTotal := m.ConfusionMatrix[0][0] + m.ConfusionMatrix[0][1] + m.ConfusionMatrix[1][0] + m.ConfusionMatrix[1][1]
	assert.Equal(t, m.TestRows, cmTotal)
	assert.Equal(t, m.TestRows, m.Report.MacroAvg.Support)

	require.Len(t, m.FeatureImportances, 13)
	sum := 0.0
	for _, v := range m.FeatureImportances {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestTrain_Deterministic(t *testing.T) {
	readings := makeReadings(0, 45, alternating)

	a, err := testTrainer(nil).Train(readings)
	require.NoError(t, err)
	b, err := testTrainer(nil).Train(readings)
	require.NoError(t, err)

	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Equal(t, a.Forest, b.Forest)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestTrain_FitErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	trainer := testTrainer(func([][]float64, []int, ForestParams) (*RandomForest, error) {
		return nil, boom
	})

	_, err := trainer.Train(makeReadings(0, 25, alternating))
	assert.ErrorIs(t, err, boom)
}

func TestTrain_ExtendedSchema(t *testing.T) {
	params := DefaultForestParams()
	params.Trees = 10
	trainer := NewTrainer(ExtendedSchema(), TrainerConfig{Forest: params})

	model, err := trainer.Train(makeReadings(0, 30, inRuns))
	require.NoError(t, err)
	assert.Equal(t, 18, model.Forest.NFeatures)
	assert.Contains(t, model.Metrics.FeatureImportances, "noise_rolling_mean_10")
}
