package ml

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/beehive-server/internal/hive"
)

// MinTrainingRows is the smallest history a model is trained on.
const MinTrainingRows = 20

// FitFunc grows a forest. Trainer calls it once for the held-out evaluation
// fit and once per cross-validation fold.
type FitFunc func(X [][]float64, y []int, params ForestParams) (*RandomForest, error)

// TrainerConfig controls training.
type TrainerConfig struct {
	MinRows      int
	TestFraction float64
	CVFolds      int
	Forest       ForestParams
	Fit          FitFunc
	Now          func() time.Time
}

// Trainer builds features from a history and fits the activity classifier.
type Trainer struct {
	schema FeatureSchema
	cfg    TrainerConfig
}

// NewTrainer creates a trainer for a feature schema. Zero config fields take
// their defaults.
func NewTrainer(schema FeatureSchema, cfg TrainerConfig) *Trainer {
	if cfg.MinRows <= 0 {
		cfg.MinRows = MinTrainingRows
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = 0.2
	}
	if cfg.CVFolds < 2 {
		cfg.CVFolds = 5
	}
	if cfg.Forest.Trees == 0 {
		workers := cfg.Forest.Workers
		cfg.Forest = DefaultForestParams()
		cfg.Forest.Workers = workers
	}
	if cfg.Fit == nil {
		cfg.Fit = FitForest
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Trainer{schema: schema, cfg: cfg}
}

// Schema returns the feature schema models are trained on.
func (t *Trainer) Schema() FeatureSchema {
	return t.schema
}

// MinRows returns the training minimum.
func (t *Trainer) MinRows() int {
	return t.cfg.MinRows
}

// Train fits a model on readings, which must be in ascending time order.
func (t *Trainer) Train(readings []hive.SensorReading) (*TrainedModel, error) {
	if len(readings) < t.cfg.MinRows {
		return nil, &InsufficientDataError{Have: len(readings), Min: t.cfg.MinRows}
	}

	X, y := BuildFeatures(readings).Matrix(t.schema)
	trainIdx, testIdx := trainTestSplit(len(X), t.cfg.TestFraction, t.cfg.Forest.Seed)

	trainX, trainY := pick(X, y, trainIdx)
	testX, testY := pick(X, y, testIdx)

	forest, err := t.cfg.Fit(trainX, trainY, t.cfg.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}

	pred := make([]int, len(testX))
	proba := make([]float64, len(testX))
	for i, x := range testX {
		pred[i], proba[i] = classify(forest, x)
	}
	cm := confusionMatrix(testY, pred)
	report := classificationReport(cm)

	cvScores, cvMean, err := crossValidate(X, y, t.cfg.CVFolds, t.cfg.Forest, t.cfg.Fit)
	if err != nil {
		return nil, fmt.Errorf("cross-validate: %w", err)
	}

	names := t.schema.Names()
	importances := make(map[string]float64, len(names))
	for i, name := range names {
		importances[name] = forest.Importances[i]
	}

	return &TrainedModel{
		ID:            uuid.NewString(),
		SchemaName:    t.schema.Name,
		SchemaVersion: t.schema.Version,
		Features:      names,
		RowCount:      len(readings),
		TrainedAt:     t.cfg.Now().UTC(),
		Forest:        forest,
		Metrics: Metrics{
			Accuracy:           accuracy(testY, pred),
			F1:                 report.High.F1,
			ROCAUC:             rocAUC(testY, proba),
			ConfusionMatrix:    cm,
			Report:             report,
			CVScores:           cvScores,
			CVMeanAccuracy:     cvMean,
			FeatureImportances: importances,
			TrainRows:          len(trainX),
			TestRows:           len(testX),
		},
	}, nil
}

func pick(X [][]float64, y []int, idx []int) ([][]float64, []int) {
	px := make([][]float64, len(idx))
	py := make([]int, len(idx))
	for i, j := range idx {
		px[i] = X[j]
		py[i] = y[j]
	}
	return px, py
}
