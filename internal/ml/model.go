package ml

import (
	"errors"
	"fmt"
	"time"
)

// Human labels returned with a prediction
const (
	LabelHigh = "Alta"
	LabelLow  = "Baixa"
)

// TrainedModel is a fitted forest together with the feature order it was fit
// on and the history length at training time.
type TrainedModel struct {
	ID            string        `json:"id"`
	SchemaName    string        `json:"schema_name"`
	SchemaVersion int           `json:"schema_version"`
	Features      []string      `json:"features"`
	RowCount      int           `json:"row_count"`
	TrainedAt     time.Time     `json:"trained_at"`
	Metrics       Metrics       `json:"metrics"`
	Forest        *RandomForest `json:"forest"`
}

// Classifier predicts a class from a feature vector.
type Classifier interface {
	Predict(x []float64) int
}

// ProbabilityEstimator is implemented by classifiers that expose the
// probability of the positive class.
type ProbabilityEstimator interface {
	PredictProba(x []float64) float64
}

// classify returns the class and the positive-class probability, which is 0
// when the classifier has no probability estimate.
func classify(c Classifier, x []float64) (int, float64) {
	class := c.Predict(x)
	if pe, ok := c.(ProbabilityEstimator); ok {
		return class, pe.PredictProba(x)
	}
	return class, 0
}

func labelForClass(class int) string {
	if class == 1 {
		return LabelHigh
	}
	return LabelLow
}

func (m *TrainedModel) validate() error {
	if m.Forest == nil {
		return errors.New("model has no forest")
	}
	if err := m.Forest.validate(); err != nil {
		return err
	}
	if len(m.Features) != m.Forest.NFeatures {
		return fmt.Errorf("model lists %d features but forest was fit on %d", len(m.Features), m.Forest.NFeatures)
	}
	if m.RowCount < 0 {
		return fmt.Errorf("negative row count %d", m.RowCount)
	}
	return nil
}
