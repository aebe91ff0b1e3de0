package ml

import (
	"context"
	"fmt"
	"time"
)

// PredictInput holds the raw inputs of a prediction. A nil NoiseDB uses DefaultNoiseDB.
type PredictInput struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pollution   float64  `json:"pollution"`
	NoiseDB     *float64 `json:"noise_db,omitempty"`
}

// PredictionResult is the classifier's answer for one input.
type PredictionResult struct {
	PredictedLabel string  `json:"predicted_label"`
	PredictedClass int     `json:"predicted_class"`
	ProbaHigh      float64 `json:"proba_high"`
	ModelID        string  `json:"model_id"`
}

// ModelProvider hands out a usable model.
type ModelProvider interface {
	EnsureModel(ctx context.Context) (*TrainedModel, error)
}

// PredictionObserver is notified of every successful prediction.
type PredictionObserver interface {
	PredictionMade(label string)
}

// PredictorConfig configures a Predictor.
type PredictorConfig struct {
	Now      func() time.Time
	Observer PredictionObserver
}

// Predictor rebuilds the training-time feature vector for new inputs and
// classifies it with the active model.
type Predictor struct {
	models   ModelProvider
	recent   RecentSource
	now      func() time.Time
	observer PredictionObserver
}

func NewPredictor(models ModelProvider, recent RecentSource, cfg PredictorConfig) *Predictor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Predictor{
		models:   models,
		recent:   recent,
		now:      cfg.Now,
		observer: cfg.Observer,
	}
}

// Predict classifies the input. The latest stored reading, with its own
// history up to the longest rolling window, is the previous row; an empty
// store falls back to BaselineRow.
func (p *Predictor) Predict(ctx context.Context, in PredictInput) (*PredictionResult, error) {
	model, err := p.models.EnsureModel(ctx)
	if err != nil {
		return nil, err
	}

	schema, err := SchemaByName(model.SchemaName)
	if err != nil {
		return nil, err
	}
	if !schema.Matches(model.Features) {
		return nil, fmt.Errorf("model %s features do not match feature set %s", model.ID, schema.Name)
	}

	prev, err := p.previousRow(ctx, in)
	if err != nil {
		return nil, err
	}
	x := schema.Vector(NextRow(prev, in, p.now()))

	class, proba := classify(model.Forest, x)
	res := &PredictionResult{
		PredictedLabel: labelForClass(class),
		PredictedClass: class,
		ProbaHigh:      proba,
		ModelID:        model.ID,
	}
	if p.observer != nil {
		p.observer.PredictionMade(res.PredictedLabel)
	}
	return res, nil
}

func (p *Predictor) previousRow(ctx context.Context, in PredictInput) (FeatureRow, error) {
	readings, err := p.recent.Recent(ctx, LongWindow)
	if err != nil {
		return FeatureRow{}, fmt.Errorf("read recent readings: %w", err)
	}
	if len(readings) == 0 {
		return BaselineRow(in), nil
	}
	table := BuildFeatures(readings)
	return table.Rows[table.Len()-1], nil
}
