// Package metrics provides the Prometheus metrics of the beehive server.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smukkama/beehive-server/internal/ml"
)

// HiveMetrics contains all Prometheus metrics for ingestion and the model
// lifecycle. It implements the observer interfaces of the ingest and ml
// packages.
type HiveMetrics struct {
	IngestedTotal    *prometheus.CounterVec
	TrainingTotal    *prometheus.CounterVec
	TrainingDuration prometheus.Histogram
	PredictionTotal  *prometheus.CounterVec
	ForecastTotal    *prometheus.CounterVec

	ModelAccuracy   prometheus.Gauge
	ModelCheckpoint prometheus.Gauge
	ModelTrainedAt  prometheus.Gauge
}

// NewHiveMetrics creates the metrics and registers them on registry.
func NewHiveMetrics(registry prometheus.Registerer) (*HiveMetrics, error) {
	m := &HiveMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register hive metrics: %w", err)
	}
	return m, nil
}

func (m *HiveMetrics) initMetrics() {
	m.IngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_readings_ingested_total",
			Help: "Total number of stored readings partitioned by source.",
		},
		[]string{"source"},
	)
	m.TrainingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_trainings_total",
			Help: "Total number of training passes partitioned by result.",
		},
		[]string{"result"},
	)
	m.TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beehive_training_duration_seconds",
			Help:    "Time taken by a training pass",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)
	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_predictions_total",
			Help: "Total number of predictions partitioned by label.",
		},
		[]string{"label"},
	)
	m.ForecastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beehive_forecasts_total",
			Help: "Total number of forecasts partitioned by result.",
		},
		[]string{"result"},
	)
	m.ModelAccuracy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beehive_model_accuracy",
		Help: "Held-out accuracy of the active model.",
	})
	m.ModelCheckpoint = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beehive_model_checkpoint_rows",
		Help: "History length when the active model was trained.",
	})
	m.ModelTrainedAt = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beehive_model_trained_timestamp_seconds",
		Help: "Unix time the active model was trained.",
	})
}

// Describe implements the prometheus.Collector interface.
func (m *HiveMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.IngestedTotal.Describe(ch)
	m.TrainingTotal.Describe(ch)
	m.TrainingDuration.Describe(ch)
	m.PredictionTotal.Describe(ch)
	m.ForecastTotal.Describe(ch)
	m.ModelAccuracy.Describe(ch)
	m.ModelCheckpoint.Describe(ch)
	m.ModelTrainedAt.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HiveMetrics) Collect(ch chan<- prometheus.Metric) {
	m.IngestedTotal.Collect(ch)
	m.TrainingTotal.Collect(ch)
	m.TrainingDuration.Collect(ch)
	m.PredictionTotal.Collect(ch)
	m.ForecastTotal.Collect(ch)
	m.ModelAccuracy.Collect(ch)
	m.ModelCheckpoint.Collect(ch)
	m.ModelTrainedAt.Collect(ch)
}

// ReadingsIngested counts stored readings.
func (m *HiveMetrics) ReadingsIngested(source string, n int) {
	m.IngestedTotal.WithLabelValues(source).Add(float64(n))
}

// TrainingFinished records a training pass and, on success, the new model.
func (m *HiveMetrics) TrainingFinished(result string, took time.Duration, model *ml.TrainedModel) {
	m.TrainingTotal.WithLabelValues(result).Inc()
	m.TrainingDuration.Observe(took.Seconds())
	if model != nil {
		m.ObserveModel(model)
	}
}

// ObserveModel sets the model gauges, also used for a model loaded at startup.
func (m *HiveMetrics) ObserveModel(model *ml.TrainedModel) {
	m.ModelAccuracy.Set(model.Metrics.Accuracy)
	m.ModelCheckpoint.Set(float64(model.RowCount))
	m.ModelTrainedAt.Set(float64(model.TrainedAt.Unix()))
}

func (m *HiveMetrics) PredictionMade(label string) {
	m.PredictionTotal.WithLabelValues(label).Inc()
}

func (m *HiveMetrics) ForecastFinished(result string) {
	m.ForecastTotal.WithLabelValues(result).Inc()
}
