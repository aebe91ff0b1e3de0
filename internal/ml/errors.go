package ml

import "fmt"

// InsufficientDataError is returned when the history is below the training minimum.
type InsufficientDataError struct {
	Have int
	Min  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("not enough readings to train: have %d, need at least %d; run the simulator or ingest readings to populate the store",
		e.Have, e.Min)
}

// ModelUnavailableError is returned when no model exists and none could be trained.
type ModelUnavailableError struct {
	Cause error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model unavailable: %v", e.Cause)
}

func (e *ModelUnavailableError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps a failure to read or write the model file.
type PersistenceError struct {
	Op   string // load or save
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("model %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Forecast failure reasons
const (
	ForecastInsufficientData   = "insufficient_data"
	ForecastInvalidSteps       = "invalid_steps"
	ForecastHistoryUnavailable = "history_unavailable"
	ForecastDegenerateSeries   = "degenerate_series"
	ForecastFitFailed          = "fit_failed"
)

// ForecastError describes why a forecast could not be produced. It is
// returned inside ForecastResult rather than as an error value.
type ForecastError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *ForecastError) Error() string {
	return fmt.Sprintf("forecast %s: %s", e.Reason, e.Message)
}
