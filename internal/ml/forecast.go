package ml

import (
	"context"
	"fmt"
	"math"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/stat"
)

// Forecast defaults
const (
	DefaultForecastMinRows  = 20
	DefaultForecastSteps    = 10
	DefaultForecastMaxSteps = 200
)

// Forecast results reported to a ForecastObserver
const (
	ForecastSucceeded = "success"
	ForecastFailed    = "error"
)

// ARIMA order (p, d, q) fit on the bee-count series.
var arimaOrder = [3]int{2, 1, 2}

// ForecastResult carries either the projected bee counts or the reason there
// are none.
type ForecastResult struct {
	Steps  int            `json:"steps"`
	Order  [3]int         `json:"order"`
	Values []float64      `json:"values,omitempty"`
	Error  *ForecastError `json:"error,omitempty"`
}

// ForecastObserver is notified of every forecast attempt.
type ForecastObserver interface {
	ForecastFinished(result string)
}

// ForecasterConfig configures a Forecaster.
type ForecasterConfig struct {
	MinRows  int
	MaxSteps int
	Observer ForecastObserver
}

// Forecaster projects the active-bee count with an ARIMA(2,1,2) model. It
// only reads history and never fails the caller: every problem is reported
// in ForecastResult.Error.
type Forecaster struct {
	history  History
	minRows  int
	maxSteps int
	observer ForecastObserver
}

func NewForecaster(history History, cfg ForecasterConfig) *Forecaster {
	if cfg.MinRows <= 0 {
		cfg.MinRows = DefaultForecastMinRows
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultForecastMaxSteps
	}
	return &Forecaster{
		history:  history,
		minRows:  cfg.MinRows,
		maxSteps: cfg.MaxSteps,
		observer: cfg.Observer,
	}
}

// Forecast projects steps values past the last reading.
func (f *Forecaster) Forecast(ctx context.Context, steps int) (res ForecastResult) {
	res = ForecastResult{Steps: steps, Order: arimaOrder}
	defer func() {
		if r := recover(); r != nil {
			res.Values = nil
			res.Error = &ForecastError{Reason: ForecastFitFailed, Message: fmt.Sprint(r)}
		}
		if f.observer != nil {
			if res.Error != nil {
				f.observer.ForecastFinished(ForecastFailed)
			} else {
				f.observer.ForecastFinished(ForecastSucceeded)
			}
		}
	}()

	if steps < 1 || steps > f.maxSteps {
		res.Error = &ForecastError{
			Reason:  ForecastInvalidSteps,
			Message: fmt.Sprintf("steps must be between 1 and %d, got %d", f.maxSteps, steps),
		}
		return res
	}

	readings, err := f.history.Readings(ctx, Query{Order: Ascending})
	if err != nil {
		res.Error = &ForecastError{Reason: ForecastHistoryUnavailable, Message: err.Error()}
		return res
	}
	if len(readings) < f.minRows {
		res.Error = &ForecastError{
			Reason:  ForecastInsufficientData,
			Message: fmt.Sprintf("need at least %d readings to forecast, have %d", f.minRows, len(readings)),
		}
		return res
	}

	series := make([]float64, len(readings))
	for i, r := range readings {
		series[i] = float64(r.ActiveBees)
	}

	values, ferr := forecastARIMA(series, arimaOrder[0], arimaOrder[2], steps)
	if ferr != nil {
		res.Error = ferr
		return res
	}
	res.Values = values
	return res
}

// forecastARIMA fits ARIMA(p,1,q) by the Hannan-Rissanen two-stage method and
// projects steps values on the original scale. Future innovations are zero.
func forecastARIMA(series []float64, p, q, steps int) ([]float64, *ForecastError) {
	dy := make([]float64, len(series)-1)
	for i := range dy {
		dy[i] = series[i+1] - series[i]
	}
	if len(dy) < 2 || stat.Variance(dy, nil) < 1e-12 {
		return nil, &ForecastError{Reason: ForecastDegenerateSeries, Message: "bee-count series has no variation after differencing"}
	}

	n := len(dy)
	m := max(p, q) + 3
	s := max(p, m+q)
	if n-s < p+q+2 {
		return nil, &ForecastError{
			Reason:  ForecastInsufficientData,
			Message: fmt.Sprintf("series of %d points is too short for ARIMA(%d,1,%d)", len(series), p, q),
		}
	}

	// Stage 1: a long autoregression stands in for the unobserved innovations.
	longAR, err := ols("diff", m, func(add func(y float64, x []float64)) {
		for t := m; t < n; t++ {
			add(dy[t], lags(dy, t, m))
		}
	})
	if err != nil {
		return nil, &ForecastError{Reason: ForecastFitFailed, Message: "long autoregression: " + err.Error()}
	}
	innov := make([]float64, n)
	for t := m; t < n; t++ {
		innov[t] = dy[t] - predictLinear(longAR, lags(dy, t, m))
	}

	// Stage 2: regress on p lags of the series and q lags of the innovations.
	arma, err := ols("diff", p+q, func(add func(y float64, x []float64)) {
		for t := s; t < n; t++ {
			add(dy[t], append(lags(dy, t, p), lags(innov, t, q)...))
		}
	})
	if err != nil {
		return nil, &ForecastError{Reason: ForecastFitFailed, Message: "ARMA regression: " + err.Error()}
	}
	for _, c := range arma {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, &ForecastError{Reason: ForecastFitFailed, Message: "ARMA coefficients are not finite"}
		}
	}

	resid := make([]float64, n)
	copy(resid, innov)
	for t := s; t < n; t++ {
		resid[t] = dy[t] - predictLinear(arma, append(lags(dy, t, p), lags(resid, t, q)...))
	}

	diffs := append([]float64(nil), dy...)
	values := make([]float64, steps)
	level := series[len(series)-1]
	for h := 0; h < steps; h++ {
		t := len(diffs)
		next := predictLinear(arma, append(lags(diffs, t, p), lags(resid, t, q)...))
		diffs = append(diffs, next)
		resid = append(resid, 0)
		level += next
		if math.IsNaN(level) || math.IsInf(level, 0) {
			return nil, &ForecastError{Reason: ForecastFitFailed, Message: "forecast diverged"}
		}
		values[h] = level
	}
	return values, nil
}

// ols fits an intercept plus k regressors and returns [intercept, b1..bk].
func ols(observed string, k int, feed func(add func(y float64, x []float64))) ([]float64, error) {
	r := new(regression.Regression)
	r.SetObserved(observed)
	for i := 0; i < k; i++ {
		r.SetVar(i, fmt.Sprintf("x%d", i+1))
	}
	feed(func(y float64, x []float64) {
		r.Train(regression.DataPoint(y, x))
	})
	if err := r.Run(); err != nil {
		return nil, err
	}
	coeffs := r.GetCoeffs()
	if len(coeffs) != k+1 {
		return nil, fmt.Errorf("regression returned %d coefficients, want %d", len(coeffs), k+1)
	}
	return coeffs, nil
}

// lags returns v[t-1], v[t-2], ..., v[t-k].
func lags(v []float64, t, k int) []float64 {
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		out[i] = v[t-1-i]
	}
	return out
}

func predictLinear(coeffs, x []float64) float64 {
	y := coeffs[0]
	for i, v := range x {
		y += coeffs[i+1] * v
	}
	return y
}
