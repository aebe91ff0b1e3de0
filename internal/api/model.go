package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/smukkama/beehive-server/internal/ml"
)

// predictRequest is the body of POST /api/predict
type predictRequest struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pollution   *float64 `json:"pollution"`
	NoiseDB     *float64 `json:"noise_db"`
}

func (r predictRequest) input() (ml.PredictInput, error) {
	switch {
	case r.Temperature == nil:
		return ml.PredictInput{}, fmt.Errorf("%w: temperature is required", ErrInvalidRequest)
	case r.Humidity == nil:
		return ml.PredictInput{}, fmt.Errorf("%w: humidity is required", ErrInvalidRequest)
	case r.Pollution == nil:
		return ml.PredictInput{}, fmt.Errorf("%w: pollution is required", ErrInvalidRequest)
	}
	return ml.PredictInput{
		Temperature: *r.Temperature,
		Humidity:    *r.Humidity,
		Pollution:   *r.Pollution,
		NoiseDB:     r.NoiseDB,
	}, nil
}

// Train runs a training pass and returns its metrics
func (c *Controller) Train(ctx echo.Context) error {
	model, err := c.models.Train(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Training failed", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, model.Metrics)
}

// Predict classifies the posted environmental conditions
func (c *Controller) Predict(ctx echo.Context) error {
	var req predictRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, fmt.Errorf("%w: %v", ErrInvalidRequest, err), "Invalid prediction request", http.StatusBadRequest)
	}
	in, err := req.input()
	if err != nil {
		return c.HandleError(ctx, err, "Invalid prediction request", http.StatusBadRequest)
	}

	res, err := c.predictor.Predict(ctx.Request().Context(), in)
	if err != nil {
		return c.HandleError(ctx, err, "Prediction failed", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, res)
}

// Forecast projects the active-bee count. Forecasting problems are part of
// the result, so this always answers 200 for a well-formed request.
func (c *Controller) Forecast(ctx echo.Context) error {
	steps := c.forecastSteps
	if s := ctx.QueryParam("steps"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return c.HandleError(ctx, fmt.Errorf("%w: steps must be an integer", ErrInvalidRequest), "Invalid forecast request", http.StatusBadRequest)
		}
		steps = n
	}
	return ctx.JSON(http.StatusOK, c.forecaster.Forecast(ctx.Request().Context(), steps))
}

// ModelStatus reports the lifecycle state and the active model's metrics
func (c *Controller) ModelStatus(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.models.Status())
}
