// Package api exposes the beehive monitor over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/beehive-server/internal/aggregation"
	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/internal/simulator"
)

// ErrInvalidRequest marks malformed request bodies and query parameters
var ErrInvalidRequest = errors.New("invalid request")

// ModelService trains and reports on the active model
type ModelService interface {
	Train(ctx context.Context) (*ml.TrainedModel, error)
	Status() ml.Status
}

// Predictor classifies new inputs
type Predictor interface {
	Predict(ctx context.Context, in ml.PredictInput) (*ml.PredictionResult, error)
}

// Forecaster projects the active-bee count
type Forecaster interface {
	Forecast(ctx context.Context, steps int) ml.ForecastResult
}

// ReadingStore is the read side of the record store
type ReadingStore interface {
	Readings(ctx context.Context, q ml.Query) ([]hive.SensorReading, error)
	Stats(ctx context.Context) (hive.Stats, error)
}

// Summarizer builds hourly summaries
type Summarizer interface {
	Aggregate(ctx context.Context, hours int) ([]aggregation.HourlySummary, error)
}

// Ingester stores new readings
type Ingester interface {
	Ingest(ctx context.Context, r *hive.SensorReading, source string) error
}

// Deps are the collaborators served by the API
type Deps struct {
	Models     ModelService
	Predictor  Predictor
	Forecaster Forecaster
	Readings   ReadingStore
	Hourly     Summarizer
	Ingest     Ingester
	Generator  *simulator.Generator

	// Gatherer backs /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	AllowedOrigins       []string
	DefaultForecastSteps int
	Logger               logrus.FieldLogger
}

// Controller owns the echo instance and the handlers
type Controller struct {
	Echo *echo.Echo

	models     ModelService
	predictor  Predictor
	forecaster Forecaster
	readings   ReadingStore
	hourly     Summarizer
	ingest     Ingester
	generator  *simulator.Generator

	forecastSteps int
	log           logrus.FieldLogger
	now           func() time.Time
}

// New creates the controller and registers all routes
func New(deps Deps) *Controller {
	if deps.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		deps.Logger = l
	}
	if deps.DefaultForecastSteps <= 0 {
		deps.DefaultForecastSteps = ml.DefaultForecastSteps
	}
	if deps.Generator == nil {
		deps.Generator = simulator.NewGenerator(time.Now().UnixNano())
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	c := &Controller{
		Echo:          e,
		models:        deps.Models,
		predictor:     deps.Predictor,
		forecaster:    deps.Forecaster,
		readings:      deps.Readings,
		hourly:        deps.Hourly,
		ingest:        deps.Ingest,
		generator:     deps.Generator,
		forecastSteps: deps.DefaultForecastSteps,
		log:           deps.Logger.WithField("component", "api"),
		now:           time.Now,
	}

	c.initMiddleware(deps.AllowedOrigins)
	c.initRoutes(deps.Gatherer)
	return c
}

func (c *Controller) initMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c.Echo.Use(middleware.Recover())
	c.Echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	c.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			c.log.WithFields(logrus.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			}).Debug("Request handled")
			return nil
		},
	}))
}

func (c *Controller) initRoutes(gatherer prometheus.Gatherer) {
	c.Echo.GET("/", c.Health)
	if gatherer != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	apiGroup := c.Echo.Group("/api")
	apiGroup.POST("/train", c.Train)
	apiGroup.POST("/predict", c.Predict)
	apiGroup.GET("/forecast", c.Forecast)
	apiGroup.GET("/model", c.ModelStatus)

	data := apiGroup.Group("/data")
	data.GET("/readings", c.ListReadings)
	data.GET("/stats", c.Stats)
	data.GET("/hourly", c.Hourly)
	data.POST("/ingest", c.IngestReading)
	data.GET("/noise", c.Noise)
}

// Health reports that the service is up
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true, "service": "beehive-api"})
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errStr := message
	if err != nil {
		errStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString(),
	}
}

// HandleError logs err and writes the error body
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	entry := c.log.WithFields(logrus.Fields{
		"correlation_id": resp.CorrelationID,
		"path":           ctx.Request().URL.Path,
		"method":         ctx.Request().Method,
		"code":           code,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if code >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Info(message)
	}

	return ctx.JSON(code, resp)
}

// statusFor maps error kinds to HTTP status codes. A missing model is a
// client error only when too few readings exist; store and save failures
// behind it stay server errors.
func statusFor(err error) int {
	var insufficient *ml.InsufficientDataError
	switch {
	case errors.As(err, &insufficient),
		errors.Is(err, hive.ErrInvalidReading),
		errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
