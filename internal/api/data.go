package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smukkama/beehive-server/internal/aggregation"
	"github.com/smukkama/beehive-server/internal/hive"
	"github.com/smukkama/beehive-server/internal/ml"
	"github.com/smukkama/beehive-server/internal/protocol"
)

const (
	defaultReadingsLimit = 100
	maxReadingsLimit     = 1000
	defaultHourlyWindow  = 24
	maxIngestBody        = 64 << 10
)

// ListReadings returns stored readings, newest first unless order=asc
func (c *Controller) ListReadings(ctx echo.Context) error {
	limit, err := intParam(ctx, "limit", defaultReadingsLimit)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid readings request", http.StatusBadRequest)
	}
	if limit < 1 || limit > maxReadingsLimit {
		err := fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidRequest, maxReadingsLimit)
		return c.HandleError(ctx, err, "Invalid readings request", http.StatusBadRequest)
	}

	q := ml.Query{Order: ml.Descending, Limit: limit}
	switch ctx.QueryParam("order") {
	case "", "desc":
	case "asc":
		q.Order = ml.Ascending
	default:
		err := fmt.Errorf("%w: order must be asc or desc", ErrInvalidRequest)
		return c.HandleError(ctx, err, "Invalid readings request", http.StatusBadRequest)
	}

	readings, err := c.readings.Readings(ctx.Request().Context(), q)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load readings", http.StatusInternalServerError)
	}
	if readings == nil {
		readings = []hive.SensorReading{}
	}
	return ctx.JSON(http.StatusOK, readings)
}

// Stats returns reading totals by activity label
func (c *Controller) Stats(ctx echo.Context) error {
	st, err := c.readings.Stats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load statistics", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, st)
}

// Hourly returns per-hour summaries for the last hours hours
func (c *Controller) Hourly(ctx echo.Context) error {
	hours, err := intParam(ctx, "hours", defaultHourlyWindow)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid hourly request", http.StatusBadRequest)
	}

	if hours < 1 || hours > aggregation.MaxHours {
		err := fmt.Errorf("%w: hours must be between 1 and %d", ErrInvalidRequest, aggregation.MaxHours)
		return c.HandleError(ctx, err, "Invalid hourly request", http.StatusBadRequest)
	}

	summaries, err := c.hourly.Aggregate(ctx.Request().Context(), hours)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to build hourly summaries", http.StatusInternalServerError)
	}
	if summaries == nil {
		summaries = []aggregation.HourlySummary{}
	}
	return ctx.JSON(http.StatusOK, summaries)
}

// IngestReading stores the posted reading. An empty body stores a simulated one.
func (c *Controller) IngestReading(ctx echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxIngestBody))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read request body", http.StatusBadRequest)
	}

	var r hive.SensorReading
	source := protocol.SourceAPI
	if len(bytes.TrimSpace(body)) == 0 {
		r = c.generator.Next(c.now())
		source = protocol.SourceSimulator
	} else {
		var data protocol.ReadingData
		if err := json.Unmarshal(body, &data); err != nil {
			return c.HandleError(ctx, fmt.Errorf("%w: %v", ErrInvalidRequest, err), "Invalid reading", http.StatusBadRequest)
		}
		r, err = data.Parse(c.now())
		if err != nil {
			return c.HandleError(ctx, fmt.Errorf("%w: %v", ErrInvalidRequest, err), "Invalid reading", http.StatusBadRequest)
		}
	}

	if err := c.ingest.Ingest(ctx.Request().Context(), &r, source); err != nil {
		return c.HandleError(ctx, err, "Failed to store reading", statusFor(err))
	}
	return ctx.JSON(http.StatusCreated, map[string]any{"ok": true, "data": r})
}

// Noise samples the instantaneous hive noise level
func (c *Controller) Noise(ctx echo.Context) error {
	level := c.generator.Noise()
	return ctx.JSON(http.StatusOK, map[string]any{
		"timestamp": c.now().UTC().Format(time.RFC3339),
		"noise_db":  level.NoiseDB,
		"status":    level.Status,
	})
}

func intParam(ctx echo.Context, name string, def int) (int, error) {
	s := ctx.QueryParam(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidRequest, name)
	}
	return n, nil
}
