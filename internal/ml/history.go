// Package ml turns the hive reading history into a supervised feature table,
// trains and serves the bee-activity classifier, and forecasts the bee count.
package ml

import (
	"context"

	"github.com/smukkama/beehive-server/internal/hive"
)

// Order selects the timestamp ordering of a history query.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Query limits a history read. Limit <= 0 means no limit.
type Query struct {
	Order Order
	Limit int
}

// RecentSource returns the newest n readings in ascending time order.
type RecentSource interface {
	Recent(ctx context.Context, n int) ([]hive.SensorReading, error)
}

// History is the read side of the record store.
type History interface {
	RecentSource
	Readings(ctx context.Context, q Query) ([]hive.SensorReading, error)
	Count(ctx context.Context) (int, error)
}
